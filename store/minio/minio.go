package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"git.wyat.me/zuul-gateway/store"
)

type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object key, e.g. "objects/".
	Prefix string
	UseSSL bool
}

func New(ctx context.Context, opts Options) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// key lays objects out like a loose object directory: <prefix><2>/<38>.
func (s *MinioStore) key(sha string) string {
	if len(sha) < 3 {
		return s.prefix + sha
	}
	return s.prefix + sha[:2] + "/" + sha[2:]
}

func (s *MinioStore) Put(ctx context.Context, sha string, compressed []byte) error {
	exists, err := s.Exists(ctx, sha)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(
		ctx,
		s.bucket,
		s.key(sha),
		bytes.NewReader(compressed),
		int64(len(compressed)),
		minio.PutObjectOptions{ContentType: "application/x-git-loose-object"},
	)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, sha string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(sha), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	compressed, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, sha)
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return compressed, nil
}

func (s *MinioStore) Exists(ctx context.Context, sha string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(sha), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (s *MinioStore) Delete(ctx context.Context, sha string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(sha), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Flush removes every object under the store prefix. Used by tests to avoid
// leaving data in the bucket.
func (s *MinioStore) Flush(ctx context.Context) error {
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		opts := minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}
		for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
			if obj.Err != nil {
				return
			}
			objectsCh <- obj
		}
	}()

	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("remove object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

func (s *MinioStore) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
