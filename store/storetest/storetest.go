// Package storetest holds the behaviour every store.Backend must share.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"git.wyat.me/zuul-gateway/object"
	"git.wyat.me/zuul-gateway/store"
)

const helloSHA = "ce013625030ba8dba906f756967f9e9ca394464a"

// Run exercises backend with the hello blob. The backend must start empty.
func Run(t *testing.T, backend store.Backend) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, backend) })
	t.Run("Exists", func(t *testing.T) { testExists(t, backend) })
	t.Run("DuplicatePut", func(t *testing.T) { testDuplicatePut(t, backend) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, backend) })
}

func hello(t *testing.T) ([]byte, string) {
	t.Helper()
	compressed, sha, err := object.Serialize(&object.Object{
		Type: object.TypeBlob,
		Data: []byte("hello\n"),
	})
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if sha != helloSHA {
		t.Fatalf("SHA mismatch: got %s, want %s", sha, helloSHA)
	}
	return compressed, sha
}

func testPutAndGet(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	compressed, sha := hello(t)

	if err := backend.Put(ctx, sha, compressed); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := backend.Get(ctx, sha)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, compressed) {
		t.Errorf("Get returned different bytes than were stored")
	}

	obj, err := object.Deserialize(got)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if obj.Type != object.TypeBlob || string(obj.Data) != "hello\n" {
		t.Errorf("unexpected object: %s %q", obj.Type, obj.Data)
	}

	_, err = backend.Get(ctx, "0000000000000000000000000000000000000000")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for fake SHA, got %v", err)
	}
}

func testExists(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	compressed, sha := hello(t)

	if err := backend.Put(ctx, sha, compressed); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := backend.Exists(ctx, sha)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist after Put")
	}

	exists, err = backend.Exists(ctx, "0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected fake SHA to not exist")
	}
}

func testDuplicatePut(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	compressed, sha := hello(t)

	if err := backend.Put(ctx, sha, compressed); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := backend.Put(ctx, sha, compressed); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := backend.Get(ctx, sha)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, compressed) {
		t.Error("duplicate Put changed the stored bytes")
	}
}

func testDelete(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	compressed, sha := hello(t)

	if err := backend.Put(ctx, sha, compressed); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := backend.Delete(ctx, sha); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := backend.Exists(ctx, sha)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected object to be gone after Delete")
	}

	if err := backend.Delete(ctx, sha); err != nil {
		t.Errorf("deleting a missing object should not fail: %v", err)
	}
}
