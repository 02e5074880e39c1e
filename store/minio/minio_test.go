package minio

import (
	"context"
	"os"
	"testing"

	"git.wyat.me/zuul-gateway/store/storetest"
)

func TestMinioStore(t *testing.T) {
	store := newTestStore(t)

	storetest.Run(t, store)
}

func TestKeyLayout(t *testing.T) {
	s := &MinioStore{prefix: "objects/"}

	got := s.key("ce013625030ba8dba906f756967f9e9ca394464a")
	const want = "objects/ce/013625030ba8dba906f756967f9e9ca394464a"
	if got != want {
		t.Errorf("key: got %s, want %s", got, want)
	}
}

func newTestStore(t *testing.T) *MinioStore {
	t.Helper()

	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set, skipping minio tests")
	}

	ctx := context.Background()
	store, err := New(ctx, Options{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-git-objects",
		Prefix:    t.Name() + "/",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Flush(context.Background()); err != nil {
			t.Errorf("Flush failed: %v", err)
		}
	})

	return store
}
