package memory

import (
	"context"
	"testing"

	"git.wyat.me/zuul-gateway/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	s := New()
	defer s.Close()

	storetest.Run(t, s)
}

func TestPutCopiesInput(t *testing.T) {
	s := New()
	data := []byte("compressed")

	if err := s.Put(context.Background(), "sha", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data[0] = 'X'

	got, err := s.Get(context.Background(), "sha")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "compressed" {
		t.Errorf("stored bytes were aliased: %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
}
