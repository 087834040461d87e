package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestPutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := New()
	payload := []byte("record")
	uri, err := store.PutObject(context.Background(), "audit/job.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://audit/job.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	stored, ok := store.Get("audit/job.json")
	if !ok || string(stored) != "record" {
		t.Fatalf("expected stored record, got %q (ok=%v)", stored, ok)
	}
	stored[0] = 'R'
	again, _ := store.Get("audit/job.json")
	if string(again) != "record" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
}
