package blob

import (
	"context"
	"testing"
)

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestPutRejectsEmptyKeyAndPayload(t *testing.T) {
	store, err := NewS3Store(context.Background(), Config{
		Bucket:    "fieldsync-test",
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	if _, err := store.Put(context.Background(), "", []byte("payload"), "image/jpeg"); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := store.Put(context.Background(), "project/1/photos/1-a.jpg", nil, "image/jpeg"); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
