package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b"}); err == nil {
		t.Fatal("expected error when bucket is empty")
	}

	client, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: "pixelbook"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Bucket() != "pixelbook" {
		t.Fatalf("expected bucket pixelbook, got %s", client.Bucket())
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatal("expected NoSuchKey to be treated as not found")
	}
	if isNotFound(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Fatal("expected AccessDenied to be a real error")
	}
	if isNotFound(errors.New("connection refused")) {
		t.Fatal("expected plain errors to be real errors")
	}
}
