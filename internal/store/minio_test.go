package store

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestNewMinIOStore_InvalidEndpoint(t *testing.T) {
	cfg := MinIOConfig{
		Endpoint:  "invalid-endpoint:port:scheme",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "test-bucket",
	}

	_, err := NewMinIOStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestClassifyMinIOError(t *testing.T) {
	assert.ErrorIs(t, classifyMinIOError(minio.ErrorResponse{Code: "NoSuchKey"}), ErrNotFound)
	assert.True(t, IsFatal(classifyMinIOError(minio.ErrorResponse{Code: "AccessDenied"})))
	assert.False(t, IsFatal(classifyMinIOError(errors.New("timeout"))))
}
