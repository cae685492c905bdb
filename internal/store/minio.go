package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig 는 MinIO 접속 설정.
type MinIOConfig struct {
	Endpoint  string // host:port (스킴 없이)
	AccessKey string
	SecretKey string
	Bucket    string // 없으면 NewMinIOStore 가 만든다
	UseSSL    bool   // true 면 https
}

// MinIOStore 는 로컬 개발용 S3 호환 ObjectStore.
//
// MinIO 는 offset append 를 지원하지 않으므로 기존 오브젝트를 읽어서
// 뒤에 body 를 붙인 뒤 통째로 다시 쓴다 (read-modify-write).
// 오브젝트 크기가 ObjectSizeLimit 으로 제한되므로 개발 환경에서는 문제 없다.
type MinIOStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinIOStore 는 client 를 만들고 버킷이 없으면 생성한다.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOStore{client: client, bucketName: cfg.Bucket}, nil
}

func (m *MinIOStore) Head(ctx context.Context, key string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, classifyMinIOError(err)
	}
	return info.Size, nil
}

func (m *MinIOStore) PutAtOffset(ctx context.Context, key string, offset int64, body []byte, sum Checksum) error {
	if SumSHA256(body) != sum {
		return ErrChecksumMismatch
	}

	var existing []byte
	if offset > 0 {
		obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
		if err != nil {
			return classifyMinIOError(err)
		}
		existing, err = io.ReadAll(obj)
		obj.Close()
		if err != nil {
			return classifyMinIOError(err)
		}
	}
	if int64(len(existing)) != offset {
		return ErrOffsetMismatch
	}

	full := make([]byte, 0, len(existing)+len(body))
	full = append(full, existing...)
	full = append(full, body...)

	_, err := m.client.PutObject(ctx, m.bucketName, key, bytes.NewReader(full), int64(len(full)), minio.PutObjectOptions{
		ContentType:    "application/x-ndjson",
		SendContentMd5: true,
		UserMetadata:   map[string]string{"Last-Append-Sha256": sum.Hex()},
	})
	if err != nil {
		return classifyMinIOError(err)
	}
	return nil
}

func classifyMinIOError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NotFound":
		return ErrNotFound
	case isFatalCode(resp.Code):
		return Fatal(err)
	}
	return err
}
