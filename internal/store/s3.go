// internal/store/s3.go
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config 는 S3 client 생성에 필요한 값.
// AccessKeyID / SecretAccessKey 가 둘 다 있으면 static credentials 를,
// 아니면 SDK default chain (env, shared config, IMDS ...) 을 쓴다.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // 비어있지 않으면 custom endpoint + path-style
	Bucket          string
}

// S3API 는 S3Store 가 쓰는 s3.Client 메서드 부분집합. 테스트에서 fake 로 바꿔 끼운다.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store 는 S3 append(WriteOffsetBytes) 기반 ObjectStore.
// offset append 를 지원하는 버킷(S3 Express One Zone directory bucket 등)이 필요하다.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Client 는 region / credentials / endpoint 를 반영한 s3.Client 를 만든다.
//
// SDK retry 는 1회로 고정한다. 재시도는 Appender 가 애플리케이션 레벨에서만 한다
// (두 레벨이 겹치면 flush 지연을 예측할 수 없다).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsCfgLib.LoadOptions) error{
		awsCfgLib.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsCfgLib.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Head(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classifyS3Error(err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// PutAtOffset
// ---------
// offset 이 0 이면 일반 PutObject (오브젝트 생성),
// 그 외에는 WriteOffsetBytes 를 지정한 append.
// 두 경우 모두 SHA-256 체크섬을 함께 보내서 저장소가 payload 를 검증하게 한다.
func (s *S3Store) PutAtOffset(ctx context.Context, key string, offset int64, body []byte, sum Checksum) error {
	in := &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ContentLength:     aws.Int64(int64(len(body))),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(sum.Base64()),
	}
	if offset > 0 {
		in.WriteOffsetBytes = aws.Int64(offset)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return classifyS3Error(err)
	}
	return nil
}

// classifyS3Error 는 SDK 에러를 store 에러 체계로 옮긴다.
//   - 404 / NotFound / NoSuchKey → ErrNotFound
//   - 권한 / 버킷 / 자격증명 → FatalError
//   - offset / 체크섬 불일치 → 해당 sentinel (transient)
//   - 그 외 → 그대로 (transient)
func classifyS3Error(err error) error {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return ErrNotFound
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	code := apiErr.ErrorCode()
	switch {
	case code == "NotFound" || code == "NoSuchKey":
		return ErrNotFound
	case isFatalCode(code):
		return Fatal(err)
	case code == "InvalidWriteOffset" || code == "PreconditionFailed":
		return fmt.Errorf("%w: %w", ErrOffsetMismatch, err)
	case code == "BadDigest" || code == "XAmzContentChecksumMismatch":
		return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
	}
	return err
}
