// Package store 는 원격 오브젝트 저장소 경계를 정의한다.
//
// shipper 는 HEAD(크기 조회)와 offset 지정 append 두 가지만 사용한다.
// multipart upload, versioning 같은 기능에는 의존하지 않는다.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

var (
	// ErrNotFound: 오브젝트가 아직 없다. Appender 는 크기 0 으로 취급한다.
	ErrNotFound = errors.New("store: object not found")

	// ErrOffsetMismatch: 요청한 offset 이 현재 오브젝트 크기와 다르다.
	// 다음 시도에서 HEAD 를 다시 하면 해결되므로 transient 로 본다.
	ErrOffsetMismatch = errors.New("store: write offset does not match object size")

	// ErrChecksumMismatch: 저장소가 계산한 체크섬이 보낸 값과 다르다.
	ErrChecksumMismatch = errors.New("store: checksum mismatch")
)

// ObjectStore 는 키 기반 바이트 오브젝트 저장소.
// bucket 은 구현체가 생성 시점에 고정한다.
type ObjectStore interface {
	// Head 는 현재 오브젝트 크기를 반환한다. 없으면 ErrNotFound.
	Head(ctx context.Context, key string) (int64, error)

	// PutAtOffset 은 offset 위치에 body 를 쓴다. 오브젝트가 없으면 (offset 0) 새로 만든다.
	PutAtOffset(ctx context.Context, key string, offset int64, body []byte, sum Checksum) error
}

// Checksum 은 append 할 payload 의 SHA-256.
type Checksum [sha256.Size]byte

func SumSHA256(b []byte) Checksum {
	return sha256.Sum256(b)
}

// Base64 는 S3 x-amz-checksum-sha256 헤더 형식.
func (c Checksum) Base64() string {
	return base64.StdEncoding.EncodeToString(c[:])
}

func (c Checksum) Hex() string {
	return hex.EncodeToString(c[:])
}

// FatalError 는 재시도해도 소용없는 에러 (권한, 버킷 없음, 잘못된 자격 증명 등).
// flush 는 이 에러를 받으면 배치를 버리고 경보 로그를 남긴다.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal 은 err 를 FatalError 로 감싼다. nil 이면 nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal 은 에러 체인 어딘가에 FatalError 가 있는지 확인한다.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// fatalCodes 는 S3 / MinIO 공통으로 복구 불가로 보는 에러 코드.
var fatalCodes = map[string]struct{}{
	"AccessDenied":          {},
	"AllAccessDisabled":     {},
	"NoSuchBucket":          {},
	"InvalidBucketName":     {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
}

func isFatalCode(code string) bool {
	_, ok := fatalCodes[code]
	return ok
}
