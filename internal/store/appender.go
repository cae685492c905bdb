// internal/store/appender.go
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tracing-s3/internal/metrics"
)

// AppenderOptions
//
//   - Timeout: HEAD + PUT 한 번의 시도(attempt)에 주어지는 시간
//   - Retries: 최대 시도 횟수 (1 이면 재시도 없음)
//   - InitialBackoff / MaxBackoff: 시도 사이 대기 (지수 증가, 상한 적용)
type AppenderOptions struct {
	Timeout        time.Duration
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o AppenderOptions) withDefaults() AppenderOptions {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 1
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Second
	}
	return o
}

// Appender 는 원격 오브젝트 뒤에 payload 를 이어 붙이는 클라이언트.
//
// 한 번의 시도:
//  1. HEAD 로 현재 크기 조회 (없으면 0)
//  2. 그 크기를 offset 으로 SHA-256 체크섬과 함께 PUT
//  3. offset + len(payload) 반환
//
// 실패한 시도는 "아무것도 저장되지 않음" 으로 간주하고, 다음 시도에서 HEAD 부터 다시 한다.
type Appender struct {
	store   ObjectStore
	opts    AppenderOptions
	metrics *metrics.Metrics
}

func NewAppender(s ObjectStore, opts AppenderOptions, m *metrics.Metrics) *Appender {
	if m == nil {
		m = metrics.New()
	}
	return &Appender{
		store:   s,
		opts:    opts.withDefaults(),
		metrics: m,
	}
}

// AppendToObject
// -----------------------
// key 오브젝트 끝에 payload 를 append 하고 append 이후 전체 크기를 반환한다.
//   - transient 에러는 backoff 후 재시도 (최대 Retries 회)
//   - FatalError 는 즉시 반환
//   - ctx 가 끝나면 즉시 중단
func (a *Appender) AppendToObject(ctx context.Context, key string, payload []byte) (int64, error) {
	sum := SumSHA256(payload)

	var lastErr error
	backoff := a.opts.InitialBackoff

	for attempt := 1; attempt <= a.opts.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		total, err := a.appendOnce(ctx, key, payload, sum)
		if err == nil {
			return total, nil
		}
		lastErr = err
		atomic.AddInt64(&a.metrics.StorePutErrorsTotal, 1)

		if IsFatal(err) || attempt == a.opts.Retries {
			break
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > a.opts.MaxBackoff {
				backoff = a.opts.MaxBackoff
			}
		}
	}

	return 0, fmt.Errorf("append %s: %w", key, lastErr)
}

func (a *Appender) appendOnce(ctx context.Context, key string, payload []byte, sum Checksum) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	offset, err := a.store.Head(ctx2, key)
	if errors.Is(err, ErrNotFound) {
		offset = 0
	} else if err != nil {
		return 0, fmt.Errorf("head: %w", err)
	}

	if err := a.store.PutAtOffset(ctx2, key, offset, payload, sum); err != nil {
		return 0, fmt.Errorf("put at offset %d: %w", offset, err)
	}
	return offset + int64(len(payload)), nil
}
