// internal/shipper/shipper.go
package shipper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"tracing-s3/internal/logger"
	"tracing-s3/internal/metrics"
	"tracing-s3/internal/model"

	"github.com/rs/zerolog"
)

// 설정 한도
const (
	MaxObjectSizeLimit int64 = 50_000 << 20 // 50,000 MB
	MaxBufferSizeLimit int64 = 50_000 << 10 // 50,000 KB

	DefaultQueueSize       = 65536
	DefaultEnqueueTimeout  = 100 * time.Millisecond
	DefaultShutdownTimeout = 15 * time.Second

	// MaxPendingBytes 를 비워두면 BufferSizeLimit 의 이 배수
	DefaultPendingFactor = 64

	// 종료 시 마지막 flush 재시도 횟수
	finalFlushAttempts = 3
)

// Options 는 shipper 하나의 동작 설정.
type Options struct {
	Prefix  string
	Postfix string

	ObjectSizeLimit int64         // 원격 오브젝트가 이 크기를 넘으면 다음 part
	FlushInterval   time.Duration // flush tick 주기
	BufferSizeLimit int64         // 버퍼가 이 크기에 도달하면 tick 을 기다리지 않고 flush
	MaxPendingBytes int64         // 원격 장애로 쌓일 수 있는 버퍼 상한. 넘으면 오래된 것부터 버림

	QueueSize       int
	OverflowPolicy  OverflowPolicy
	EnqueueTimeout  time.Duration
	Compress        bool
	ShutdownTimeout time.Duration

	// 테스트용. 비워두면 SystemClock / NewNonce.
	Clock Clock
	Nonce string
}

func (o Options) withDefaults() Options {
	if o.QueueSize == 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.OverflowPolicy == "" {
		o.OverflowPolicy = DropNewest
	}
	if o.EnqueueTimeout == 0 {
		o.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.MaxPendingBytes == 0 {
		o.MaxPendingBytes = o.BufferSizeLimit * DefaultPendingFactor
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Nonce == "" {
		o.Nonce = NewNonce()
	}
	return o
}

// Validate 는 goroutine 을 띄우기 전에 설정 범위를 검사한다.
func (o Options) Validate() error {
	var errs []error
	if o.ObjectSizeLimit < 1 || o.ObjectSizeLimit > MaxObjectSizeLimit {
		errs = append(errs, fmt.Errorf("object size limit %d out of range [1, %d]", o.ObjectSizeLimit, MaxObjectSizeLimit))
	}
	if o.BufferSizeLimit < 1 || o.BufferSizeLimit > MaxBufferSizeLimit {
		errs = append(errs, fmt.Errorf("buffer size limit %d out of range [1, %d]", o.BufferSizeLimit, MaxBufferSizeLimit))
	}
	if o.MaxPendingBytes < o.BufferSizeLimit {
		errs = append(errs, fmt.Errorf("max pending bytes %d must be at least buffer size limit %d", o.MaxPendingBytes, o.BufferSizeLimit))
	}
	if o.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush interval must be positive, got %s", o.FlushInterval))
	}
	if o.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue size must not be negative, got %d", o.QueueSize))
	}
	if _, err := ParseOverflowPolicy(string(o.OverflowPolicy)); err != nil {
		errs = append(errs, err)
	}
	if o.OverflowPolicy == Block && o.EnqueueTimeout < 0 {
		errs = append(errs, fmt.Errorf("enqueue timeout must not be negative, got %s", o.EnqueueTimeout))
	}
	return errors.Join(errs...)
}

// Sink 는 레코드를 shipper 로 넘기는 유일한 통로.
// 호출 즉시 반환하며, 레코드 소유권은 shipper 로 넘어간다.
type Sink func(model.Record) error

// Shipper 는 전체 파이프라인이다.
//
//	Enqueue → Router(events) → PartitionedBuffer
//	Scheduler(tick / kick) → Router.Drain → Encoder → RemoteAppender → settle
//
// Shutdown 순서:
//  1. Router.Close: 이후 Enqueue 는 ErrClosed
//  2. 이벤트 채널에 남은 레코드가 버퍼로 들어갈 때까지 대기
//  3. Scheduler 정지
//  4. 마지막 flush (ShutdownTimeout)
//  5. Supervisor 취소 + Wait
type Shipper struct {
	opts      Options
	metrics   *metrics.Metrics
	buffer    *PartitionedBuffer
	router    *Router
	scheduler *Scheduler
	log       zerolog.Logger

	supervisor    *Supervisor
	stopScheduler context.CancelFunc

	started  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New 는 설정을 검사하고 구성요소를 만든다. goroutine 은 Start 에서 띄운다.
func New(opts Options, appender RemoteAppender, m *metrics.Metrics) (*Shipper, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shipper options: %w", err)
	}
	if appender == nil {
		return nil, errors.New("invalid shipper options: nil appender")
	}
	if m == nil {
		m = metrics.New()
	}

	buf := NewPartitionedBuffer(opts.Prefix, opts.Postfix, opts.Nonce, opts.Clock)
	enc := NewEncoder(opts.Compress)
	router := NewRouter(buf, enc, RouterOptions{
		QueueSize:       opts.QueueSize,
		Policy:          opts.OverflowPolicy,
		EnqueueTimeout:  opts.EnqueueTimeout,
		BufferSizeLimit: opts.BufferSizeLimit,
		MaxPendingBytes: opts.MaxPendingBytes,
	}, m)
	sched := NewScheduler(router, appender, enc, SchedulerOptions{
		FlushInterval:   opts.FlushInterval,
		BufferSizeLimit: opts.BufferSizeLimit,
		ObjectSizeLimit: opts.ObjectSizeLimit,
	}, router.Kick(), m)

	return &Shipper{
		opts:      opts,
		metrics:   m,
		buffer:    buf,
		router:    router,
		scheduler: sched,
		log:       logger.Component("shipper"),
	}, nil
}

// Start 는 router / scheduler goroutine 을 띄운다. 두 번째 호출부터는 무시.
func (s *Shipper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.supervisor = NewSupervisor(ctx)

	schedCtx, cancel := context.WithCancel(s.supervisor.Context())
	s.stopScheduler = cancel

	s.supervisor.Go("ingestion-router", s.router.Run)
	s.supervisor.Go("flush-scheduler", func(context.Context) error {
		return s.scheduler.Run(schedCtx)
	})

	s.log.Info().
		Str("key", s.buffer.CurrentName()).
		Dur("flush_interval", s.opts.FlushInterval).
		Int64("object_size_limit", s.opts.ObjectSizeLimit).
		Int64("buffer_size_limit", s.opts.BufferSizeLimit).
		Int64("max_pending_bytes", s.opts.MaxPendingBytes).
		Str("overflow_policy", string(s.opts.OverflowPolicy)).
		Msg("shipper started")
}

// Enqueue 는 Sink 를 구현한다.
func (s *Shipper) Enqueue(rec model.Record) error {
	return s.router.Enqueue(rec)
}

// Writer 는 zerolog 등 JSON 한 줄 로그를 쓰는 logger 의 출력으로 쓸 수 있다.
func (s *Shipper) Writer() io.Writer { return NewWriter(s.Enqueue) }

// Flush 는 tick 을 기다리지 않고 flush 를 한 번 실행한다.
func (s *Shipper) Flush(ctx context.Context) FlushResult {
	return s.scheduler.Flush(ctx)
}

// CurrentKey 는 다음 flush 가 쓸 오브젝트 키.
func (s *Shipper) CurrentKey() string { return s.buffer.CurrentName() }

// Pending 은 버퍼에 남은 레코드 수.
func (s *Shipper) Pending() int { return s.buffer.Len() }

func (s *Shipper) State() State { return s.scheduler.State() }

func (s *Shipper) Tasks() []string {
	if s.supervisor == nil {
		return nil
	}
	return s.supervisor.Tasks()
}

func (s *Shipper) Metrics() *metrics.Metrics { return s.metrics }

// Shutdown 은 남은 레코드를 마지막으로 flush 하고 goroutine 을 모두 정리한다.
// ctx 와 ShutdownTimeout 중 먼저 끝나는 쪽이 상한이다.
func (s *Shipper) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.router.Close()
		if !s.started.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()

		// 1) 채널에 남은 레코드 → 버퍼
		select {
		case <-s.router.Ingested():
		case <-s.router.stopped:
		case <-ctx.Done():
			s.log.Warn().Msg("timed out waiting for queued records")
		}

		// 2) tick 중단. 진행 중인 flush 는 flushMu 로 끝날 때까지 기다린다.
		s.stopScheduler()

		// 3) 마지막 flush
		for i := 0; i < finalFlushAttempts && s.buffer.Len() > 0 && ctx.Err() == nil; i++ {
			res := s.scheduler.Flush(ctx)
			if res.Outcome == Fatal || res.Outcome == Idle {
				break
			}
		}
		if n := s.buffer.Len(); n > 0 {
			s.log.Error().Int("records", n).Msg("shutdown with unflushed records")
		}

		// 4) router 종료
		s.supervisor.Cancel()
		s.stopErr = s.supervisor.Wait()

		s.log.Info().Msg("shipper stopped")
	})
	return s.stopErr
}
