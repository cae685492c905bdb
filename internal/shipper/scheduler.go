// internal/shipper/scheduler.go
package shipper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tracing-s3/internal/logger"
	"tracing-s3/internal/metrics"
	"tracing-s3/internal/store"

	"github.com/rs/zerolog"
)

// State 는 Scheduler 의 현재 단계.
type State int32

const (
	StateWaiting State = iota
	StateFlushing
)

func (s State) String() string {
	if s == StateFlushing {
		return "flushing"
	}
	return "waiting"
}

// Outcome 은 flush 1회의 결과 분류.
type Outcome int

const (
	// Idle: 보낼 레코드가 없었다.
	Idle Outcome = iota
	// Delivered: append 확인됨.
	Delivered
	// Transient: 재시도 후에도 실패, batch 는 버퍼 앞쪽으로 되돌아갔다.
	Transient
	// Fatal: 복구 불가 에러, batch 는 버려졌다.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "idle"
	}
}

type FlushResult struct {
	Outcome    Outcome
	Key        string
	Records    int
	Bytes      int
	TotalSize  int64 // append 후 원격 오브젝트 크기
	RolledOver bool
	RetryIn    time.Duration // Transient 일 때 다음 자동 flush 까지의 backoff
	Err        error
}

// BufferOwner 는 Scheduler 가 버퍼를 다루는 경로. 보통 *Router.
type BufferOwner interface {
	Drain(ctx context.Context) (Batch, error)
	Requeue(ctx context.Context, b Batch) error
	Rollover(ctx context.Context) error
	Len() int
	Size() int64
}

// RemoteAppender 는 *store.Appender 가 구현한다.
type RemoteAppender interface {
	AppendToObject(ctx context.Context, key string, payload []byte) (int64, error)
}

// MaxRetryBackoff 는 연속 transient 실패 시 flush 간격의 상한.
// FlushInterval 이 이보다 길면 FlushInterval 이 상한이다.
const MaxRetryBackoff = 30 * time.Second

type SchedulerOptions struct {
	FlushInterval   time.Duration
	BufferSizeLimit int64
	ObjectSizeLimit int64
}

// Scheduler 는 FlushInterval 마다 (또는 Router 의 size kick 을 받으면)
// 깨어나서 보낼 것이 있을 때만 Flush 를 실행한다.
//
// Flush 는 flushMu 로 한 번에 하나만 돈다. 종료 시 마지막 flush 도 같은 경로를 쓴다.
type Scheduler struct {
	owner    BufferOwner
	appender RemoteAppender
	encoder  *Encoder
	opts     SchedulerOptions
	kick     <-chan struct{}
	metrics  *metrics.Metrics
	log      zerolog.Logger

	flushMu  sync.Mutex
	failures int // 연속 transient 실패 수 (flushMu)
	retryAt  atomic.Int64
	state    atomic.Int32
}

func NewScheduler(owner BufferOwner, appender RemoteAppender, enc *Encoder, opts SchedulerOptions, kick <-chan struct{}, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		owner:    owner,
		appender: appender,
		encoder:  enc,
		opts:     opts,
		kick:     kick,
		metrics:  m,
		log:      logger.Component("scheduler"),
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run 은 ctx 가 취소될 때까지 tick 루프를 돈다.
// flush 실패는 tick 안에서 재시도하지 않는다. 되돌아간 batch 는 backoff 가 끝난 뒤
// 다음 tick 에 다시 나간다. backoff 중에는 size kick 도 무시한다.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.opts.FlushInterval)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		d := s.opts.FlushInterval
		if wait := s.RetryIn(time.Now()); wait > d {
			d = wait
		}
		timer.Reset(d)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.kick:
		}

		if s.RetryIn(time.Now()) > 0 {
			reset()
			continue
		}
		if s.due() {
			s.Flush(ctx)
		}
		reset()
	}
}

// RetryIn 은 transient 실패 뒤 다음 flush 까지 남은 시간. backoff 중이 아니면 0.
func (s *Scheduler) RetryIn(now time.Time) time.Duration {
	at := s.retryAt.Load()
	if at == 0 {
		return 0
	}
	if d := time.Unix(0, at).Sub(now); d > 0 {
		return d
	}
	return 0
}

// retryBackoff 는 failures 번 연속 실패했을 때의 대기 시간.
// FlushInterval, 2배, 4배 ... 로 늘다가 max(MaxRetryBackoff, FlushInterval) 에서 멈춘다.
func retryBackoff(interval time.Duration, failures int) time.Duration {
	if interval <= 0 || failures < 1 {
		return 0
	}
	limit := max(MaxRetryBackoff, interval)
	d := interval
	for i := 1; i < failures && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// settle 은 flush 결과로 backoff 상태를 갱신한다. flushMu 를 잡은 상태에서 호출한다.
func (s *Scheduler) settle(res FlushResult) FlushResult {
	if res.Outcome == Transient {
		s.failures++
		wait := retryBackoff(s.opts.FlushInterval, s.failures)
		s.retryAt.Store(time.Now().Add(wait).UnixNano())
		res.RetryIn = wait
		return res
	}
	if res.Err == nil || res.Outcome == Fatal {
		s.failures = 0
		s.retryAt.Store(0)
	}
	return res
}

// due: 레코드가 있거나 크기가 임계값 이상.
func (s *Scheduler) due() bool {
	if s.owner.Len() > 0 {
		return true
	}
	return s.opts.BufferSizeLimit > 0 && s.owner.Size() >= s.opts.BufferSizeLimit
}

// Flush 는 drain → encode → append → settle 을 한 번 수행한다.
// 직접 호출하면 backoff 와 상관없이 바로 실행한다.
func (s *Scheduler) Flush(ctx context.Context) FlushResult {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.state.Store(int32(StateFlushing))
	defer s.state.Store(int32(StateWaiting))

	return s.settle(s.flush(ctx))
}

func (s *Scheduler) flush(ctx context.Context) FlushResult {
	// ------------------------------------------------------------
	// 1) drain (batch 와 키를 한 번에)
	// ------------------------------------------------------------
	batch, err := s.owner.Drain(ctx)
	if err != nil {
		return FlushResult{Outcome: Idle, Err: err}
	}
	if batch.Len() == 0 {
		return FlushResult{Outcome: Idle, Key: batch.Key}
	}

	res := FlushResult{Key: batch.Key, Records: batch.Len()}

	// settle 단계는 호출자 ctx 가 끝나도 버퍼에 반영돼야 한다.
	settleCtx := context.WithoutCancel(ctx)

	// ------------------------------------------------------------
	// 2) wire body
	// ------------------------------------------------------------
	body, err := s.encoder.EncodeBody(batch)
	if err != nil {
		return s.drop(res, err)
	}
	res.Bytes = len(body)

	// ------------------------------------------------------------
	// 3) append
	// ------------------------------------------------------------
	total, err := s.appender.AppendToObject(ctx, batch.Key, body)
	if err != nil {
		if store.IsFatal(err) {
			return s.drop(res, err)
		}
		res.Outcome = Transient
		res.Err = err
		atomic.AddInt64(&s.metrics.FlushTransientErrorsTotal, 1)
		if rqErr := s.owner.Requeue(settleCtx, batch); rqErr != nil {
			s.log.Error().Err(rqErr).Str("key", batch.Key).Int("records", batch.Len()).Msg("requeue failed, records lost")
			return res
		}
		s.log.Warn().Err(err).Str("key", batch.Key).Int("records", batch.Len()).Msg("flush failed, batch requeued")
		return res
	}

	// ------------------------------------------------------------
	// 4) confirmed (+ rollover)
	// ------------------------------------------------------------
	res.Outcome = Delivered
	res.TotalSize = total
	atomic.AddInt64(&s.metrics.FlushesTotal, 1)
	atomic.AddInt64(&s.metrics.FlushBytesTotal, int64(len(body)))
	atomic.AddInt64(&s.metrics.FlushRecordsTotal, int64(batch.Len()))

	if total > s.opts.ObjectSizeLimit {
		if err := s.owner.Rollover(settleCtx); err != nil {
			s.log.Error().Err(err).Str("key", batch.Key).Msg("rollover failed")
		} else {
			res.RolledOver = true
			atomic.AddInt64(&s.metrics.RolloversTotal, 1)
			s.log.Info().Str("key", batch.Key).Int64("size", total).Msg("object size limit reached, rolled over")
		}
	}

	s.log.Debug().
		Str("key", batch.Key).
		Int("records", batch.Len()).
		Int("bytes", len(body)).
		Int64("total", total).
		Msg("flushed")

	return res
}

func (s *Scheduler) drop(res FlushResult, err error) FlushResult {
	res.Outcome = Fatal
	res.Err = err
	atomic.AddInt64(&s.metrics.FlushFatalErrorsTotal, 1)
	atomic.AddInt64(&s.metrics.FlushRecordsDroppedTotal, int64(res.Records))
	s.log.Error().Err(err).Str("key", res.Key).Int("records", res.Records).Msg("flush failed permanently, batch dropped")
	return res
}
