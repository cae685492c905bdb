// internal/shipper/router.go
package shipper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tracing-s3/internal/logger"
	"tracing-s3/internal/metrics"
	"tracing-s3/internal/model"

	"github.com/rs/zerolog"
)

var (
	ErrClosed         = errors.New("shipper: closed")
	ErrQueueFull      = errors.New("shipper: event queue full")
	ErrEnqueueTimeout = errors.New("shipper: enqueue timed out")
)

// OverflowPolicy 는 이벤트 채널이 가득 찼을 때의 동작.
type OverflowPolicy string

const (
	// DropNewest: 새로 들어온 레코드를 거절한다 (ErrQueueFull).
	DropNewest OverflowPolicy = "drop-newest"
	// DropOldest: 채널 맨 앞 레코드를 버리고 새 레코드를 넣는다.
	DropOldest OverflowPolicy = "drop-oldest"
	// Block: EnqueueTimeout 까지 기다린 뒤 ErrEnqueueTimeout.
	Block OverflowPolicy = "block"
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropNewest, DropOldest, Block:
		return p, nil
	case "":
		return DropNewest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// ------------------------------------------------------------
// Router
// ------------------------------------------------------------
//
// Router 는 이벤트 채널의 유일한 소비자이자 PartitionedBuffer 의 유일한 소유자다.
//
//   - 이벤트: Enqueue → events(chan, bounded) → Run 루프 → Serialize → buffer.Append
//   - 명령:   Scheduler 의 drain / requeue / rollover 는 commands 채널로만 들어온다.
//
// 버퍼 변경이 전부 Run goroutine 한 곳에서 일어나므로 "drain 된 batch 와 그 키",
// "requeue 와 그 사이 append" 의 순서가 Run 루프의 처리 순서로 정해진다.

type commandKind int

const (
	cmdDrain commandKind = iota
	cmdRequeue
	cmdRollover
)

type command struct {
	kind  commandKind
	batch Batch
	reply chan Batch
}

type RouterOptions struct {
	QueueSize       int
	Policy          OverflowPolicy
	EnqueueTimeout  time.Duration
	BufferSizeLimit int64

	// MaxPendingBytes 는 버퍼(채널 뒤쪽)에 쌓일 수 있는 최대 바이트.
	// 넘으면 가장 오래된 레코드부터 버린다. 0 이면 제한 없음.
	MaxPendingBytes int64
}

type Router struct {
	buffer  *PartitionedBuffer
	encoder *Encoder
	metrics *metrics.Metrics
	log     zerolog.Logger
	opts    RouterOptions

	events   chan model.Record
	commands chan command
	kick     chan struct{}

	mu     sync.RWMutex // closed / close(events) 보호
	closed bool

	ingested chan struct{} // events 가 닫히고 모두 소비되면 close
	stopped  chan struct{} // Run 종료 시 close
}

func NewRouter(buf *PartitionedBuffer, enc *Encoder, opts RouterOptions, m *metrics.Metrics) *Router {
	if opts.Policy == "" {
		opts.Policy = DropNewest
	}
	// 용량 0 채널에서는 DropOldest 의 버림/재시도 루프가 끝나지 않는다.
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Router{
		buffer:   buf,
		encoder:  enc,
		metrics:  m,
		log:      logger.Component("router"),
		opts:     opts,
		events:   make(chan model.Record, opts.QueueSize),
		commands: make(chan command),
		kick:     make(chan struct{}, 1),
		ingested: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Enqueue 는 레코드를 이벤트 채널에 넣는다. 호출자를 오래 막지 않는다
// (Block 정책이어도 EnqueueTimeout 이 상한).
func (r *Router) Enqueue(rec model.Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	select {
	case r.events <- rec:
		atomic.AddInt64(&r.metrics.RecordsEnqueuedTotal, 1)
		return nil
	default:
	}

	switch r.opts.Policy {
	case DropOldest:
		for {
			select {
			case <-r.events:
				atomic.AddInt64(&r.metrics.RecordsDroppedOldestTotal, 1)
			default:
			}
			select {
			case r.events <- rec:
				atomic.AddInt64(&r.metrics.RecordsEnqueuedTotal, 1)
				return nil
			default:
			}
		}

	case Block:
		timer := time.NewTimer(r.opts.EnqueueTimeout)
		defer timer.Stop()
		select {
		case r.events <- rec:
			atomic.AddInt64(&r.metrics.RecordsEnqueuedTotal, 1)
			return nil
		case <-timer.C:
			atomic.AddInt64(&r.metrics.RecordsRejectedQueueFullTotal, 1)
			return ErrEnqueueTimeout
		}

	default:
		atomic.AddInt64(&r.metrics.RecordsRejectedQueueFullTotal, 1)
		return ErrQueueFull
	}
}

// Close 는 이후 Enqueue 를 ErrClosed 로 거절하고 이벤트 채널을 닫는다.
// 채널에 남은 레코드는 Run 이 마저 버퍼로 옮긴다.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.events)
}

// Ingested 는 Close 이후 남은 레코드가 전부 버퍼로 옮겨지면 닫힌다.
func (r *Router) Ingested() <-chan struct{} { return r.ingested }

// Kick 은 버퍼 크기가 BufferSizeLimit 에 도달했을 때 신호를 받는다 (cap 1, 합쳐짐).
func (r *Router) Kick() <-chan struct{} { return r.kick }

// Run 은 ctx 가 취소될 때까지 이벤트와 명령을 처리한다.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.stopped)

	events := r.events
	for {
		select {
		case <-ctx.Done():
			return nil

		case rec, ok := <-events:
			if !ok {
				// 채널 종료 → 이후에는 명령만 처리
				events = nil
				close(r.ingested)
				continue
			}
			r.ingest(rec)

		case cmd := <-r.commands:
			r.handle(cmd)
		}
	}
}

func (r *Router) ingest(rec model.Record) {
	line, err := r.encoder.Serialize(rec)
	if err != nil {
		atomic.AddInt64(&r.metrics.RecordsMalformedTotal, 1)
		r.log.Debug().Err(err).Msg("drop malformed record")
		return
	}
	r.buffer.Append(line)
	r.enforcePendingCap()

	if limit := r.opts.BufferSizeLimit; limit > 0 && r.buffer.Size() >= limit {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// enforcePendingCap 은 원격 저장소 장애로 버퍼가 계속 커질 때 메모리 상한을 지킨다.
func (r *Router) enforcePendingCap() {
	if n := r.buffer.TrimOldest(r.opts.MaxPendingBytes); n > 0 {
		atomic.AddInt64(&r.metrics.RecordsDroppedPendingCapTotal, int64(n))
		r.log.Warn().
			Int("records", n).
			Int64("max_pending_bytes", r.opts.MaxPendingBytes).
			Msg("pending buffer over cap, dropped oldest records")
	}
}

func (r *Router) handle(cmd command) {
	switch cmd.kind {
	case cmdDrain:
		cmd.reply <- r.buffer.DrainForFlush()
	case cmdRequeue:
		r.buffer.Requeue(cmd.batch)
		r.enforcePendingCap()
		close(cmd.reply)
	case cmdRollover:
		r.buffer.RolloverPart()
		close(cmd.reply)
	}
}

// Drain 은 Run goroutine 에서 버퍼를 비우고 batch(+키)를 받아온다.
func (r *Router) Drain(ctx context.Context) (Batch, error) {
	reply := make(chan Batch, 1)
	if err := r.send(ctx, command{kind: cmdDrain, reply: reply}); err != nil {
		return Batch{}, err
	}
	// Run 은 명령을 받으면 즉시 응답한다.
	return <-reply, nil
}

// Requeue 는 batch 를 버퍼 앞쪽으로 되돌린다.
func (r *Router) Requeue(ctx context.Context, b Batch) error {
	reply := make(chan Batch)
	if err := r.send(ctx, command{kind: cmdRequeue, batch: b, reply: reply}); err != nil {
		return err
	}
	<-reply
	return nil
}

// Rollover 는 다음 part 로 넘긴다.
func (r *Router) Rollover(ctx context.Context) error {
	reply := make(chan Batch)
	if err := r.send(ctx, command{kind: cmdRollover, reply: reply}); err != nil {
		return err
	}
	<-reply
	return nil
}

func (r *Router) send(ctx context.Context, cmd command) error {
	select {
	case r.commands <- cmd:
		return nil
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) Len() int    { return r.buffer.Len() }
func (r *Router) Size() int64 { return r.buffer.Size() }
