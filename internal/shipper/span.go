package shipper

import (
	"sync"
	"time"

	"tracing-s3/internal/model"
)

// Span 은 작업 구간 하나의 생명주기(new → enter/exit … → close)를 레코드로 남긴다.
//
//	sp := shipper.StartSpan(sink, shipper.SystemClock, "info", "handle_request", fields)
//	sp.Enter()
//	...
//	sp.Exit()
//	sp.Close()
//
// enter/exit/close 레코드의 event 에는 누적 time.busy / time.idle (ns) 가 들어간다.
//   - busy: enter ~ exit 구간 합
//   - idle: 그 밖의 구간 합 (생성 ~ 첫 enter, exit ~ 다음 enter, 마지막 exit ~ close)
type Span struct {
	sink   Sink
	clock  Clock
	level  string
	name   string
	fields map[string]any

	mu      sync.Mutex
	busy    time.Duration
	idle    time.Duration
	last    time.Time
	entered bool
	closed  bool
}

const (
	FieldSpan     = "span"
	FieldTimeBusy = "time.busy"
	FieldTimeIdle = "time.idle"
)

func StartSpan(sink Sink, clock Clock, level, name string, fields map[string]any) *Span {
	if clock == nil {
		clock = SystemClock
	}
	sp := &Span{
		sink:   sink,
		clock:  clock,
		level:  level,
		name:   name,
		fields: fields,
	}
	now := clock()
	sp.last = now
	sp.emit(now, "new", false)
	return sp
}

func (sp *Span) Enter() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed || sp.entered {
		return
	}
	now := sp.clock()
	sp.idle += now.Sub(sp.last)
	sp.last = now
	sp.entered = true
	sp.emit(now, "enter", true)
}

func (sp *Span) Exit() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed || !sp.entered {
		return
	}
	now := sp.clock()
	sp.busy += now.Sub(sp.last)
	sp.last = now
	sp.entered = false
	sp.emit(now, "exit", true)
}

// Close 는 한 번만 레코드를 남긴다. enter 상태면 exit 처리 후 닫는다.
func (sp *Span) Close() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return
	}
	now := sp.clock()
	if sp.entered {
		sp.busy += now.Sub(sp.last)
		sp.entered = false
	} else {
		sp.idle += now.Sub(sp.last)
	}
	sp.last = now
	sp.closed = true
	sp.emit(now, "close", true)
}

// Busy / Idle 은 지금까지 누적값.
func (sp *Span) Busy() time.Duration {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.busy
}

func (sp *Span) Idle() time.Duration {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.idle
}

func (sp *Span) emit(now time.Time, msg string, timings bool) {
	fields := make(map[string]any, len(sp.fields)+3)
	for k, v := range sp.fields {
		fields[k] = v
	}
	fields[FieldSpan] = sp.name
	if timings {
		fields[FieldTimeBusy] = sp.busy.Nanoseconds()
		fields[FieldTimeIdle] = sp.idle.Nanoseconds()
	}
	// sink 에러(큐 가득 참 등)는 span 기록을 막지 않는다.
	_ = sp.sink(model.NewEvent(now, sp.level, msg, fields))
}
