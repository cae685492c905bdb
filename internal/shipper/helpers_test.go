package shipper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tracing-s3/internal/metrics"
	"tracing-s3/internal/model"
)

var testDay = time.Date(2025, 3, 12, 10, 30, 0, 0, time.Local)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// manualClock 은 테스트가 직접 시각을 옮긴다.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// rec40 은 직렬화하면 정확히 40 바이트인 레코드: {"msg":"xxx...30"}
func rec40(ch string) model.Record {
	return model.Record{"msg": strings.Repeat(ch, 30)}
}

func rec40Line(ch string) string {
	return `{"msg":"` + strings.Repeat(ch, 30) + `"}`
}

// fakeAppender 는 호출을 기록하고 지정된 에러를 순서대로 돌려준다.
type fakeAppender struct {
	mu     sync.Mutex
	errs   []error
	calls  []appendCall
	totals map[string]int64
}

type appendCall struct {
	key  string
	body string
}

func newFakeAppender(errs ...error) *fakeAppender {
	return &fakeAppender{errs: errs, totals: make(map[string]int64)}
}

func (f *fakeAppender) AppendToObject(ctx context.Context, key string, payload []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, appendCall{key: key, body: string(payload)})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	f.totals[key] += int64(len(payload))
	return f.totals[key], nil
}

func (f *fakeAppender) Calls() []appendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendCall(nil), f.calls...)
}

// startRouter 는 Router.Run 을 띄우고 테스트 종료 시 정리한다.
func startRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newTestRouter(opts RouterOptions) (*Router, *PartitionedBuffer, *metrics.Metrics) {
	buf := NewPartitionedBuffer("app", "jsonl", "n", fixedClock(testDay))
	m := metrics.New()
	return NewRouter(buf, NewEncoder(false), opts, m), buf, m
}

func newTestScheduler(t *testing.T, app RemoteAppender, objectLimit int64) (*Scheduler, *PartitionedBuffer, *metrics.Metrics) {
	t.Helper()
	r, buf, m := newTestRouter(RouterOptions{QueueSize: 16})
	startRouter(t, r)
	s := NewScheduler(r, app, NewEncoder(false), SchedulerOptions{
		FlushInterval:   time.Hour,
		BufferSizeLimit: 1 << 20,
		ObjectSizeLimit: objectLimit,
	}, r.Kick(), m)
	return s, buf, m
}
