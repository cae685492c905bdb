package shipper

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tracing-s3/internal/metrics"
	"tracing-s3/internal/model"
	"tracing-s3/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseOptions() Options {
	return Options{
		Prefix:          "app",
		Postfix:         "jsonl",
		ObjectSizeLimit: 64 << 20,
		FlushInterval:   time.Second,
		BufferSizeLimit: 1 << 20,
		Clock:           fixedClock(testDay),
		Nonce:           "n",
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{"ok", func(*Options) {}, ""},
		{"object limit zero", func(o *Options) { o.ObjectSizeLimit = 0 }, "object size limit"},
		{"object limit too big", func(o *Options) { o.ObjectSizeLimit = MaxObjectSizeLimit + 1 }, "object size limit"},
		{"object limit max", func(o *Options) { o.ObjectSizeLimit = MaxObjectSizeLimit }, ""},
		{"buffer limit zero", func(o *Options) { o.BufferSizeLimit = 0 }, "buffer size limit"},
		{"buffer limit too big", func(o *Options) { o.BufferSizeLimit = MaxBufferSizeLimit + 1 }, "buffer size limit"},
		{"pending below buffer limit", func(o *Options) { o.MaxPendingBytes = 1 << 10 }, "max pending bytes"},
		{"pending equals buffer limit", func(o *Options) { o.MaxPendingBytes = 1 << 20 }, ""},
		{"zero interval", func(o *Options) { o.FlushInterval = 0 }, "flush interval"},
		{"negative queue", func(o *Options) { o.QueueSize = -1 }, "queue size"},
		{"bad policy", func(o *Options) { o.OverflowPolicy = "spill" }, "overflow policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := baseOptions()
			tt.mutate(&o)
			err := o.withDefaults().Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_RejectsInvalid(t *testing.T) {
	o := baseOptions()
	o.FlushInterval = 0
	_, err := New(o, newFakeAppender(), nil)
	assert.Error(t, err)

	_, err = New(baseOptions(), nil, nil)
	assert.Error(t, err)
}

// limit=100, interval=50ms, 40 바이트 레코드 3건:
// 첫 flush 에 세 건이 모두 들어가고 오브젝트가 한도를 넘어 part 1 로 넘어간다.
func TestShipper_EndToEndRollover(t *testing.T) {
	mem := store.NewMemoryStore()
	m := metrics.New()
	app := store.NewAppender(mem, store.AppenderOptions{Timeout: time.Second, Retries: 1}, m)

	o := baseOptions()
	o.ObjectSizeLimit = 100
	o.FlushInterval = 50 * time.Millisecond
	sh, err := New(o, app, m)
	require.NoError(t, err)

	for _, ch := range []string{"a", "b", "c"} {
		require.NoError(t, sh.Enqueue(rec40(ch)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sh.Start(ctx)
	assert.ElementsMatch(t, []string{"flush-scheduler", "ingestion-router"}, sh.Tasks())

	part0 := "2025-03-12/0/app-n.jsonl"
	part1 := "2025-03-12/1/app-n.jsonl"

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&m.RolloversTotal) == 1
	}, 2*time.Second, 10*time.Millisecond)

	obj, ok := mem.Object(part0)
	require.True(t, ok)
	lines := strings.Split(strings.TrimSuffix(string(obj), "\n"), "\n")
	require.Len(t, lines, 3)
	for i, ch := range []string{"a", "b", "c"} {
		assert.JSONEq(t, `{"msg":"`+strings.Repeat(ch, 30)+`"}`, lines[i])
	}
	assert.Equal(t, part1, sh.CurrentKey())

	require.NoError(t, sh.Enqueue(rec40("d")))
	require.Eventually(t, func() bool {
		_, ok := mem.Object(part1)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	obj, _ = mem.Object(part1)
	assert.JSONEq(t, `{"msg":"`+strings.Repeat("d", 30)+`"}`, strings.TrimSuffix(string(obj), "\n"))

	require.NoError(t, sh.Shutdown(context.Background()))
}

func TestShipper_ShutdownFlushesRemaining(t *testing.T) {
	mem := store.NewMemoryStore()
	app := store.NewAppender(mem, store.AppenderOptions{Timeout: time.Second, Retries: 1}, nil)

	o := baseOptions()
	o.FlushInterval = time.Hour
	sh, err := New(o, app, nil)
	require.NoError(t, err)
	sh.Start(context.Background())

	require.NoError(t, sh.Enqueue(model.Record{"n": 1}))
	require.NoError(t, sh.Enqueue(model.Record{"n": 2}))

	require.NoError(t, sh.Shutdown(context.Background()))

	obj, ok := mem.Object("2025-03-12/0/app-n.jsonl")
	require.True(t, ok)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(obj))
	assert.Equal(t, 0, sh.Pending())

	assert.ErrorIs(t, sh.Enqueue(model.Record{"n": 3}), ErrClosed)
	// 두 번째 Shutdown 은 no-op
	assert.NoError(t, sh.Shutdown(context.Background()))
}

func TestShipper_ShutdownWithoutStart(t *testing.T) {
	sh, err := New(baseOptions(), newFakeAppender(), nil)
	require.NoError(t, err)

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.ErrorIs(t, sh.Enqueue(model.Record{"n": 1}), ErrClosed)
}

func TestShipper_WriterFeedsPipeline(t *testing.T) {
	app := newFakeAppender()
	o := baseOptions()
	o.FlushInterval = time.Hour
	sh, err := New(o, app, nil)
	require.NoError(t, err)
	sh.Start(context.Background())

	log := zerolog.New(sh.Writer())
	log.Info().Str("user", "kim").Msg("login")

	res := flushUntilDelivered(t, sh)
	assert.Contains(t, res.body, `"message":"login"`)
	assert.Contains(t, res.body, `"user":"kim"`)

	require.NoError(t, sh.Shutdown(context.Background()))
}

type deliveredBody struct{ body string }

func flushUntilDelivered(t *testing.T, sh *Shipper) deliveredBody {
	t.Helper()
	var out deliveredBody
	require.Eventually(t, func() bool {
		res := sh.Flush(context.Background())
		if res.Outcome != Delivered {
			return false
		}
		calls := sh.scheduler.appender.(*fakeAppender).Calls()
		out.body = calls[len(calls)-1].body
		return true
	}, time.Second, 5*time.Millisecond)
	return out
}

func TestShipper_PendingStaysBoundedWhileRemoteFails(t *testing.T) {
	app := &failingAppender{}
	m := metrics.New()
	o := baseOptions()
	o.FlushInterval = 5 * time.Millisecond
	o.BufferSizeLimit = 40
	o.MaxPendingBytes = 200
	sh, err := New(o, app, m)
	require.NoError(t, err)
	sh.Start(context.Background())

	for i := 0; i < 50; i++ {
		_ = sh.Enqueue(rec40("a"))
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&m.RecordsEnqueuedTotal) == 50 &&
			atomic.LoadInt64(&m.RecordsDroppedPendingCapTotal) == 45
	}, time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, sh.router.Size(), int64(200))
	assert.GreaterOrEqual(t, app.calls.Load(), int32(1))

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Contains(t, m.String(), "records_dropped_pending_cap_total=")
}
