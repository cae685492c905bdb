package shipper

import (
	"testing"
	"time"

	"tracing-s3/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spanEvent(t *testing.T, rec model.Record) map[string]any {
	t.Helper()
	ev, ok := rec[model.FieldEvent].(map[string]any)
	require.True(t, ok)
	return ev
}

func TestSpan_Lifecycle(t *testing.T) {
	clk := &manualClock{now: testDay}
	c := &collectSink{}

	sp := StartSpan(c.Sink, clk.Now, "info", "handle", map[string]any{"route": "/collect"})
	clk.Advance(10 * time.Millisecond)
	sp.Enter()
	clk.Advance(30 * time.Millisecond)
	sp.Exit()
	clk.Advance(5 * time.Millisecond)
	sp.Close()

	require.Len(t, c.recs, 4)
	var msgs []string
	for _, r := range c.recs {
		msgs = append(msgs, spanEvent(t, r)[model.FieldMessage].(string))
	}
	assert.Equal(t, []string{"new", "enter", "exit", "close"}, msgs)

	first := spanEvent(t, c.recs[0])
	assert.Equal(t, "handle", first[FieldSpan])
	assert.Equal(t, "/collect", first["route"])
	assert.NotContains(t, first, FieldTimeBusy)

	last := spanEvent(t, c.recs[3])
	assert.Equal(t, (30 * time.Millisecond).Nanoseconds(), last[FieldTimeBusy])
	assert.Equal(t, (15 * time.Millisecond).Nanoseconds(), last[FieldTimeIdle])
	assert.Equal(t, "info", c.recs[3][model.FieldLevel])

	assert.Equal(t, 30*time.Millisecond, sp.Busy())
	assert.Equal(t, 15*time.Millisecond, sp.Idle())
}

func TestSpan_CloseTwiceAndCloseWhileEntered(t *testing.T) {
	clk := &manualClock{now: testDay}
	c := &collectSink{}

	sp := StartSpan(c.Sink, clk.Now, "debug", "work", nil)
	sp.Enter()
	clk.Advance(time.Second)
	sp.Close()
	sp.Close()
	sp.Enter()

	require.Len(t, c.recs, 3)
	assert.Equal(t, time.Second, sp.Busy())
	assert.Equal(t, time.Duration(0), sp.Idle())
}
