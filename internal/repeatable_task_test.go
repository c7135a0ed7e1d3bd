package internal

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/stretchr/testify/assert"
)

func TestRepeatableTask(t *testing.T) {
	t.Run("runs repeatedly until stopped", func(t *testing.T) {
		var runs atomic.Int32
		task := NewRepeatableTask("counter", time.Millisecond, func() { runs.Add(1) }, ldlog.NewDisabledLoggers())
		task.Start()
		assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
		task.Stop()

		after := runs.Load()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, after, runs.Load())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		task := NewRepeatableTask("noop", time.Millisecond, func() {}, ldlog.NewDisabledLoggers())
		task.Start()
		task.Stop()
		task.Stop()
	})

	t.Run("survives a panicking run", func(t *testing.T) {
		var runs atomic.Int32
		task := NewRepeatableTask("panicky", time.Millisecond, func() {
			runs.Add(1)
			panic("boom")
		}, ldlog.NewDisabledLoggers())
		task.Start()
		assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
		task.Stop()
	})
}
