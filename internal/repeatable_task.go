package internal

import (
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// RepeatableTask runs a callback at a fixed interval on its own goroutine
// until stopped. The sleep between runs is interruptible, so Stop returns
// promptly.
type RepeatableTask struct {
	name     string
	interval time.Duration
	task     func()
	loggers  ldlog.Loggers
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewRepeatableTask creates a task that is not yet running.
func NewRepeatableTask(name string, interval time.Duration, task func(), loggers ldlog.Loggers) *RepeatableTask {
	return &RepeatableTask{
		name:     name,
		interval: interval,
		task:     task,
		loggers:  loggers,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the task goroutine. The first run happens one interval after
// Start.
func (t *RepeatableTask) Start() {
	t.loggers.Debugf("%s repeatable task is starting", t.name)
	go t.run()
}

// Stop halts the task and waits for the goroutine to exit. It is idempotent;
// a run already in progress is allowed to finish.
func (t *RepeatableTask) Stop() {
	t.stopOnce.Do(func() {
		t.loggers.Debugf("%s repeatable task is stopping", t.name)
		close(t.stopCh)
		<-t.doneCh
	})
}

func (t *RepeatableTask) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.runOnce()
		case <-t.stopCh:
			return
		}
	}
}

func (t *RepeatableTask) runOnce() {
	defer func() {
		if err := recover(); err != nil {
			t.loggers.Errorf("unexpected panic in %s repeatable task: %+v", t.name, err)
		}
	}()
	t.task()
}
