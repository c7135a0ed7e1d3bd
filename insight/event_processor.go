package insight

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"golang.org/x/sync/semaphore"

	"github.com/featbit/go-server-sdk/internal"
)

const (
	maxFlushWorkers     = 5
	maxEventsPerRequest = 50
	messageBatchSize    = 50
	flushTaskName       = "insight flush"
)

const (
	messageKindEvent = iota
	messageKindFlush
	messageKindShutdown
)

type eventMessage struct {
	kind    int
	event   Event
	replyCh chan struct{}
}

// DefaultEventProcessor queues events on a bounded inbox and hands them to a
// dispatcher goroutine. Deliveries happen on a small pool of flush workers so
// a slow endpoint never blocks evaluation.
type DefaultEventProcessor struct {
	inbox     chan eventMessage
	flushTask *internal.RepeatableTask
	closed    sync.Once
	stopped   atomic.Bool
	loggers   ldlog.Loggers

	// only touched by SendEvent/Flush under droppedLock
	droppedLock   sync.Mutex
	droppedWarned bool
}

// NewDefaultEventProcessor starts the dispatcher and the periodic flush task.
// The sender is owned by the processor and closed on shutdown.
func NewDefaultEventProcessor(
	sender Sender,
	eventsURI string,
	capacity int,
	flushInterval time.Duration,
	loggers ldlog.Loggers,
) *DefaultEventProcessor {
	p := &DefaultEventProcessor{
		inbox:   make(chan eventMessage, capacity),
		loggers: loggers,
	}
	d := &eventDispatcher{
		inbox:     p.inbox,
		sender:    sender,
		eventsURI: eventsURI,
		permits:   semaphore.NewWeighted(maxFlushWorkers),
		loggers:   loggers,
	}
	go d.run()
	p.flushTask = internal.NewRepeatableTask(flushTaskName, flushInterval, p.Flush, loggers)
	p.flushTask.Start()
	loggers.Debug("insight processor is ready")
	return p
}

// SendEvent queues an event without blocking. When the inbox is full the
// event is dropped; the application is evaluating faster than events can be
// delivered, and slowing it down would be worse than losing analytics.
// After Close it does nothing.
func (p *DefaultEventProcessor) SendEvent(event Event) {
	if event == nil || p.stopped.Load() {
		return
	}
	p.putMessageAsync(eventMessage{kind: messageKindEvent, event: event})
}

// Flush asynchronously triggers a delivery of the buffered events. After
// Close it does nothing.
func (p *DefaultEventProcessor) Flush() {
	if p.stopped.Load() {
		return
	}
	p.putMessageAsync(eventMessage{kind: messageKindFlush})
}

// Close flushes the remaining events and waits for the dispatcher to finish.
func (p *DefaultEventProcessor) Close() error {
	p.closed.Do(func() {
		p.stopped.Store(true)
		p.loggers.Info("event processor is stopping")
		p.flushTask.Stop()
		p.putMessageAsync(eventMessage{kind: messageKindFlush})
		replyCh := make(chan struct{})
		// the shutdown message must get through even if the inbox is full
		p.inbox <- eventMessage{kind: messageKindShutdown, replyCh: replyCh}
		<-replyCh
	})
	return nil
}

func (p *DefaultEventProcessor) putMessageAsync(message eventMessage) {
	select {
	case p.inbox <- message:
	default:
		p.droppedLock.Lock()
		warned := p.droppedWarned
		p.droppedWarned = true
		p.droppedLock.Unlock()
		if !warned {
			p.loggers.Warn("events are being produced faster than they can be processed; some events will be dropped")
		}
	}
}

// eventDispatcher owns the event buffer. It runs on a single goroutine, so
// the buffer needs no locking.
type eventDispatcher struct {
	inbox     chan eventMessage
	sender    Sender
	eventsURI string
	buffer    []Event
	permits   *semaphore.Weighted
	loggers   ldlog.Loggers
}

func (d *eventDispatcher) run() {
	d.loggers.Debug("event dispatcher is working...")
	for {
		for _, message := range d.drainInbox() {
			switch message.kind {
			case messageKindEvent:
				if message.event.IsSendEvent() {
					d.buffer = append(d.buffer, message.event)
				}
			case messageKindFlush:
				d.triggerFlush()
			case messageKindShutdown:
				d.shutdown()
				close(message.replyCh)
				return
			}
		}
	}
}

// drainInbox blocks for the first message, then grabs whatever else is
// immediately available up to the batch size.
func (d *eventDispatcher) drainInbox() []eventMessage {
	messages := make([]eventMessage, 0, messageBatchSize)
	messages = append(messages, <-d.inbox)
	for len(messages) < messageBatchSize {
		select {
		case message := <-d.inbox:
			messages = append(messages, message)
		default:
			return messages
		}
	}
	return messages
}

// triggerFlush hands the buffered events to a flush worker. If all workers
// are busy the events stay buffered until the next flush.
func (d *eventDispatcher) triggerFlush() {
	if len(d.buffer) == 0 {
		return
	}
	if !d.permits.TryAcquire(1) {
		return
	}
	payload := make([]Event, len(d.buffer))
	copy(payload, d.buffer)
	d.buffer = d.buffer[:0]
	go func() {
		defer d.permits.Release(1)
		d.flushPayload(payload)
	}()
}

// flushPayload posts the events in batches. A failed batch is dropped, not
// requeued; the sender has already retried it.
func (d *eventDispatcher) flushPayload(payload []Event) {
	for start := 0; start < len(payload); start += maxEventsPerRequest {
		end := start + maxEventsPerRequest
		if end > len(payload) {
			end = len(payload)
		}
		batch := payload[start:end]
		data, err := json.Marshal(batch)
		if err != nil {
			d.loggers.Errorf("unexpected error serializing event payload: %s", err)
			continue
		}
		if _, err := d.sender.PostJSON(d.eventsURI, data); err != nil {
			d.loggers.Errorf("unexpected error in sending payload: %s", err)
			continue
		}
		d.loggers.Debugf("payload size: %d", len(batch))
	}
}

// shutdown waits for in-flight flushes, then releases the sender.
func (d *eventDispatcher) shutdown() {
	d.loggers.Debug("event dispatcher is cleaning up")
	_ = d.permits.Acquire(context.Background(), maxFlushWorkers)
	d.sender.Close()
}

// NullEventProcessor discards all events. It is used in offline mode.
type NullEventProcessor struct{}

func NewNullEventProcessor() NullEventProcessor { return NullEventProcessor{} }

func (NullEventProcessor) SendEvent(Event) {}

func (NullEventProcessor) Flush() {}

func (NullEventProcessor) Close() error { return nil }
