// Package notices implements the broadcaster that delivers internal SDK
// notices, such as flag changes, to registered listeners.
package notices

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/featbit/go-server-sdk/interfaces"
)

// Listener receives notices of the type it was registered for. Listeners run
// on the broadcaster's goroutine, so a slow listener delays the others.
type Listener func(notice interfaces.Notice)

type listenerEntry struct {
	id       int64
	listener Listener
}

// ListenerHandle identifies a registered listener so it can be removed.
type ListenerHandle struct {
	noticeType string
	id         int64
}

// Broadcaster queues notices and delivers them to listeners on a dedicated
// goroutine, keyed by notice type. Broadcast never blocks the caller on
// listener execution.
type Broadcaster struct {
	queue        chan interfaces.Notice
	doneCh       chan struct{}
	consumerDone chan struct{}
	stopOnce     sync.Once
	loggers      ldlog.Loggers

	lock      sync.Mutex
	nextID    int64
	listeners map[string][]listenerEntry
}

// NewBroadcaster creates a Broadcaster and starts its delivery goroutine.
func NewBroadcaster(loggers ldlog.Loggers) *Broadcaster {
	b := &Broadcaster{
		queue:        make(chan interfaces.Notice, 100),
		doneCh:       make(chan struct{}),
		consumerDone: make(chan struct{}),
		loggers:      loggers,
		listeners:    make(map[string][]listenerEntry),
	}
	loggers.Debug("notice broadcaster starting...")
	go b.run()
	return b
}

// AddListener registers a listener for one notice type. The returned handle
// removes it again.
func (b *Broadcaster) AddListener(noticeType string, listener Listener) ListenerHandle {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.nextID++
	handle := ListenerHandle{noticeType: noticeType, id: b.nextID}
	b.listeners[noticeType] = append(b.listeners[noticeType], listenerEntry{id: handle.id, listener: listener})
	b.loggers.Debugf("added a listener for notice type %s", noticeType)
	return handle
}

// RemoveListener unregisters the listener behind the handle. Removing an
// already removed listener is a no-op.
func (b *Broadcaster) RemoveListener(handle ListenerHandle) {
	b.lock.Lock()
	defer b.lock.Unlock()
	entries := b.listeners[handle.noticeType]
	for i, entry := range entries {
		if entry.id == handle.id {
			b.listeners[handle.noticeType] = append(entries[:i:i], entries[i+1:]...)
			b.loggers.Debugf("removed a listener for notice type %s", handle.noticeType)
			return
		}
	}
}

// Broadcast queues a notice for delivery. Notices broadcast after Stop are
// dropped.
func (b *Broadcaster) Broadcast(notice interfaces.Notice) {
	if notice == nil {
		return
	}
	select {
	case b.queue <- notice:
	case <-b.doneCh:
	}
}

// Stop shuts down the delivery goroutine and joins it: when Stop returns, the
// queue has been drained and no listener callback is still running.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.loggers.Debug("notice broadcaster stopping...")
		close(b.doneCh)
	})
	<-b.consumerDone
}

func (b *Broadcaster) run() {
	defer close(b.consumerDone)
	for {
		select {
		case notice := <-b.queue:
			b.deliver(notice)
		case <-b.doneCh:
			// deliver what is already queued, then exit
			for {
				select {
				case notice := <-b.queue:
					b.deliver(notice)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) deliver(notice interfaces.Notice) {
	b.lock.Lock()
	entries := append([]listenerEntry(nil), b.listeners[notice.GetNoticeType()]...)
	b.lock.Unlock()
	for _, entry := range entries {
		b.deliverTo(entry.listener, notice)
	}
}

// deliverTo isolates listener panics so one bad listener cannot kill the
// delivery goroutine.
func (b *Broadcaster) deliverTo(listener Listener, notice interfaces.Notice) {
	defer func() {
		if err := recover(); err != nil {
			b.loggers.Errorf("unexpected error in handling notice %s: %+v", notice.GetNoticeType(), err)
		}
	}()
	listener(notice)
}
