package datastatus

import (
	"sync"

	"github.com/featbit/go-server-sdk/interfaces"
)

// Capacity of each watch channel. The waiters in WaitForOKState drain their
// channel in a tight loop, so the buffer only has to absorb short bursts.
const stateWatchBuffer = 10

// stateWatch is one subscription to state transitions, issued by subscribe
// and released with unsubscribe.
type stateWatch struct {
	id int
	ch chan interfaces.State
}

// stateWatchers fans state transitions out to the goroutines blocked in
// WaitForOKState. Watches are tracked by id, so releasing one is independent
// of subscription order.
type stateWatchers struct {
	lock   sync.Mutex
	nextID int
	active map[int]*stateWatch
	closed bool
}

func newStateWatchers() *stateWatchers {
	return &stateWatchers{active: make(map[int]*stateWatch)}
}

// subscribe registers a new watch. After closeAll the returned watch carries
// an already-closed channel, so a late waiter gives up immediately.
func (w *stateWatchers) subscribe() *stateWatch {
	watch := &stateWatch{ch: make(chan interfaces.State, stateWatchBuffer)}
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.closed {
		close(watch.ch)
		return watch
	}
	w.nextID++
	watch.id = w.nextID
	w.active[watch.id] = watch
	return watch
}

// unsubscribe releases a watch and closes its channel. Releasing a watch
// twice, or one issued after closeAll, is a no-op.
func (w *stateWatchers) unsubscribe(watch *stateWatch) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if _, ok := w.active[watch.id]; !ok {
		return
	}
	delete(w.active, watch.id)
	close(watch.ch)
}

// notify delivers a state transition to every active watch. The send never
// blocks: a watch whose buffer is full misses the transition rather than
// stalling the state machine.
func (w *stateWatchers) notify(state interfaces.State) {
	w.lock.Lock()
	defer w.lock.Unlock()
	for _, watch := range w.active {
		select {
		case watch.ch <- state:
		default:
		}
	}
}

// closeAll closes every watch channel and rejects future subscriptions.
func (w *stateWatchers) closeAll() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for _, watch := range w.active {
		close(watch.ch)
	}
	w.active = nil
}
