// Package datastatus tracks the state of the data synchronization pipeline and
// applies incoming data to the underlying storage.
package datastatus

import (
	"fmt"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/interfaces"
)

// Provider is the standard implementation of interfaces.DataUpdateStatusProvider.
// All data writes from an update processor go through it so that storage
// failures are reflected in the synchronization state.
type Provider struct {
	storage      interfaces.DataStorage
	loggers      ldlog.Loggers
	lock         sync.Mutex
	currentState interfaces.State
	watchers     *stateWatchers
}

// NewUpdateStatusProvider creates a Provider wrapping the given storage. The
// initial state is INITIALIZING.
func NewUpdateStatusProvider(storage interfaces.DataStorage, loggers ldlog.Loggers) *Provider {
	return &Provider{
		storage:      storage,
		loggers:      loggers,
		currentState: interfaces.NewInitializingState(),
		watchers:     newStateWatchers(),
	}
}

// Init stores a full data set, replacing anything already in the storage. A
// storage failure moves the state to INTERRUPTED and returns false.
func (p *Provider) Init(allData map[datamodel.Category]map[string]datamodel.Item, version int64) bool {
	err := guardStorageCall(func() error {
		_, err := p.storage.Init(allData, version)
		return err
	})
	if err != nil {
		p.loggers.Errorf("data storage init error: %s", err)
		p.UpdateState(interfaces.NewInterruptedState(interfaces.DataStorageInitError, err.Error()))
		return false
	}
	return true
}

// Upsert stores or archives a single item. A storage failure moves the state
// to INTERRUPTED and returns false.
func (p *Provider) Upsert(category datamodel.Category, key string, item datamodel.Item, version int64) bool {
	err := guardStorageCall(func() error {
		_, err := p.storage.Upsert(category, key, item, version)
		return err
	})
	if err != nil {
		p.loggers.Errorf("data storage update error: %s", err)
		p.UpdateState(interfaces.NewInterruptedState(interfaces.DataStorageUpdateError, err.Error()))
		return false
	}
	return true
}

// guardStorageCall turns a panic from a custom storage implementation into an
// error, so a misbehaving storage degrades the state instead of killing the
// update goroutine.
func guardStorageCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("data storage panic: %v", r)
		}
	}()
	return fn()
}

func (p *Provider) Initialized() bool {
	return p.storage.Initialized()
}

func (p *Provider) GetLatestVersion() int64 {
	return p.storage.GetLatestVersion()
}

func (p *Provider) GetAll(category datamodel.Category) map[string]datamodel.Item {
	return p.storage.GetAll(category)
}

func (p *Provider) GetCurrentState() interfaces.State {
	p.lock.Lock()
	state := p.currentState
	p.lock.Unlock()
	return state
}

// UpdateState transitions the synchronization state. An INTERRUPTED report
// received while still INITIALIZING stays INITIALIZING, since the first
// connection has not yet succeeded. StateSince only advances when the state
// type actually changes; repeated errors in the same state refresh the error
// details but not the timestamp.
func (p *Provider) UpdateState(newState interfaces.State) {
	p.lock.Lock()

	stateType := newState.StateType
	if stateType == interfaces.StateTypeInterrupted && p.currentState.StateType == interfaces.StateTypeInitializing {
		stateType = interfaces.StateTypeInitializing
	}

	changed := false
	if stateType != p.currentState.StateType {
		p.currentState = interfaces.State{
			StateType:  stateType,
			StateSince: time.Now(),
			ErrorTrack: newState.ErrorTrack,
		}
		changed = true
	} else if newState.ErrorTrack != nil {
		p.currentState.ErrorTrack = newState.ErrorTrack
	}
	updated := p.currentState

	p.lock.Unlock()

	if changed {
		p.watchers.notify(updated)
	}
}

// WaitForOKState blocks until the state becomes OK, the state becomes OFF, or
// the timeout expires. A timeout of zero or less means wait indefinitely.
// Returns true only if the OK state was reached.
func (p *Provider) WaitForOKState(timeout time.Duration) bool {
	// subscribe before checking, so a transition between the check and the
	// wait cannot be missed
	watch := p.watchers.subscribe()
	defer p.watchers.unsubscribe(watch)

	switch p.GetCurrentState().StateType {
	case interfaces.StateTypeOK:
		return true
	case interfaces.StateTypeOff:
		return false
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case state, ok := <-watch.ch:
			if !ok {
				return false
			}
			switch state.StateType {
			case interfaces.StateTypeOK:
				return true
			case interfaces.StateTypeOff:
				return false
			}
		case <-deadline:
			return false
		}
	}
}

// Close releases every state watch; blocked waiters give up.
func (p *Provider) Close() {
	p.watchers.closeAll()
}
