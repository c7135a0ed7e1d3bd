package datastatus

import (
	"errors"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/interfaces"
	"github.com/featbit/go-server-sdk/internal/datastore"
)

// failingDataStorage returns an error from every write.
type failingDataStorage struct {
	interfaces.DataStorage
}

func (failingDataStorage) Init(map[datamodel.Category]map[string]datamodel.Item, int64) (bool, error) {
	return false, errors.New("sorry")
}

func (failingDataStorage) Upsert(datamodel.Category, string, datamodel.Item, int64) (bool, error) {
	return false, errors.New("sorry")
}

type panickingDataStorage struct {
	interfaces.DataStorage
}

func (panickingDataStorage) Init(map[datamodel.Category]map[string]datamodel.Item, int64) (bool, error) {
	panic("broken storage")
}

func makeProvider(t *testing.T) *Provider {
	p := NewUpdateStatusProvider(datastore.NewInMemoryDataStorage(ldlog.NewDisabledLoggers()), ldlog.NewDisabledLoggers())
	t.Cleanup(p.Close)
	return p
}

func TestProviderStartsInitializing(t *testing.T) {
	p := makeProvider(t)
	state := p.GetCurrentState()
	assert.Equal(t, interfaces.StateTypeInitializing, state.StateType)
	assert.Nil(t, state.ErrorTrack)
	assert.False(t, p.Initialized())
}

func TestProviderStateTransitions(t *testing.T) {
	t.Run("interrupted before first OK stays initializing", func(t *testing.T) {
		p := makeProvider(t)
		p.UpdateState(interfaces.NewInterruptedState(interfaces.NetworkError, "dropped"))

		state := p.GetCurrentState()
		assert.Equal(t, interfaces.StateTypeInitializing, state.StateType)
		require.NotNil(t, state.ErrorTrack)
		assert.Equal(t, interfaces.NetworkError, state.ErrorTrack.ErrorType)
	})

	t.Run("interrupted after OK is recorded", func(t *testing.T) {
		p := makeProvider(t)
		p.UpdateState(interfaces.NewOKState())
		p.UpdateState(interfaces.NewInterruptedState(interfaces.NetworkError, "dropped"))

		state := p.GetCurrentState()
		assert.Equal(t, interfaces.StateTypeInterrupted, state.StateType)
	})

	t.Run("StateSince only advances on a state type change", func(t *testing.T) {
		p := makeProvider(t)
		p.UpdateState(interfaces.NewOKState())
		p.UpdateState(interfaces.NewInterruptedState(interfaces.NetworkError, "first"))
		since := p.GetCurrentState().StateSince

		time.Sleep(5 * time.Millisecond)
		p.UpdateState(interfaces.NewInterruptedState(interfaces.WebsocketError, "second"))

		state := p.GetCurrentState()
		assert.Equal(t, since, state.StateSince)
		require.NotNil(t, state.ErrorTrack)
		assert.Equal(t, interfaces.WebsocketError, state.ErrorTrack.ErrorType)
		assert.Equal(t, "second", state.ErrorTrack.Message)
	})

	t.Run("off state is terminal for waiters", func(t *testing.T) {
		p := makeProvider(t)
		p.UpdateState(interfaces.NewErrorOffState(interfaces.RequestInvalidError, "bad token"))

		state := p.GetCurrentState()
		assert.Equal(t, interfaces.StateTypeOff, state.StateType)
		assert.False(t, p.WaitForOKState(time.Second))
	})
}

func TestProviderWaitForOKState(t *testing.T) {
	t.Run("returns immediately when already OK", func(t *testing.T) {
		p := makeProvider(t)
		p.UpdateState(interfaces.NewOKState())
		assert.True(t, p.WaitForOKState(time.Millisecond))
	})

	t.Run("wakes up when the state becomes OK", func(t *testing.T) {
		p := makeProvider(t)
		go func() {
			time.Sleep(20 * time.Millisecond)
			p.UpdateState(interfaces.NewOKState())
		}()
		assert.True(t, p.WaitForOKState(time.Second))
	})

	t.Run("times out while still initializing", func(t *testing.T) {
		p := makeProvider(t)
		assert.False(t, p.WaitForOKState(20*time.Millisecond))
	})

	t.Run("wakes up when the state becomes OFF", func(t *testing.T) {
		p := makeProvider(t)
		go func() {
			time.Sleep(20 * time.Millisecond)
			p.UpdateState(interfaces.NewNormalOffState())
		}()
		assert.False(t, p.WaitForOKState(time.Second))
	})
}

func TestProviderStorageFailures(t *testing.T) {
	t.Run("init failure moves the state to interrupted", func(t *testing.T) {
		p := NewUpdateStatusProvider(failingDataStorage{}, ldlog.NewDisabledLoggers())
		t.Cleanup(p.Close)
		p.UpdateState(interfaces.NewOKState())

		ok := p.Init(map[datamodel.Category]map[string]datamodel.Item{}, 1)
		assert.False(t, ok)

		state := p.GetCurrentState()
		assert.Equal(t, interfaces.StateTypeInterrupted, state.StateType)
		require.NotNil(t, state.ErrorTrack)
		assert.Equal(t, interfaces.DataStorageInitError, state.ErrorTrack.ErrorType)
	})

	t.Run("upsert failure moves the state to interrupted", func(t *testing.T) {
		p := NewUpdateStatusProvider(failingDataStorage{}, ldlog.NewDisabledLoggers())
		t.Cleanup(p.Close)
		p.UpdateState(interfaces.NewOKState())

		ok := p.Upsert(datamodel.FeatureFlags, "id_1", datamodel.NewArchivedItem("id_1", 1), 1)
		assert.False(t, ok)

		state := p.GetCurrentState()
		assert.Equal(t, interfaces.StateTypeInterrupted, state.StateType)
		require.NotNil(t, state.ErrorTrack)
		assert.Equal(t, interfaces.DataStorageUpdateError, state.ErrorTrack.ErrorType)
	})

	t.Run("a panicking storage degrades the state instead of escaping", func(t *testing.T) {
		p := NewUpdateStatusProvider(panickingDataStorage{}, ldlog.NewDisabledLoggers())
		t.Cleanup(p.Close)
		p.UpdateState(interfaces.NewOKState())

		ok := p.Init(map[datamodel.Category]map[string]datamodel.Item{}, 1)
		assert.False(t, ok)
		assert.Equal(t, interfaces.StateTypeInterrupted, p.GetCurrentState().StateType)
	})

	t.Run("successful writes pass through to the storage", func(t *testing.T) {
		p := makeProvider(t)
		ok := p.Upsert(datamodel.FeatureFlags, "id_1", &datamodel.FeatureFlag{ID: "id_1", Key: "id_1", Timestamp: 7}, 7)
		assert.True(t, ok)
		assert.True(t, p.Initialized())
		assert.Equal(t, int64(7), p.GetLatestVersion())
		assert.Len(t, p.GetAll(datamodel.FeatureFlags), 1)
	})
}
