package fbclient

import (
	"errors"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/featbit/go-server-sdk/fbuser"
	"github.com/featbit/go-server-sdk/interfaces"
	"github.com/featbit/go-server-sdk/internal/notices"
)

// FlagValueChangedCallback is invoked when a tracked flag's variation for a
// user has changed.
type FlagValueChangedCallback func(featureFlagKey string, oldValue, newValue ldvalue.Value)

// FlagMaybeChangedCallback is invoked when a tracked flag's configuration has
// changed, whether or not any user's variation is affected.
type FlagMaybeChangedCallback func(featureFlagKey string)

// ListenerToken identifies a registered flag listener so it can be removed.
type ListenerToken struct {
	handle notices.ListenerHandle
}

// FlagTracker notifies the application of feature flag changes picked up from
// the streaming channel. Callbacks run on the notification goroutine and
// should not block.
type FlagTracker struct {
	client *FBClient
}

func newFlagTracker(client *FBClient) *FlagTracker {
	return &FlagTracker{client: client}
}

// AddFlagValueChangedListener subscribes to changes of one flag's variation
// for one user. The flag is evaluated once up front and re-evaluated on every
// change notification; the callback fires only when the variation actually
// differs.
func (t *FlagTracker) AddFlagValueChangedListener(
	featureFlagKey string,
	user fbuser.User,
	callback FlagValueChangedCallback,
) (ListenerToken, error) {
	if featureFlagKey == "" {
		return ListenerToken{}, errors.New("feature flag key cannot be empty")
	}
	if user.GetKey() == "" {
		return ListenerToken{}, errors.New("user is invalid")
	}
	if callback == nil {
		return ListenerToken{}, errors.New("callback cannot be nil")
	}

	var lock sync.Mutex
	currentValue, _ := t.client.Variation(featureFlagKey, user, ldvalue.Null())

	handle := t.client.noticeBroadcaster.AddListener(interfaces.NoticeTypeFlagChanged,
		func(notice interfaces.Notice) {
			changed, ok := notice.(interfaces.FlagChangedNotice)
			if !ok || changed.FlagKey != featureFlagKey {
				return
			}
			newValue, err := t.client.Variation(featureFlagKey, user, ldvalue.Null())
			if err != nil {
				return
			}
			lock.Lock()
			oldValue := currentValue
			currentValue = newValue
			lock.Unlock()
			if !oldValue.Equal(newValue) {
				callback(featureFlagKey, oldValue, newValue)
			}
		})
	return ListenerToken{handle: handle}, nil
}

// AddFlagMaybeChangedListener subscribes to configuration changes of one
// flag, including changes to segments the flag references. No evaluation is
// performed; the callback fires on every notification for the flag.
func (t *FlagTracker) AddFlagMaybeChangedListener(
	featureFlagKey string,
	callback FlagMaybeChangedCallback,
) (ListenerToken, error) {
	if featureFlagKey == "" {
		return ListenerToken{}, errors.New("feature flag key cannot be empty")
	}
	if callback == nil {
		return ListenerToken{}, errors.New("callback cannot be nil")
	}

	handle := t.client.noticeBroadcaster.AddListener(interfaces.NoticeTypeFlagChanged,
		func(notice interfaces.Notice) {
			if changed, ok := notice.(interfaces.FlagChangedNotice); ok && changed.FlagKey == featureFlagKey {
				callback(featureFlagKey)
			}
		})
	return ListenerToken{handle: handle}, nil
}

// RemoveListener unsubscribes a previously registered listener. Removing a
// listener twice is a no-op.
func (t *FlagTracker) RemoveListener(token ListenerToken) {
	t.client.noticeBroadcaster.RemoveListener(token.handle)
}
