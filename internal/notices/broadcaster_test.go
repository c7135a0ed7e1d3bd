package notices

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featbit/go-server-sdk/interfaces"
)

func TestBroadcasterDeliversToListeners(t *testing.T) {
	b := NewBroadcaster(ldlog.NewDisabledLoggers())
	defer b.Stop()

	received := make(chan string, 10)
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(notice interfaces.Notice) {
		received <- notice.(interfaces.FlagChangedNotice).FlagKey
	})

	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-test-1"})
	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-test-2"})

	assert.Equal(t, "ff-test-1", <-received)
	assert.Equal(t, "ff-test-2", <-received)
}

func TestBroadcasterListenersAreKeyedByType(t *testing.T) {
	b := NewBroadcaster(ldlog.NewDisabledLoggers())
	defer b.Stop()

	flagNotices := make(chan interfaces.Notice, 10)
	otherNotices := make(chan interfaces.Notice, 10)
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(n interfaces.Notice) { flagNotices <- n })
	b.AddListener("other_notice", func(n interfaces.Notice) { otherNotices <- n })

	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-test"})

	select {
	case <-flagNotices:
	case <-time.After(2 * time.Second):
		t.Fatal("flag listener was not notified")
	}
	select {
	case <-otherNotices:
		t.Fatal("listener for another type was notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterRemoveListener(t *testing.T) {
	b := NewBroadcaster(ldlog.NewDisabledLoggers())
	defer b.Stop()

	first := make(chan interfaces.Notice, 10)
	second := make(chan interfaces.Notice, 10)
	handle := b.AddListener(interfaces.NoticeTypeFlagChanged, func(n interfaces.Notice) { first <- n })
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(n interfaces.Notice) { second <- n })

	b.RemoveListener(handle)
	b.RemoveListener(handle) // second removal is a no-op

	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-test"})

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining listener was not notified")
	}
	select {
	case <-first:
		t.Fatal("removed listener was notified")
	default:
	}
}

func TestBroadcasterSurvivesPanickingListener(t *testing.T) {
	b := NewBroadcaster(ldlog.NewDisabledLoggers())
	defer b.Stop()

	received := make(chan interfaces.Notice, 10)
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(interfaces.Notice) { panic("listener bug") })
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(n interfaces.Notice) { received <- n })

	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-test-1"})
	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-test-2"})

	require.Len(t, receiveAll(received, 2), 2)
}

func receiveAll(ch chan interfaces.Notice, count int) []interfaces.Notice {
	out := make([]interfaces.Notice, 0, count)
	deadline := time.After(2 * time.Second)
	for len(out) < count {
		select {
		case n := <-ch:
			out = append(out, n)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestBroadcasterStopJoinsConsumer(t *testing.T) {
	b := NewBroadcaster(ldlog.NewDisabledLoggers())

	var finished atomic.Bool
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(interfaces.Notice) {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})

	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-slow"})
	b.Stop()

	// Stop must not return while a delivery is still in flight
	assert.True(t, finished.Load())
}

func TestBroadcasterStopDropsLaterNotices(t *testing.T) {
	b := NewBroadcaster(ldlog.NewDisabledLoggers())
	received := make(chan interfaces.Notice, 10)
	b.AddListener(interfaces.NoticeTypeFlagChanged, func(n interfaces.Notice) { received <- n })

	b.Stop()
	b.Stop() // idempotent
	b.Broadcast(interfaces.FlagChangedNotice{FlagKey: "ff-after-stop"})

	select {
	case <-received:
		t.Fatal("notice delivered after stop")
	case <-time.After(50 * time.Millisecond):
	}
}
