package interfaces

// NoticeTypeFlagChanged is the notice type under which flag-change
// notifications are broadcast.
const NoticeTypeFlagChanged = "flag_change_notice"

// Notice is a message published on the SDK's internal notice broadcaster.
type Notice interface {
	// GetNoticeType returns the type under which listeners receive the notice.
	GetNoticeType() string
}

// FlagChangedNotice is broadcast whenever the streaming pipeline applies an
// update that may have changed a feature flag's configuration, including
// changes to a segment the flag references.
type FlagChangedNotice struct {
	FlagKey string
}

func (n FlagChangedNotice) GetNoticeType() string { return NoticeTypeFlagChanged } //nolint:revive
