package interfaces

import "time"

// StateType is the overall lifecycle state of the update processing.
type StateType int

const (
	// StateTypeInitializing is the starting state. The SDK remains in this
	// state, regardless of transient errors, until it either receives data
	// (becoming OK) or permanently fails (becoming OFF).
	StateTypeInitializing StateType = iota + 1

	// StateTypeOK means the update processing is operational: a channel is
	// open and at least one payload has been received and stored.
	StateTypeOK

	// StateTypeInterrupted means the update processing hit an error it will
	// try to recover from, such as a dropped connection awaiting reconnect.
	StateTypeInterrupted

	// StateTypeOff means the update processing has permanently stopped, either
	// after an unrecoverable error or because the client was closed.
	StateTypeOff
)

func (s StateType) String() string {
	switch s {
	case StateTypeInitializing:
		return "INITIALIZING"
	case StateTypeOK:
		return "OK"
	case StateTypeInterrupted:
		return "INTERRUPTED"
	case StateTypeOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Error type identifiers recorded in state error tracks.
const (
	DataStorageInitError   = "Data Storage init error"
	DataStorageUpdateError = "Data Storage update error"
	RequestInvalidError    = "Request invalid"
	DataInvalidError       = "Received Data invalid"
	NetworkError           = "Network error"
	RuntimeError           = "Runtime error"
	WebsocketError         = "WebSocket error"
	UnknownError           = "Unknown error"
	UnknownCloseCode       = "Unknown close code"
)

// ErrorTrack describes the most recent error that affected the update state.
type ErrorTrack struct {
	ErrorType string
	Message   string
}

// State is a snapshot of the update-status state machine: the current state
// type, the instant that state type was entered, and the last error if any.
type State struct {
	StateType  StateType
	StateSince time.Time
	ErrorTrack *ErrorTrack
}

// NewInitializingState returns a State for SDK startup.
func NewInitializingState() State {
	return State{StateType: StateTypeInitializing, StateSince: time.Now()}
}

// NewOKState returns a State for normal operation.
func NewOKState() State {
	return State{StateType: StateTypeOK, StateSince: time.Now()}
}

// NewInterruptedState returns a State for a recoverable failure.
func NewInterruptedState(errorType, message string) State {
	return State{
		StateType:  StateTypeInterrupted,
		StateSince: time.Now(),
		ErrorTrack: &ErrorTrack{ErrorType: errorType, Message: message},
	}
}

// NewNormalOffState returns a State for an orderly shutdown.
func NewNormalOffState() State {
	return State{StateType: StateTypeOff, StateSince: time.Now()}
}

// NewErrorOffState returns a State for a permanent failure.
func NewErrorOffState(errorType, message string) State {
	return State{
		StateType:  StateTypeOff,
		StateSince: time.Now(),
		ErrorTrack: &ErrorTrack{ErrorType: errorType, Message: message},
	}
}
