package fbclient

import (
	"sort"
	"strconv"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/featbit/go-server-sdk/insight"
	"github.com/featbit/go-server-sdk/internal/evaluation"
)

// Flag value types as stored in the feature flag center.
const (
	FlagTypeBool   = "boolean"
	FlagTypeString = "string"
	FlagTypeNumber = "number"
	FlagTypeJSON   = "json"
)

// EvalDetail combines the result of a flag evaluation with information about
// how it was calculated.
type EvalDetail struct {
	// Reason describes the main factor that produced the value, such as
	// "target match" or "fall through all rules".
	Reason string `json:"reason"`

	// Variation is the evaluated value, converted to the flag's value type.
	Variation ldvalue.Value `json:"variation"`

	// KeyName is the flag key.
	KeyName string `json:"keyName"`

	// Name is the flag's display name.
	Name string `json:"name"`
}

// FlagState is the outcome of a single flag evaluation: whether it succeeded,
// the reason when it did not, and the evaluation details.
type FlagState struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    EvalDetail `json:"data"`
}

func flagStateFromResult(result evaluation.Result) FlagState {
	message := result.Reason
	if result.IsSuccess() {
		message = "OK"
	}
	return FlagState{
		Success: result.IsSuccess(),
		Message: message,
		Data: EvalDetail{
			Reason:    result.Reason,
			Variation: castVariation(result.FlagType, result.Value),
			KeyName:   result.KeyName,
			Name:      result.Name,
		},
	}
}

// castVariation converts a variation's raw string form to the flag's value
// type. A value that does not parse is returned as a string; the flag center
// authored both the type and the value, so that only happens with corrupt
// data.
func castVariation(flagType, value string) ldvalue.Value {
	switch flagType {
	case FlagTypeBool, FlagTypeJSON:
		var parsed ldvalue.Value
		if err := parsed.UnmarshalJSON([]byte(value)); err == nil {
			return parsed
		}
	case FlagTypeNumber:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return ldvalue.Float64(f)
		}
	}
	return ldvalue.String(value)
}

// inferFlagType guesses the flag value type from a default value, for error
// results produced before the flag itself could be resolved.
func inferFlagType(value ldvalue.Value) string {
	switch value.Type() {
	case ldvalue.BoolType:
		return FlagTypeBool
	case ldvalue.NumberType:
		return FlagTypeNumber
	case ldvalue.ArrayType, ldvalue.ObjectType:
		return FlagTypeJSON
	default:
		return FlagTypeString
	}
}

// rawDefaultValue renders a default value in the same string form variations
// are stored in, so error results flow through the same conversion.
func rawDefaultValue(value ldvalue.Value) string {
	if value.Type() == ldvalue.StringType {
		return value.StringValue()
	}
	return value.JSONString()
}

type allFlagsEntry struct {
	detail EvalDetail
	event  insight.Event
}

// AllFlagStates encapsulates the state of all feature flags for one user.
// The evaluations are performed up front; the usage event for a flag is sent
// the first time Get is called for it.
type AllFlagStates struct {
	success      bool
	message      string
	eventHandler func(insight.Event)

	lock    sync.Mutex
	entries map[string]*allFlagsEntry
}

func newAllFlagStates(success bool, message string, eventHandler func(insight.Event)) *AllFlagStates {
	if success {
		message = "OK"
	}
	return &AllFlagStates{
		success:      success,
		message:      message,
		eventHandler: eventHandler,
		entries:      make(map[string]*allFlagsEntry),
	}
}

func (a *AllFlagStates) addEntry(detail EvalDetail, event insight.Event) {
	a.entries[detail.KeyName] = &allFlagsEntry{detail: detail, event: event}
}

// Success reports whether the evaluations were performed.
func (a *AllFlagStates) Success() bool { return a.success }

// Message is "OK" on success, or the reason the evaluations could not be
// performed.
func (a *AllFlagStates) Message() string { return a.message }

// KeyNames returns the keys of all evaluated flags, sorted.
func (a *AllFlagStates) KeyNames() []string {
	a.lock.Lock()
	defer a.lock.Unlock()
	keys := make([]string, 0, len(a.entries))
	for key := range a.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the evaluation detail of one flag. The flag's usage event is
// sent to the feature flag center on the first call for each key.
func (a *AllFlagStates) Get(keyName string) (EvalDetail, bool) {
	a.lock.Lock()
	entry, ok := a.entries[keyName]
	var event insight.Event
	if ok && entry.event != nil {
		event = entry.event
		entry.event = nil
	}
	a.lock.Unlock()

	if !ok {
		return EvalDetail{}, false
	}
	if event != nil && a.eventHandler != nil {
		a.eventHandler(event)
	}
	return entry.detail, true
}
