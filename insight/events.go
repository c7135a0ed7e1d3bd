// Package insight implements the event pipeline that reports flag usage,
// metrics and user identities back to the feature flag center.
package insight

import (
	"time"

	"github.com/featbit/go-server-sdk/fbuser"
)

// Metric wire constants. The app type identifies which SDK produced the
// metric.
const (
	metricRoute = "index/metric"
	metricType  = "CustomEvent"
	appType     = "goserverside"
)

// Event is anything that can be queued on the event processor.
type Event interface {
	// IsSendEvent reports whether the event carries anything worth sending.
	IsSendEvent() bool
}

// EventProcessor queues events and periodically delivers them to the insight
// endpoint.
type EventProcessor interface {
	// SendEvent queues an event for delivery. It never blocks; when the queue
	// is full the event is dropped.
	SendEvent(event Event)

	// Flush asynchronously triggers a delivery of everything queued so far.
	Flush()

	// Close delivers any remaining events and shuts the processor down.
	Close() error
}

// UserEvent reports a user identity with no flag usage attached.
type UserEvent struct {
	User fbuser.User `json:"user"`
}

func NewUserEvent(user fbuser.User) *UserEvent {
	return &UserEvent{User: user}
}

func (e *UserEvent) IsSendEvent() bool { return true }

// EventVariation is the evaluation outcome attached to a flag event.
type EventVariation struct {
	ID     string `json:"id"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// FlagEventVariation is one flag evaluation within a FlagEvent.
type FlagEventVariation struct {
	FeatureFlagKey   string         `json:"featureFlagKey"`
	SendToExperiment bool           `json:"sendToExperiment"`
	Timestamp        int64          `json:"timestamp"`
	Variation        EventVariation `json:"variation"`
}

// NewFlagEventVariation stamps a variation with the current time.
func NewFlagEventVariation(flagKey string, sendToExperiment bool, variation EventVariation) FlagEventVariation {
	return FlagEventVariation{
		FeatureFlagKey:   flagKey,
		SendToExperiment: sendToExperiment,
		Timestamp:        time.Now().UnixMilli(),
		Variation:        variation,
	}
}

// FlagEvent reports one or more flag evaluations for a single user.
type FlagEvent struct {
	User       fbuser.User          `json:"user"`
	Variations []FlagEventVariation `json:"variations"`
}

func NewFlagEvent(user fbuser.User) *FlagEvent {
	return &FlagEvent{User: user, Variations: []FlagEventVariation{}}
}

// AddVariation appends an evaluation outcome to the event.
func (e *FlagEvent) AddVariation(variation FlagEventVariation) *FlagEvent {
	e.Variations = append(e.Variations, variation)
	return e
}

func (e *FlagEvent) IsSendEvent() bool { return len(e.Variations) > 0 }

// Metric is one named numeric measurement within a MetricEvent.
type Metric struct {
	EventName    string  `json:"eventName"`
	NumericValue float64 `json:"numericValue"`
	Route        string  `json:"route"`
	Type         string  `json:"type"`
	AppType      string  `json:"appType"`
	Timestamp    int64   `json:"timestamp"`
}

// NewMetric stamps a measurement with the current time and the fixed route
// and type expected by the insight endpoint.
func NewMetric(eventName string, value float64) Metric {
	return Metric{
		EventName:    eventName,
		NumericValue: value,
		Route:        metricRoute,
		Type:         metricType,
		AppType:      appType,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// MetricEvent reports one or more metrics for a single user.
type MetricEvent struct {
	User    fbuser.User `json:"user"`
	Metrics []Metric    `json:"metrics"`
}

func NewMetricEvent(user fbuser.User) *MetricEvent {
	return &MetricEvent{User: user, Metrics: []Metric{}}
}

// AddMetric appends a measurement to the event.
func (e *MetricEvent) AddMetric(metric Metric) *MetricEvent {
	e.Metrics = append(e.Metrics, metric)
	return e
}

func (e *MetricEvent) IsSendEvent() bool { return len(e.Metrics) > 0 }
