package fbclient

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/fbuser"
	"github.com/featbit/go-server-sdk/insight"
	"github.com/featbit/go-server-sdk/interfaces"
	"github.com/featbit/go-server-sdk/internal/datasource"
	"github.com/featbit/go-server-sdk/internal/datastatus"
	"github.com/featbit/go-server-sdk/internal/datastore"
	"github.com/featbit/go-server-sdk/internal/evaluation"
	"github.com/featbit/go-server-sdk/internal/notices"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// Initialization errors returned by MakeClient. In both cases the client
// object is still returned: evaluations fall back to default values until the
// SDK finishes synchronizing in the background.
var (
	ErrInitializationTimeout = errors.New("timeout encountered waiting for client initialization")
	ErrInitializationFailed  = errors.New("client initialization failed")
)

// FBClient is the FeatBit server-side SDK client.
//
// A single client instance should be created at application startup with
// MakeClient and shared across the application; it maintains a streaming
// connection to the feature flag center, a local replica of all flag and
// segment definitions, and a background delivery pipeline for analytics
// events. Close must be called on shutdown to release those resources.
type FBClient struct {
	config            Config
	loggers           ldlog.Loggers
	offline           bool
	dataStorage       interfaces.DataStorage
	statusProvider    *datastatus.Provider
	updateProcessor   interfaces.UpdateProcessor
	eventProcessor    insight.EventProcessor
	noticeBroadcaster *notices.Broadcaster
	evaluator         *evaluation.Evaluator
	flagTracker       *FlagTracker
	closeOnce         sync.Once
}

// MakeClient creates a client and blocks up to startWait for it to receive
// its first complete set of flag data. On timeout or permanent failure the
// client is returned together with a non-nil error; it is still usable and
// will keep trying to synchronize in the background, serving default values
// in the meantime. A startWait of zero or less skips the wait entirely.
func MakeClient(config Config, startWait time.Duration) (*FBClient, error) {
	config = config.normalize()
	if err := config.validate(); err != nil {
		return nil, err
	}
	loggers := config.Loggers

	client := &FBClient{
		config:  config,
		loggers: loggers,
		offline: config.Offline,
	}

	storage := config.DataStorage
	if storage == nil {
		storage = datastore.NewInMemoryDataStorage(loggers)
	}
	client.dataStorage = storage
	client.statusProvider = datastatus.NewUpdateStatusProvider(storage, loggers)
	client.noticeBroadcaster = notices.NewBroadcaster(loggers)
	client.evaluator = evaluation.NewEvaluator(client.getFlag, client.getSegment)
	client.flagTracker = newFlagTracker(client)

	if err := client.buildEventProcessor(config); err != nil {
		return nil, err
	}
	if err := client.buildUpdateProcessor(config); err != nil {
		_ = client.eventProcessor.Close()
		return nil, err
	}

	closeWhenReady := make(chan struct{})
	client.updateProcessor.Start(closeWhenReady)
	if startWait <= 0 {
		loggers.Info("FeatBit client initializing asynchronously")
		return client, nil
	}

	if !client.offline {
		loggers.Infof("waiting up to %v for FeatBit client initialization", startWait)
	}
	timer := time.NewTimer(startWait)
	defer timer.Stop()
	select {
	case <-closeWhenReady:
		if !client.updateProcessor.IsInitialized() {
			loggers.Warn("FeatBit client initialization failed")
			return client, ErrInitializationFailed
		}
		loggers.Info("FeatBit client initialized")
		return client, nil
	case <-timer.C:
		loggers.Warn("timeout encountered waiting for FeatBit client initialization")
		return client, ErrInitializationTimeout
	}
}

func (c *FBClient) buildEventProcessor(config Config) error {
	var sender insight.Sender
	if !c.offline {
		httpClient, err := buildHTTPClient(config.HTTP)
		if err != nil {
			return fmt.Errorf("invalid HTTP configuration: %w", err)
		}
		sender = insight.NewDefaultSender("insight", httpClient, buildHeaders(config.EnvSecret),
			config.EventsRetryInterval, config.EventsMaxRetries, c.loggers)
	}
	switch {
	case config.EventProcessorFactory != nil:
		processor, err := config.EventProcessorFactory(config, sender)
		if err != nil {
			return err
		}
		c.eventProcessor = processor
	case c.offline:
		c.eventProcessor = insight.NewNullEventProcessor()
	default:
		c.eventProcessor = insight.NewDefaultEventProcessor(sender, config.eventsURI(),
			config.EventsMaxInQueue, config.EventsFlushInterval, c.loggers)
	}
	return nil
}

func (c *FBClient) buildUpdateProcessor(config Config) error {
	if c.offline {
		c.loggers.Info("FeatBit client is in offline mode; no connection is made to the feature flag center")
		c.updateProcessor = datasource.NewNullUpdateProcessor(c.statusProvider, c.loggers)
		return nil
	}
	if config.UpdateProcessorFactory != nil {
		processor, err := config.UpdateProcessorFactory(config, c.statusProvider)
		if err != nil {
			return err
		}
		c.updateProcessor = processor
		return nil
	}
	dialer, err := buildWebSocketDialer(config.WebSocket, config.HTTP)
	if err != nil {
		return fmt.Errorf("invalid WebSocket configuration: %w", err)
	}
	c.updateProcessor = datasource.NewStreaming(c.statusProvider, config.streamingURI(),
		config.EnvSecret, buildHeaders(config.EnvSecret), dialer,
		config.StreamingFirstRetryDelay, c.noticeBroadcaster.Broadcast, c.loggers)
	return nil
}

// IsInitialized reports whether the client has received a complete set of
// flag data. Evaluations before that point return default values.
func (c *FBClient) IsInitialized() bool {
	return c.updateProcessor.IsInitialized()
}

// IsOffline reports whether the client was configured to run offline.
func (c *FBClient) IsOffline() bool {
	return c.offline
}

// GetUpdateStatusProvider exposes the status of the data update process, for
// applications that want to monitor or wait on it.
func (c *FBClient) GetUpdateStatusProvider() interfaces.DataUpdateStatusProvider {
	return c.statusProvider
}

// GetFlagTracker returns the tracker for subscribing to flag change
// notifications.
func (c *FBClient) GetFlagTracker() *FlagTracker {
	return c.flagTracker
}

// Close shuts down the client: the streaming connection is closed, pending
// analytics events are flushed and delivered, and all background goroutines
// are stopped. The client cannot be used afterwards. Close is safe to call
// more than once.
func (c *FBClient) Close() error {
	c.closeOnce.Do(func() {
		c.loggers.Info("closing FeatBit client")
		_ = c.updateProcessor.Close()
		_ = c.eventProcessor.Close()
		c.noticeBroadcaster.Stop()
		c.statusProvider.Close()
		_ = c.dataStorage.Close()
	})
	return nil
}

// Variation evaluates a feature flag for a user and returns the variation as
// an ldvalue.Value of the flag's value type. defaultValue is returned, with a
// non-nil error, when evaluation cannot produce a variation.
func (c *FBClient) Variation(featureFlagKey string, user fbuser.User, defaultValue ldvalue.Value) (ldvalue.Value, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, defaultValue, "")
	return detail.Variation, err
}

// VariationDetail evaluates a feature flag for a user and returns the full
// evaluation state, including the reason that produced the value.
func (c *FBClient) VariationDetail(featureFlagKey string, user fbuser.User, defaultValue ldvalue.Value) FlagState {
	result := c.evaluateInternal(featureFlagKey, user, defaultValue, "")
	return flagStateFromResult(result)
}

// BoolVariation evaluates a boolean feature flag.
func (c *FBClient) BoolVariation(featureFlagKey string, user fbuser.User, defaultValue bool) (bool, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.Bool(defaultValue), FlagTypeBool)
	return detail.Variation.BoolValue(), err
}

// BoolVariationDetail is BoolVariation with the evaluation detail.
func (c *FBClient) BoolVariationDetail(featureFlagKey string, user fbuser.User, defaultValue bool) (bool, EvalDetail, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.Bool(defaultValue), FlagTypeBool)
	return detail.Variation.BoolValue(), detail, err
}

// StringVariation evaluates a string feature flag.
func (c *FBClient) StringVariation(featureFlagKey string, user fbuser.User, defaultValue string) (string, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.String(defaultValue), FlagTypeString)
	return detail.Variation.StringValue(), err
}

// StringVariationDetail is StringVariation with the evaluation detail.
func (c *FBClient) StringVariationDetail(featureFlagKey string, user fbuser.User, defaultValue string) (string, EvalDetail, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.String(defaultValue), FlagTypeString)
	return detail.Variation.StringValue(), detail, err
}

// Float64Variation evaluates a numeric feature flag.
func (c *FBClient) Float64Variation(featureFlagKey string, user fbuser.User, defaultValue float64) (float64, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.Float64(defaultValue), FlagTypeNumber)
	return detail.Variation.Float64Value(), err
}

// Float64VariationDetail is Float64Variation with the evaluation detail.
func (c *FBClient) Float64VariationDetail(featureFlagKey string, user fbuser.User, defaultValue float64) (float64, EvalDetail, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.Float64(defaultValue), FlagTypeNumber)
	return detail.Variation.Float64Value(), detail, err
}

// IntVariation evaluates a numeric feature flag, truncating the variation to
// an int.
func (c *FBClient) IntVariation(featureFlagKey string, user fbuser.User, defaultValue int) (int, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.Int(defaultValue), FlagTypeNumber)
	return detail.Variation.IntValue(), err
}

// IntVariationDetail is IntVariation with the evaluation detail.
func (c *FBClient) IntVariationDetail(featureFlagKey string, user fbuser.User, defaultValue int) (int, EvalDetail, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, ldvalue.Int(defaultValue), FlagTypeNumber)
	return detail.Variation.IntValue(), detail, err
}

// JSONVariation evaluates a JSON feature flag.
func (c *FBClient) JSONVariation(featureFlagKey string, user fbuser.User, defaultValue ldvalue.Value) (ldvalue.Value, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, defaultValue, FlagTypeJSON)
	return detail.Variation, err
}

// JSONVariationDetail is JSONVariation with the evaluation detail.
func (c *FBClient) JSONVariationDetail(featureFlagKey string, user fbuser.User, defaultValue ldvalue.Value) (ldvalue.Value, EvalDetail, error) {
	detail, err := c.evaluateDetail(featureFlagKey, user, defaultValue, FlagTypeJSON)
	return detail.Variation, detail, err
}

// IsEnabled reports whether a flag's variation for the user reads as a true
// value ("true", "yes", "on", "1" and the usual shorthands). It returns false
// with a non-nil error when evaluation cannot produce a variation.
func (c *FBClient) IsEnabled(featureFlagKey string, user fbuser.User) (bool, error) {
	result := c.evaluateInternal(featureFlagKey, user, ldvalue.Bool(false), "")
	if !result.IsSuccess() {
		return false, errors.New(result.Reason)
	}
	return strToBool(result.Value), nil
}

func strToBool(value string) bool {
	switch strings.ToLower(value) {
	case "y", "yes", "t", "true", "on", "1":
		return true
	default:
		return false
	}
}

// GetAllLatestFlagVariations evaluates every known feature flag for the user.
// The usage event of each flag is deferred until its state is actually read
// through AllFlagStates.Get.
func (c *FBClient) GetAllLatestFlagVariations(user fbuser.User) *AllFlagStates {
	if !c.IsInitialized() {
		c.loggers.Warn("evaluation is called before FeatBit client is initialized")
		return newAllFlagStates(false, evaluation.ReasonClientNotReady, nil)
	}
	if user.GetKey() == "" {
		return newAllFlagStates(false, evaluation.ReasonUserNotSpecified, nil)
	}

	states := newAllFlagStates(true, "", c.eventProcessor.SendEvent)
	for _, item := range c.dataStorage.GetAll(datamodel.FeatureFlags) {
		flag, ok := item.(*datamodel.FeatureFlag)
		if !ok {
			continue
		}
		result := c.evaluator.Evaluate(flag, user)
		detail := EvalDetail{
			Reason:    result.Reason,
			Variation: castVariation(result.FlagType, result.Value),
			KeyName:   result.KeyName,
			Name:      result.Name,
		}
		var event insight.Event
		if result.IsSuccess() {
			event = insight.NewFlagEvent(user).AddVariation(
				insight.NewFlagEventVariation(flag.Key, result.SendToExperiment, insight.EventVariation{
					ID:     result.ID,
					Value:  result.Value,
					Reason: result.Reason,
				}))
		}
		states.addEntry(detail, event)
	}
	return states
}

// IsFlagKnown reports whether a feature flag with the given key exists in the
// local replica.
func (c *FBClient) IsFlagKnown(featureFlagKey string) bool {
	if !c.IsInitialized() {
		c.loggers.Warnf("IsFlagKnown called before FeatBit client is initialized for flag %s", featureFlagKey)
		return false
	}
	return c.getFlag(featureFlagKey) != nil
}

// Identify registers a user with the feature flag center.
func (c *FBClient) Identify(user fbuser.User) error {
	if user.GetKey() == "" {
		return errors.New(evaluation.ReasonUserNotSpecified)
	}
	c.eventProcessor.SendEvent(insight.NewUserEvent(user))
	return nil
}

// TrackMetric reports a numeric metric for the user, for use in experiments.
// The metric weight must be positive.
func (c *FBClient) TrackMetric(user fbuser.User, eventName string, metricWeight float64) error {
	if user.GetKey() == "" {
		return errors.New(evaluation.ReasonUserNotSpecified)
	}
	if eventName == "" || metricWeight <= 0 {
		return errors.New("event name cannot be empty and metric weight must be positive")
	}
	c.eventProcessor.SendEvent(insight.NewMetricEvent(user).AddMetric(insight.NewMetric(eventName, metricWeight)))
	return nil
}

// TrackMetrics reports several metrics for the user in one event. Entries
// with an empty name or a non-positive weight are skipped.
func (c *FBClient) TrackMetrics(user fbuser.User, metrics map[string]float64) error {
	if user.GetKey() == "" {
		return errors.New(evaluation.ReasonUserNotSpecified)
	}
	event := insight.NewMetricEvent(user)
	for name, weight := range metrics {
		if name == "" || weight <= 0 {
			c.loggers.Warnf("metric %q with weight %v skipped", name, weight)
			continue
		}
		event.AddMetric(insight.NewMetric(name, weight))
	}
	c.eventProcessor.SendEvent(event)
	return nil
}

// Flush tells the client to deliver all buffered analytics events as soon as
// possible. It returns without waiting for the delivery to finish.
func (c *FBClient) Flush() {
	c.eventProcessor.Flush()
}

// InitializeFromExternalJson loads flag and segment data from a JSON document
// in the feature flag center's data-sync format. It is only available in
// offline mode, where it replaces the streaming channel as the data source.
func (c *FBClient) InitializeFromExternalJson(jsonData string) (bool, error) {
	if !c.offline {
		return false, errors.New("InitializeFromExternalJson is only available in offline mode")
	}
	if jsonData == "" {
		return false, errors.New("data is empty")
	}
	message, err := datamodel.ParseStreamingMessage([]byte(jsonData))
	if err != nil {
		return false, fmt.Errorf("invalid data: %w", err)
	}
	if !message.IsValidDataSync() || message.Data.EventType != datamodel.EventTypeFull {
		return false, errors.New("data is not a full data-sync payload")
	}
	version, allData := message.Data.ToStorageData()
	if !c.statusProvider.Init(allData, version) {
		return false, errors.New("data storage initialization failed")
	}
	c.statusProvider.UpdateState(interfaces.NewOKState())
	return true, nil
}

func (c *FBClient) getFlag(key string) *datamodel.FeatureFlag {
	if flag, ok := c.dataStorage.Get(datamodel.FeatureFlags, key).(*datamodel.FeatureFlag); ok {
		return flag
	}
	return nil
}

func (c *FBClient) getSegment(id string) *datamodel.Segment {
	if segment, ok := c.dataStorage.Get(datamodel.Segments, id).(*datamodel.Segment); ok {
		return segment
	}
	return nil
}

// evaluateInternal runs one evaluation end to end: fallback resolution, the
// preconditions that short-circuit to an error result, the evaluator itself,
// and the usage event. Fallback values configured in Config.Defaults take
// precedence over the per-call default.
func (c *FBClient) evaluateInternal(featureFlagKey string, user fbuser.User, defaultValue ldvalue.Value, expectedType string) evaluation.Result {
	if configured, ok := c.config.Defaults[featureFlagKey]; ok {
		defaultValue = configured
	}
	raw := rawDefaultValue(defaultValue)
	fallbackType := inferFlagType(defaultValue)

	if !c.IsInitialized() {
		c.loggers.Warn("evaluation is called before FeatBit client is initialized; default value returned")
		return evaluation.ErrorResult(raw, evaluation.ReasonClientNotReady, featureFlagKey, fallbackType)
	}
	if featureFlagKey == "" {
		return evaluation.ErrorResult(raw, evaluation.ReasonFlagNotFound, featureFlagKey, fallbackType)
	}
	flag := c.getFlag(featureFlagKey)
	if flag == nil {
		c.loggers.Warnf("unknown feature flag %s; default value returned", featureFlagKey)
		return evaluation.ErrorResult(raw, evaluation.ReasonFlagNotFound, featureFlagKey, fallbackType)
	}
	if user.GetKey() == "" {
		c.loggers.Warn("evaluation is called with an empty user; default value returned")
		return evaluation.ErrorResult(raw, evaluation.ReasonUserNotSpecified, featureFlagKey, fallbackType)
	}
	if expectedType != "" && flag.VariationType != expectedType {
		c.loggers.Warnf("flag %s is of type %s, not %s; default value returned",
			featureFlagKey, flag.VariationType, expectedType)
		return evaluation.ErrorResult(raw, evaluation.ReasonWrongType, featureFlagKey, fallbackType)
	}

	result := c.evaluator.Evaluate(flag, user)
	if result.IsSuccess() {
		c.eventProcessor.SendEvent(insight.NewFlagEvent(user).AddVariation(
			insight.NewFlagEventVariation(flag.Key, result.SendToExperiment, insight.EventVariation{
				ID:     result.ID,
				Value:  result.Value,
				Reason: result.Reason,
			})))
	}
	return result
}

func (c *FBClient) evaluateDetail(featureFlagKey string, user fbuser.User, defaultValue ldvalue.Value, expectedType string) (EvalDetail, error) {
	result := c.evaluateInternal(featureFlagKey, user, defaultValue, expectedType)
	detail := EvalDetail{
		Reason:    result.Reason,
		Variation: castVariation(result.FlagType, result.Value),
		KeyName:   result.KeyName,
		Name:      result.Name,
	}
	if !result.IsSuccess() {
		return detail, errors.New(result.Reason)
	}
	return detail, nil
}
