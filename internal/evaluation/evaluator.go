// Package evaluation implements the feature flag evaluation pipeline: flag
// state, individual targeting, rule matching and percentage rollouts.
package evaluation

import (
	"encoding/json"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/fbuser"
)

// NoVariation is the variation id reported when evaluation did not produce a
// variation.
const NoVariation = "NE"

// Evaluation reason descriptions.
const (
	ReasonClientNotReady   = "client not ready"
	ReasonFlagNotFound     = "flag not found"
	ReasonError            = "error in evaluation"
	ReasonUserNotSpecified = "user not specified"
	ReasonWrongType        = "wrong type"
	ReasonFlagOff          = "flag off"
	ReasonTargetMatch      = "target match"
	ReasonRuleMatch        = "rule match"
	ReasonFallthrough      = "fall through all rules"
)

// Placeholders used in results when the flag itself could not be resolved.
const (
	FlagKeyUnknown  = "flag key unknown"
	FlagNameUnknown = "flag name unknown"
)

const exptKeyPrefix = "expt"

// FlagGetter returns the flag with the given key, or nil if it is not known.
type FlagGetter func(key string) *datamodel.FeatureFlag

// SegmentGetter returns the segment with the given id, or nil if it is not
// known.
type SegmentGetter func(id string) *datamodel.Segment

// Result is the outcome of evaluating one flag for one user. Value is the
// variation's raw string form; conversion to the flag's value type happens at
// the client surface.
type Result struct {
	ID               string
	Value            string
	Reason           string
	SendToExperiment bool
	KeyName          string
	Name             string
	FlagType         string
}

// IsSuccess reports whether evaluation produced a real variation.
func (r Result) IsSuccess() bool {
	return r.ID != NoVariation
}

// ErrorResult builds a Result for a failed evaluation, carrying the caller's
// default value.
func ErrorResult(defaultValue, reason, keyName, flagType string) Result {
	if keyName == "" {
		keyName = FlagKeyUnknown
	}
	return Result{
		ID:       NoVariation,
		Value:    defaultValue,
		Reason:   reason,
		KeyName:  keyName,
		Name:     FlagNameUnknown,
		FlagType: flagType,
	}
}

// Evaluator evaluates feature flags against users. Flags and segments are
// looked up through the getters so the evaluator stays decoupled from the
// data storage.
type Evaluator struct {
	flagGetter    FlagGetter
	segmentGetter SegmentGetter
}

func NewEvaluator(flagGetter FlagGetter, segmentGetter SegmentGetter) *Evaluator {
	return &Evaluator{flagGetter: flagGetter, segmentGetter: segmentGetter}
}

// Evaluate runs the pipeline for one flag: disabled state, then individual
// targets, then rules in order, then the fallthrough rollout.
func (e *Evaluator) Evaluate(flag *datamodel.FeatureFlag, user fbuser.User) Result {
	if result, ok := e.matchFlagDisabled(flag); ok {
		return result
	}
	if result, ok := e.matchTargetedUser(flag, user); ok {
		return result
	}
	if result, ok := e.matchRules(flag, user); ok {
		return result
	}
	if result, ok := e.rolloutVariation(flag, flag.Fallthrough, user, ReasonFallthrough); ok {
		return result
	}
	// a well-formed fallthrough covers the whole percentage range, so this
	// only happens with corrupt flag data
	return ErrorResult("", ReasonError, flag.Key, flag.VariationType)
}

func (e *Evaluator) matchFlagDisabled(flag *datamodel.FeatureFlag) (Result, bool) {
	if flag.IsEnabled {
		return Result{}, false
	}
	return Result{
		ID:       flag.DisabledVariationID,
		Value:    flag.VariationMap[flag.DisabledVariationID],
		Reason:   ReasonFlagOff,
		KeyName:  flag.Key,
		Name:     flag.Name,
		FlagType: flag.VariationType,
	}, true
}

func (e *Evaluator) matchTargetedUser(flag *datamodel.FeatureFlag, user fbuser.User) (Result, bool) {
	for _, target := range flag.TargetUsers {
		for _, keyID := range target.KeyIDs {
			if keyID == user.GetKey() {
				return Result{
					ID:               target.VariationID,
					Value:            flag.VariationMap[target.VariationID],
					Reason:           ReasonTargetMatch,
					SendToExperiment: flag.ExptIncludeAllTargets,
					KeyName:          flag.Key,
					Name:             flag.Name,
					FlagType:         flag.VariationType,
				}, true
			}
		}
	}
	return Result{}, false
}

func (e *Evaluator) matchRules(flag *datamodel.FeatureFlag, user fbuser.User) (Result, bool) {
	for _, rule := range flag.Rules {
		if e.matchAllConditions(user, rule.Conditions) {
			return e.rolloutVariation(flag, rule.RolloutDispatch, user, ReasonRuleMatch)
		}
	}
	return Result{}, false
}

// matchAllConditions requires every condition to match; rules never have an
// empty condition list.
func (e *Evaluator) matchAllConditions(user fbuser.User, conditions []datamodel.Condition) bool {
	for _, condition := range conditions {
		if !e.matchCondition(user, condition) {
			return false
		}
	}
	return true
}

// matchAnySegment treats the condition value as a JSON array of segment ids
// and reports whether the user belongs to any of them.
func (e *Evaluator) matchAnySegment(user fbuser.User, condition datamodel.Condition) bool {
	var segmentIDs []string
	if err := json.Unmarshal([]byte(condition.Value), &segmentIDs); err != nil {
		return false
	}
	for _, segmentID := range segmentIDs {
		if e.matchSegment(user, e.segmentGetter(segmentID)) {
			return true
		}
	}
	return false
}

func (e *Evaluator) matchSegment(user fbuser.User, segment *datamodel.Segment) bool {
	if segment == nil {
		return false
	}
	userKey := user.GetKey()
	for _, excluded := range segment.Excluded {
		if excluded == userKey {
			return false
		}
	}
	for _, included := range segment.Included {
		if included == userKey {
			return true
		}
	}
	for _, rule := range segment.Rules {
		if e.matchAllConditions(user, rule.Conditions) {
			return true
		}
	}
	return false
}

// rolloutVariation picks the variation whose percentage range contains the
// user, and decides whether the evaluation is included in an experiment.
func (e *Evaluator) rolloutVariation(flag *datamodel.FeatureFlag, dispatch datamodel.RolloutDispatch, user fbuser.User, reason string) (Result, bool) {
	dispatchKey := dispatch.DispatchKey
	if dispatchKey == "" {
		dispatchKey = "keyid"
	}
	dispatchValue, _ := user.GetAttribute(dispatchKey)
	dispatchKeyValue := flag.Key + dispatchValue

	for _, rollout := range dispatch.Variations {
		if hitsPercentage(dispatchKeyValue, rollout.Rollout[0], rollout.Rollout[1]) {
			return Result{
				ID:               rollout.ID,
				Value:            flag.VariationMap[rollout.ID],
				Reason:           reason,
				SendToExperiment: sendToExperiment(dispatchKeyValue, rollout, flag.ExptIncludeAllTargets, dispatch.IncludedInExpt),
				KeyName:          flag.Key,
				Name:             flag.Name,
				FlagType:         flag.VariationType,
			}, true
		}
	}
	return Result{}, false
}

// sendToExperiment decides experiment inclusion for a rollout hit. When only
// part of a variation's traffic feeds the experiment, a second hash over the
// "expt"-prefixed key picks that share.
func sendToExperiment(dispatchKeyValue string, rollout datamodel.RolloutVariation, exptIncludeAllTargets, includedInExpt bool) bool {
	if exptIncludeAllTargets {
		return true
	}
	if !includedInExpt {
		return false
	}
	exptPercentage := rollout.ExptRollout
	splitPercentage := rollout.Rollout[1] - rollout.Rollout[0]
	if exptPercentage == 0 || splitPercentage == 0 {
		return false
	}
	upperBound := exptPercentage / splitPercentage
	if upperBound > 1 {
		upperBound = 1
	}
	return hitsPercentage(exptKeyPrefix+dispatchKeyValue, 0, upperBound)
}
