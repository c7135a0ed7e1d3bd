package evaluation

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/fbuser"
)

// Condition operators as they appear in flag and segment rules.
const (
	opThan          = "Than"
	opGreaterEqual  = "BiggerEqualThan"
	opGreater       = "BiggerThan"
	opLessEqual     = "LessEqualThan"
	opLess          = "LessThan"
	opEqual         = "Equal"
	opNotEqual      = "NotEqual"
	opContains      = "Contains"
	opNotContain    = "NotContain"
	opIsOneOf       = "IsOneOf"
	opNotOneOf      = "NotOneOf"
	opStartsWith    = "StartsWith"
	opEndsWith      = "EndsWith"
	opIsTrue        = "IsTrue"
	opIsFalse       = "IsFalse"
	opMatchRegex    = "MatchRegex"
	opNotMatchRegex = "NotMatchRegex"
	opInSegment     = "User is in segment"
	opNotInSegment  = "User is not in segment"
)

func (e *Evaluator) matchCondition(user fbuser.User, condition datamodel.Condition) bool {
	op := condition.Op
	if op == "" {
		// segment conditions carry no operator; the property field holds it
		op = condition.Property
	}
	// all four numeric comparisons share the "Than" suffix
	if strings.Contains(op, opThan) {
		return matchThan(user, condition, op)
	}
	switch op {
	case opEqual:
		return matchEquals(user, condition)
	case opNotEqual:
		return !matchEquals(user, condition)
	case opContains:
		return matchContains(user, condition)
	case opNotContain:
		return !matchContains(user, condition)
	case opIsOneOf:
		return matchOneOf(user, condition)
	case opNotOneOf:
		return !matchOneOf(user, condition)
	case opStartsWith:
		pv, ok := user.GetAttribute(condition.Property)
		return ok && strings.HasPrefix(pv, condition.Value)
	case opEndsWith:
		pv, ok := user.GetAttribute(condition.Property)
		return ok && strings.HasSuffix(pv, condition.Value)
	case opIsTrue:
		pv, ok := user.GetAttribute(condition.Property)
		return ok && strings.EqualFold(pv, "true")
	case opIsFalse:
		pv, ok := user.GetAttribute(condition.Property)
		return ok && strings.EqualFold(pv, "false")
	case opMatchRegex:
		return matchRegex(user, condition)
	case opNotMatchRegex:
		return !matchRegex(user, condition)
	case opInSegment:
		return e.matchAnySegment(user, condition)
	case opNotInSegment:
		return !e.matchAnySegment(user, condition)
	default:
		return false
	}
}

func matchThan(user fbuser.User, condition datamodel.Condition, op string) bool {
	raw, ok := user.GetAttribute(condition.Property)
	if !ok {
		return false
	}
	pv, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	cv, err := strconv.ParseFloat(condition.Value, 64)
	if err != nil {
		return false
	}
	pv, cv = round5(pv), round5(cv)
	switch op {
	case opGreaterEqual:
		return pv >= cv
	case opGreater:
		return pv > cv
	case opLessEqual:
		return pv <= cv
	case opLess:
		return pv < cv
	default:
		return false
	}
}

// round5 rounds to five decimal places, matching the precision used by the
// flag center when it authored the rule.
func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

func matchEquals(user fbuser.User, condition datamodel.Condition) bool {
	pv, ok := user.GetAttribute(condition.Property)
	return ok && pv == condition.Value
}

func matchContains(user fbuser.User, condition datamodel.Condition) bool {
	pv, ok := user.GetAttribute(condition.Property)
	return ok && strings.Contains(pv, condition.Value)
}

// matchOneOf treats the condition value as a JSON array of strings.
func matchOneOf(user fbuser.User, condition datamodel.Condition) bool {
	pv, ok := user.GetAttribute(condition.Property)
	if !ok {
		return false
	}
	var values []string
	if err := json.Unmarshal([]byte(condition.Value), &values); err != nil {
		return false
	}
	for _, value := range values {
		if value == pv {
			return true
		}
	}
	return false
}

func matchRegex(user fbuser.User, condition datamodel.Condition) bool {
	pv, ok := user.GetAttribute(condition.Property)
	if !ok {
		return false
	}
	matched, err := regexp.MatchString(condition.Value, pv)
	return err == nil && matched
}
