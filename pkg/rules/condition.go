package rules

import (
	"encoding/json"
	"strconv"
)

// Condition compares one field of an event body against a target value.
// Evaluation is pure: the same body always yields the same verdict.
type Condition struct {
	Field    string
	Operator string
	// RawValue is the JSON-encoded target; it is coerced to the observed
	// value's type at evaluation time.
	RawValue string
}

// IsEmpty reports whether the rule carries no condition at all. An empty
// condition always holds, which is what scheduled rules rely on.
func (c Condition) IsEmpty() bool {
	return c.Field == ""
}

// Eval looks up the field in the body and applies the operator. A missing
// field is false. A target value that cannot be coerced to the observed
// value's type is false.
func (c Condition) Eval(body map[string]any) bool {
	if c.IsEmpty() {
		return true
	}
	observed, ok := body[c.Field]
	if !ok {
		return false
	}

	switch v := observed.(type) {
	case float64:
		target, ok := c.targetNumber()
		if !ok {
			return false
		}
		return compareNumbers(v, target, c.Operator)
	case int:
		target, ok := c.targetNumber()
		if !ok {
			return false
		}
		return compareNumbers(float64(v), target, c.Operator)
	case int64:
		target, ok := c.targetNumber()
		if !ok {
			return false
		}
		return compareNumbers(float64(v), target, c.Operator)
	case bool:
		target, ok := c.targetBool()
		if !ok {
			return false
		}
		switch c.Operator {
		case "==":
			return v == target
		case "!=":
			return v != target
		}
		return false
	case string:
		target := c.targetString()
		return compareStrings(v, target, c.Operator)
	default:
		return false
	}
}

// targetNumber decodes the raw target as a number, accepting both bare
// numbers and quoted numeric strings.
func (c Condition) targetNumber() (float64, bool) {
	var f float64
	if err := json.Unmarshal([]byte(c.RawValue), &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal([]byte(c.RawValue), &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	if f, err := strconv.ParseFloat(c.RawValue, 64); err == nil {
		return f, true
	}
	return 0, false
}

func (c Condition) targetBool() (bool, bool) {
	var b bool
	if err := json.Unmarshal([]byte(c.RawValue), &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal([]byte(c.RawValue), &s); err == nil {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}

func (c Condition) targetString() string {
	var s string
	if err := json.Unmarshal([]byte(c.RawValue), &s); err == nil {
		return s
	}
	return c.RawValue
}

func compareNumbers(observed, target float64, op string) bool {
	switch op {
	case "==":
		return observed == target
	case "!=":
		return observed != target
	case ">":
		return observed > target
	case "<":
		return observed < target
	case ">=":
		return observed >= target
	case "<=":
		return observed <= target
	}
	return false
}

func compareStrings(observed, target, op string) bool {
	switch op {
	case "==":
		return observed == target
	case "!=":
		return observed != target
	case ">":
		return observed > target
	case "<":
		return observed < target
	case ">=":
		return observed >= target
	case "<=":
		return observed <= target
	}
	return false
}
