// Package models provides condition evaluation for workflow entry and step
// applicability checks.
package models

import (
	"fmt"
	"strconv"
)

// ConditionOperator is the closed set of comparison operators a condition may
// use. There is intentionally no expression language here.
type ConditionOperator string

const (
	OpEquals       ConditionOperator = "eq"
	OpNotEquals    ConditionOperator = "neq"
	OpGreaterThan  ConditionOperator = "gt"
	OpGreaterOrEq  ConditionOperator = "gte"
	OpLessThan     ConditionOperator = "lt"
	OpLessOrEq     ConditionOperator = "lte"
	OpExists       ConditionOperator = "exists"
	OpDoesNotExist ConditionOperator = "missing"
)

// Condition compares one snapshot field against a literal value.
type Condition struct {
	Field    string            `json:"field"           validate:"required"`
	Operator ConditionOperator `json:"operator"        validate:"required,oneof=eq neq gt gte lt lte exists missing"`
	Value    any               `json:"value,omitempty"`
}

// ConditionSet is an AND-combined list of conditions. An empty set evaluates
// to true.
type ConditionSet []Condition

func (cs ConditionSet) Evaluate(snapshot EntitySnapshot) (bool, error) {
	for _, c := range cs {
		ok, err := c.Evaluate(snapshot)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func (c Condition) Evaluate(snapshot EntitySnapshot) (bool, error) {
	switch c.Operator {
	case OpExists:
		return snapshot.Has(c.Field), nil
	case OpDoesNotExist:
		return !snapshot.Has(c.Field), nil
	case OpEquals:
		return equal(snapshot[c.Field], c.Value), nil
	case OpNotEquals:
		return !equal(snapshot[c.Field], c.Value), nil
	case OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq:
		left, ok := snapshot.Number(c.Field)
		if !ok {
			return false, nil
		}

		right, err := toNumber(c.Value)
		if err != nil {
			return false, fmt.Errorf("condition on field %q: %w", c.Field, err)
		}

		switch c.Operator {
		case OpGreaterThan:
			return left > right, nil
		case OpGreaterOrEq:
			return left >= right, nil
		case OpLessThan:
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("unknown condition operator: %q", c.Operator)
	}
}

// equal compares snapshot and literal values, treating all numeric types as
// float64 so JSON-decoded and Go-built snapshots compare alike.
func equal(left, right any) bool {
	lnum, lok := numeric(left)

	rnum, rok := numeric(right)
	if lok && rok {
		return lnum == rnum
	}

	return left == right
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toNumber(value any) (float64, error) {
	if n, ok := numeric(value); ok {
		return n, nil
	}

	if s, ok := value.(string); ok {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number: %w", s, err)
		}

		return n, nil
	}

	return 0, fmt.Errorf("cannot convert %T to number", value)
}
