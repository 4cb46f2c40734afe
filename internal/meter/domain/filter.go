package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
)

// FilterConjunction joins the clauses of one filter node.
type FilterConjunction string

const (
	FilterConjunctionAnd FilterConjunction = "and"
	FilterConjunctionOr  FilterConjunction = "or"
)

// FilterOperator compares one event property against a clause value.
type FilterOperator string

const (
	FilterOperatorEq      FilterOperator = "eq"
	FilterOperatorNe      FilterOperator = "ne"
	FilterOperatorGt      FilterOperator = "gt"
	FilterOperatorGte     FilterOperator = "gte"
	FilterOperatorLt      FilterOperator = "lt"
	FilterOperatorLte     FilterOperator = "lte"
	FilterOperatorLike    FilterOperator = "like"
	FilterOperatorNotLike FilterOperator = "not_like"
)

func (op FilterOperator) valid() bool {
	switch op {
	case FilterOperatorEq, FilterOperatorNe,
		FilterOperatorGt, FilterOperatorGte,
		FilterOperatorLt, FilterOperatorLte,
		FilterOperatorLike, FilterOperatorNotLike:
		return true
	}
	return false
}

// Filter is a boolean predicate tree. An AND node with zero clauses matches
// every event (the default "match everything" meter); an OR node with zero
// clauses matches none. That asymmetry is load-bearing.
type Filter struct {
	Conjunction FilterConjunction `json:"conjunction"`
	Clauses     []FilterNode      `json:"clauses"`
}

// MatchAll is the empty-AND filter.
func MatchAll() Filter {
	return Filter{Conjunction: FilterConjunctionAnd}
}

// FilterClause compares one property against one value.
type FilterClause struct {
	Property string            `json:"property"`
	Operator FilterOperator    `json:"operator"`
	Value    eventdomain.Value `json:"-"`

	// RawValue carries the JSON form of Value.
	RawValue any `json:"value"`
}

// FilterNode is either a nested filter group or a leaf clause.
type FilterNode struct {
	Group  *Filter       `json:"-"`
	Clause *FilterClause `json:"-"`
}

func (n FilterNode) MarshalJSON() ([]byte, error) {
	if n.Group != nil {
		return json.Marshal(n.Group)
	}
	if n.Clause != nil {
		n.Clause.RawValue = clauseRaw(n.Clause.Value)
		return json.Marshal(n.Clause)
	}
	return []byte("null"), nil
}

func (n *FilterNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Conjunction *FilterConjunction `json:"conjunction"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Conjunction != nil {
		var group Filter
		if err := json.Unmarshal(data, &group); err != nil {
			return err
		}
		n.Group = &group
		return nil
	}

	var clause FilterClause
	if err := json.Unmarshal(data, &clause); err != nil {
		return err
	}
	clause.Value = eventdomain.ValueOf(clause.RawValue)
	n.Clause = &clause
	return nil
}

func clauseRaw(v eventdomain.Value) any {
	switch v.Kind {
	case eventdomain.KindString:
		return v.Str
	case eventdomain.KindNumber:
		return v.Num
	case eventdomain.KindBool:
		return v.Bool
	default:
		return nil
	}
}

// Validate rejects unsupported operators and empty clause properties. Runs at
// meter creation; evaluation itself never errors.
func (f Filter) Validate() error {
	switch f.Conjunction {
	case FilterConjunctionAnd, FilterConjunctionOr:
	default:
		return fmt.Errorf("%w: conjunction %q", ErrInvalidFilter, f.Conjunction)
	}
	for _, node := range f.Clauses {
		switch {
		case node.Group != nil:
			if err := node.Group.Validate(); err != nil {
				return err
			}
		case node.Clause != nil:
			if strings.TrimSpace(node.Clause.Property) == "" {
				return fmt.Errorf("%w: empty property", ErrInvalidFilter)
			}
			if !node.Clause.Operator.valid() {
				return fmt.Errorf("%w: operator %q", ErrInvalidFilter, node.Clause.Operator)
			}
		default:
			return fmt.Errorf("%w: empty node", ErrInvalidFilter)
		}
	}
	return nil
}

// Matches evaluates the predicate tree against one event.
func (f Filter) Matches(e *eventdomain.Event) bool {
	if len(f.Clauses) == 0 {
		return f.Conjunction == FilterConjunctionAnd
	}
	for _, node := range f.Clauses {
		matched := false
		switch {
		case node.Group != nil:
			matched = node.Group.Matches(e)
		case node.Clause != nil:
			matched = node.Clause.matches(e)
		}
		if f.Conjunction == FilterConjunctionAnd && !matched {
			return false
		}
		if f.Conjunction == FilterConjunctionOr && matched {
			return true
		}
	}
	return f.Conjunction == FilterConjunctionAnd
}

// matches applies the stored-value type policy: strings compare as strings
// whatever the clause asked for; numbers and booleans compare only against a
// clause value of the same kind. Missing properties never match.
func (c *FilterClause) matches(e *eventdomain.Event) bool {
	stored := e.Property(c.Property)
	switch stored.Kind {
	case eventdomain.KindString:
		return compareStrings(stored.Str, clauseString(c.Value), c.Operator)
	case eventdomain.KindNumber:
		if c.Value.Kind != eventdomain.KindNumber {
			return false
		}
		return compareNumbers(stored.Num, c.Value.Num, c.Operator)
	case eventdomain.KindBool:
		if c.Value.Kind != eventdomain.KindBool {
			return false
		}
		return compareBools(stored.Bool, c.Value.Bool, c.Operator)
	default:
		return false
	}
}

func clauseString(v eventdomain.Value) string {
	switch v.Kind {
	case eventdomain.KindString:
		return v.Str
	case eventdomain.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case eventdomain.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func compareStrings(stored, requested string, op FilterOperator) bool {
	switch op {
	case FilterOperatorEq:
		return stored == requested
	case FilterOperatorNe:
		return stored != requested
	case FilterOperatorGt:
		return stored > requested
	case FilterOperatorGte:
		return stored >= requested
	case FilterOperatorLt:
		return stored < requested
	case FilterOperatorLte:
		return stored <= requested
	case FilterOperatorLike:
		return strings.Contains(strings.ToLower(stored), strings.ToLower(requested))
	case FilterOperatorNotLike:
		return !strings.Contains(strings.ToLower(stored), strings.ToLower(requested))
	}
	return false
}

func compareNumbers(stored, requested float64, op FilterOperator) bool {
	switch op {
	case FilterOperatorEq:
		return stored == requested
	case FilterOperatorNe:
		return stored != requested
	case FilterOperatorGt:
		return stored > requested
	case FilterOperatorGte:
		return stored >= requested
	case FilterOperatorLt:
		return stored < requested
	case FilterOperatorLte:
		return stored <= requested
	}
	return false
}

func compareBools(stored, requested bool, op FilterOperator) bool {
	switch op {
	case FilterOperatorEq:
		return stored == requested
	case FilterOperatorNe:
		return stored != requested
	}
	return false
}
