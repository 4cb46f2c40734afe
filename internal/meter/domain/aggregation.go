package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
)

// AggregationFunc reduces matching events to one number.
type AggregationFunc string

const (
	AggregationCount  AggregationFunc = "count"
	AggregationSum    AggregationFunc = "sum"
	AggregationUnique AggregationFunc = "unique"
)

// Aggregation binds a function to an optional metadata property. count
// ignores the property; sum and unique require one.
type Aggregation struct {
	Func     AggregationFunc `json:"func"`
	Property string          `json:"property,omitempty"`
}

// Validate runs at meter creation time.
func (a Aggregation) Validate() error {
	switch a.Func {
	case AggregationCount:
		return nil
	case AggregationSum, AggregationUnique:
		if strings.TrimSpace(a.Property) == "" {
			return fmt.Errorf("%w: %s requires a property", ErrInvalidAggregation, a.Func)
		}
		return nil
	default:
		return fmt.Errorf("%w: function %q", ErrInvalidAggregation, a.Func)
	}
}

// Aggregate reduces a set of events in one pass.
func (a Aggregation) Aggregate(events []eventdomain.Event) decimal.Decimal {
	acc := a.NewAccumulator()
	total := decimal.Zero
	for i := range events {
		total = total.Add(acc.Fold(&events[i]))
	}
	return total
}

// Accumulator folds events one at a time, returning the delta each event
// contributes. This is what lets customer meters advance incrementally
// instead of recomputing from scratch.
type Accumulator interface {
	Fold(e *eventdomain.Event) decimal.Decimal
}

func (a Aggregation) NewAccumulator() Accumulator {
	switch a.Func {
	case AggregationSum:
		return sumAccumulator{property: a.Property}
	case AggregationUnique:
		return &uniqueAccumulator{property: a.Property, seen: make(map[string]struct{})}
	default:
		return countAccumulator{}
	}
}

type countAccumulator struct{}

func (countAccumulator) Fold(*eventdomain.Event) decimal.Decimal {
	return decimal.NewFromInt(1)
}

// sumAccumulator sums the numeric value at the property. Non-numeric or
// missing values contribute zero, silently.
type sumAccumulator struct {
	property string
}

func (a sumAccumulator) Fold(e *eventdomain.Event) decimal.Decimal {
	return e.MetadataValue(a.property).Decimal()
}

// uniqueAccumulator counts distinct scalar values at the property over the
// accumulator's lifetime.
type uniqueAccumulator struct {
	property string
	seen     map[string]struct{}
}

func (a *uniqueAccumulator) Fold(e *eventdomain.Event) decimal.Decimal {
	v := e.MetadataValue(a.property)
	if v.Kind == eventdomain.KindNull {
		return decimal.Zero
	}
	key := v.Key()
	if _, ok := a.seen[key]; ok {
		return decimal.Zero
	}
	a.seen[key] = struct{}{}
	return decimal.NewFromInt(1)
}
