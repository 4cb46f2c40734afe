package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ValueKind tags the runtime JSON type of a metadata value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// Value is the tagged union metadata values are normalized into at the load
// boundary. Filter and aggregation logic switch on Kind instead of inspecting
// raw JSON types. Nested objects and arrays normalize to Null.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

func NullValue() Value            { return Value{Kind: KindNull} }
func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// ValueOf normalizes one raw JSON value.
func ValueOf(raw any) Value {
	switch v := raw.(type) {
	case string:
		return StringValue(v)
	case float64:
		return NumberValue(v)
	case float32:
		return NumberValue(float64(v))
	case int:
		return NumberValue(float64(v))
	case int64:
		return NumberValue(float64(v))
	case bool:
		return BoolValue(v)
	default:
		return NullValue()
	}
}

// Decimal converts a numeric value to decimal; non-numeric values yield zero.
func (v Value) Decimal() decimal.Decimal {
	if v.Kind != KindNumber {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v.Num)
}

// Key returns a canonical representation usable for distinct-value counting.
// Values of different kinds never collide.
func (v Value) Key() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.Str
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "b:true"
		}
		return "b:false"
	default:
		return ""
	}
}

// metadataPrefix is optional sugar on property paths; it is stripped before
// lookup so "metadata.tokens" and "tokens" address the same key.
const metadataPrefix = "metadata."

// MetadataValue looks up a metadata property. Missing keys degrade to Null.
func MetadataValue(m datatypes.JSONMap, property string) Value {
	property = strings.TrimPrefix(property, metadataPrefix)
	if m == nil {
		return NullValue()
	}
	raw, ok := m[property]
	if !ok {
		return NullValue()
	}
	return ValueOf(raw)
}

// Property resolves a filter property against the event: first-class fields
// first, then metadata. Unknown properties degrade to Null, never error.
func (e *Event) Property(name string) Value {
	switch name {
	case "name":
		return StringValue(e.Name)
	case "source":
		return StringValue(string(e.Source))
	case "external_customer_id":
		if e.ExternalCustomerID == nil {
			return NullValue()
		}
		return StringValue(*e.ExternalCustomerID)
	}
	return MetadataValue(e.Metadata, name)
}

// MetadataValue resolves an aggregation property on this event.
func (e *Event) MetadataValue(property string) Value {
	return MetadataValue(e.Metadata, property)
}

// MetadataString returns the string at key, or "" when absent or non-string.
func (e *Event) MetadataString(key string) string {
	v := MetadataValue(e.Metadata, key)
	if v.Kind != KindString {
		return ""
	}
	return v.Str
}

// MetadataDecimal returns the number at key as decimal, or zero.
func (e *Event) MetadataDecimal(key string) decimal.Decimal {
	return MetadataValue(e.Metadata, key).Decimal()
}
