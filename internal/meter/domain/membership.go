package domain

import (
	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
)

// IsCorrectionFor reports whether the event is a system correction addressed
// to the meter. Corrections are matched by the explicit meter_id in metadata,
// never by the meter's filter.
func IsCorrectionFor(e *eventdomain.Event, meterID snowflake.ID) bool {
	if e.Source != eventdomain.EventSourceSystem {
		return false
	}
	switch e.Name {
	case eventdomain.EventNameMeterCredited, eventdomain.EventNameMeterReset:
	default:
		return false
	}
	return e.MetadataString(eventdomain.MetadataKeyMeterID) == meterID.String()
}

// IncludesEvent decides meter-event index membership: a filter match, or a
// system correction addressed to this meter.
func (m *Meter) IncludesEvent(e *eventdomain.Event) bool {
	if IsCorrectionFor(e, m.ID) {
		return true
	}
	return m.Filter.Matches(e)
}
