package engine

import "time"

// =============================================================================
// PERIOD - Inclusive date window (scheme validity, targets, aggregation)
// =============================================================================

// Period is the inclusive window [Start, End].
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Valid reports whether the period is well formed (start not after end).
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// Intersect returns the overlap of two periods and whether it is non-empty.
func (p Period) Intersect(other Period) (Period, bool) {
	start := p.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := p.End
	if other.End.Before(end) {
		end = other.End
	}
	out := Period{Start: start, End: end}
	return out, start.BeforeOrEqual(end)
}

// AggregationPeriod selects the window over which cumulative slab quantities
// are accumulated.
type AggregationPeriod string

const (
	AggregateSchemeValidity  AggregationPeriod = "scheme_validity"
	AggregateCalendarMonth   AggregationPeriod = "calendar_month"
	AggregateCalendarQuarter AggregationPeriod = "calendar_quarter"
)

// PeriodFor returns the aggregation window containing date, clipped to the
// scheme validity window.
func (ap AggregationPeriod) PeriodFor(date Date, validity Period) Period {
	var p Period
	switch ap {
	case AggregateCalendarMonth:
		start := NewDate(date.Year(), date.Month(), 1)
		p = Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
	case AggregateCalendarQuarter:
		q := (int(date.Month()) - 1) / 3
		start := NewDate(date.Year(), time.Month(q*3+1), 1)
		p = Period{Start: start, End: start.AddMonths(3).AddDays(-1)}
	default:
		return validity
	}
	if clipped, ok := p.Intersect(validity); ok {
		return clipped
	}
	return p
}

func (ap AggregationPeriod) valid() bool {
	switch ap {
	case "", AggregateSchemeValidity, AggregateCalendarMonth, AggregateCalendarQuarter:
		return true
	}
	return false
}
