package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The bucketing unit for forecasts and reports
// =============================================================================

type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(d Date) Month { return d.CalendarMonth() }

// CurrentMonth is the calendar month of now.
func CurrentMonth(now time.Time) Month { return MonthOf(DateOf(now)) }

func (m Month) Start() Date { return NewDate(m.Year, m.Month, 1) }

func (m Month) End() Date {
	return DateOf(time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1))
}

func (m Month) Next() Month { return MonthOf(m.Start().AddMonths(1)) }

func (m Month) Contains(d Date) bool {
	return d.Year() == m.Year && d.Month() == m.Month
}

func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

func (m Month) Period() Period { return Period{Start: m.Start(), End: m.End()} }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// =============================================================================
// PERIOD - Inclusive date range used by store filters
// =============================================================================

type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// YearPeriod covers January 1 through December 31.
func YearPeriod(year int) Period {
	return Period{Start: NewDate(year, time.January, 1), End: NewDate(year, time.December, 31)}
}
