package core

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (payroll and probation are day-granular)
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day normalized to midnight UTC.
type Date struct {
	Time time.Time
}

// NewDate builds a Date from its calendar parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates any instant to its calendar day (in the instant's location).
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current UTC calendar day.
func Today() Date {
	return DateOf(time.Now().UTC())
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return DateOf(d.Time.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.Time.AddDate(0, n, 0)) }

func (d Date) IsZero() bool { return d.Time.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(DateLayout)
}

// DatePtr returns a pointer to a copy of d.
func DatePtr(d Date) *Date { return &d }

// DaysBetween returns to - from in whole days (negative when to is earlier).
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is the inclusive range [Start, End].
type Period struct {
	Start Date
	End   Date
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Days counts calendar days in the period, both ends included.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Overlaps reports whether p intersects a validity window that starts at from
// and is open-ended when to is nil.
func (p Period) Overlaps(from Date, to *Date) bool {
	if from.After(p.End) {
		return false
	}
	if to != nil && to.Before(p.Start) {
		return false
	}
	return true
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// PAY PERIOD - A calendar month
// =============================================================================

// PayPeriod identifies the calendar month a payroll run covers.
type PayPeriod struct {
	Year  int
	Month time.Month
}

// ParsePayPeriod parses "YYYY-MM".
func ParsePayPeriod(s string) (PayPeriod, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return PayPeriod{}, fmt.Errorf("invalid pay period %q (use YYYY-MM): %w", s, err)
	}
	return PayPeriod{Year: t.Year(), Month: t.Month()}, nil
}

// Start is the first day of the month.
func (pp PayPeriod) Start() Date { return NewDate(pp.Year, pp.Month, 1) }

// End is the last day of the month.
func (pp PayPeriod) End() Date { return pp.Start().AddMonths(1).AddDays(-1) }

// Period returns the month as an inclusive date range.
func (pp PayPeriod) Period() Period { return Period{Start: pp.Start(), End: pp.End()} }

func (pp PayPeriod) String() string { return fmt.Sprintf("%04d-%02d", pp.Year, int(pp.Month)) }
