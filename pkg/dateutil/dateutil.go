// Package dateutil provides the date parsing and period arithmetic used to key
// precipitation products: range enumeration at a fixed frequency, month bounds
// with current-month capping, lookback windows and fixed-width period splitting.
package dateutil

import (
	"fmt"
	"time"
)

// Frequency is the nominal time step at which a data type's artifacts are keyed.
type Frequency string

const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Step returns t advanced by one unit of the frequency.
func (f Frequency) Step(t time.Time) time.Time {
	switch f {
	case Hourly:
		return t.Add(time.Hour)
	case Daily:
		return t.AddDate(0, 0, 1)
	case Monthly:
		return addMonths(t, 1)
	case Yearly:
		return addMonths(t, 12)
	}
	return t.AddDate(0, 0, 1)
}

// addMonths steps by whole months, clamping the day of month so an
// end-of-month start never overflows into the following month: Jan 31 plus
// one month is Feb 28, not Mar 3. Range at a monthly frequency relies on
// this to visit every month exactly once.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	day := t.Day()
	if last := DaysInMonth(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ErrInvalidDate is returned when a date string cannot be parsed.
type ErrInvalidDate struct {
	Input string
}

func (e *ErrInvalidDate) Error() string {
	return fmt.Sprintf("invalid date %q", e.Input)
}

// parseLayouts are the accepted input formats, tried in order.
// Partial dates default to the first day/month, matching the behaviour the
// CLI relied on historically (e.g. "2023-04" means 2023-04-01).
var parseLayouts = []string{
	"20060102T150405",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"20060102",
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"02-01-2006",
	"2006-01",
	"2006-1",
	"200601",
	"2006",
}

// Parse converts a human date string into a time.Time in UTC.
// It fails with *ErrInvalidDate on unparseable input.
func Parse(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ErrInvalidDate{Input: s}
}

// Normalize formats a date as "YYYYMMDD".
func Normalize(t time.Time) string {
	return t.Format("20060102")
}

// Pretty formats a date as "dd-mm-yyyy" for display.
func Pretty(t time.Time) string {
	return t.Format("02-01-2006")
}

// Format renders a date the way artifacts of the given frequency are keyed:
// "YYYYMMDDThhmmss" for hourly types, "YYYYMMDD" otherwise.
func Format(t time.Time, freq Frequency) string {
	if freq == Hourly {
		return t.Format("20060102T150405")
	}
	return Normalize(t)
}

// MonthAbbrev returns the lowercase three-letter month name ("jan".."dec").
func MonthAbbrev(t time.Time) string {
	return []string{
		"jan", "feb", "mar", "apr", "may", "jun",
		"jul", "aug", "sep", "oct", "nov", "dec",
	}[int(t.Month())-1]
}

// Range enumerates the dates from start to end, both inclusive, stepping by
// one unit of freq. It is empty when start is after end.
func Range(start, end time.Time, freq Frequency) []time.Time {
	var dates []time.Time
	for cur := start; !cur.After(end); cur = freq.Step(cur) {
		dates = append(dates, cur)
	}
	return dates
}

// Count returns len(Range(start, end, freq)) without building the slice.
func Count(start, end time.Time, freq Frequency) int {
	n := 0
	for cur := start; !cur.After(end); cur = freq.Step(cur) {
		n++
	}
	return n
}

// MonthBounds returns the first and last day of the month containing date.
// For the current month the last day is capped at today, so callers never
// request data from the future.
func MonthBounds(date time.Time) (time.Time, time.Time) {
	return MonthBoundsAt(date, time.Now().UTC())
}

// MonthBoundsAt is MonthBounds evaluated against an explicit "now".
func MonthBoundsAt(date, now time.Time) (time.Time, time.Time) {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	if date.Year() == now.Year() && date.Month() == now.Month() {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if today.Before(last) {
			last = today
		}
	}
	return first, last
}

// DaysInMonth returns the number of calendar days in the month containing date.
func DaysInMonth(date time.Time) int {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}

// LookbackMonths returns the n-month window of months ending at the month of
// date. When includeCurrent is false the window ends at the previous month
// instead. Both bounds are normalized to the first day of their month.
func LookbackMonths(date time.Time, n int, includeCurrent bool) (time.Time, time.Time) {
	end := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	if !includeCurrent {
		end = end.AddDate(0, -1, 0)
	}
	start := end.AddDate(0, -(n - 1), 0)
	return start, end
}

// Period is a closed [Start, End] span of months.
type Period struct {
	Start time.Time
	End   time.Time
}

// SplitPeriods cuts [start, end] into consecutive periods of stepMonths
// months each. A trailing partial period that would run past end is dropped,
// not truncated.
func SplitPeriods(start, end time.Time, stepMonths int) []Period {
	var periods []Period
	for cur := start; !cur.After(end); cur = cur.AddDate(0, stepMonths, 0) {
		stop := cur.AddDate(0, stepMonths-1, 0)
		if stop.After(end) {
			break
		}
		periods = append(periods, Period{Start: cur, End: stop})
	}
	return periods
}

// Today returns the current date in UTC with the time part cleared.
func Today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
