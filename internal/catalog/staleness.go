package catalog

import (
	"time"

	"github.com/rainwatch/mergefetch/pkg/dateutil"
	"github.com/rainwatch/mergefetch/pkg/grid"
)

// StalePolicy holds the thresholds of the staleness decision for computed
// monthly artifacts.
type StalePolicy struct {
	// RetryBackoff is the minimum interval between recompute attempts of
	// an artifact whose covered month is not fully accumulated yet.
	RetryBackoff time.Duration
	// RefreshAge is how old a fully accumulated artifact may grow before
	// it is recomputed to pick up provider-side corrections.
	RefreshAge time.Duration
}

// DefaultStalePolicy matches the provider's publication cadence: incomplete
// months are retried at most twice an hour, complete months every two days.
var DefaultStalePolicy = StalePolicy{
	RetryBackoff: 30 * time.Minute,
	RefreshAge:   48 * time.Hour,
}

// MustUpdate decides whether the computed artifact at localPath needs to be
// recomputed for the month containing date, judged at instant now.
//
// Missing or unreadable artifacts are always stale, as are artifacts written
// before provenance attributes existed. An artifact whose accumulated day
// count falls short of the days the month has (capped at today for the
// current month) is stale once RetryBackoff has elapsed since its last
// update; a complete one is stale once it is older than RefreshAge.
func (p StalePolicy) MustUpdate(localPath string, date, now time.Time) bool {
	// Missing and corrupt artifacts alike are recomputed and overwritten.
	attrs, err := grid.ReadAttrs(localPath)
	if err != nil {
		return true
	}

	// Artifacts from before provenance tracking carry no update stamp.
	if attrs.Updated.IsZero() || attrs.LastDay == "" {
		return true
	}

	_, last := dateutil.MonthBoundsAt(date, now)
	expected := last.Day()

	if attrs.Days != grid.DaysNA && attrs.Days != expected {
		return now.Sub(attrs.Updated) >= p.RetryBackoff
	}
	return now.Sub(attrs.Updated) > p.RefreshAge
}
