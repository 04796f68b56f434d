package catalog

import (
	"fmt"
	"path"
	"time"

	"github.com/rainwatch/mergefetch/pkg/dateutil"
	"github.com/rainwatch/mergefetch/pkg/grid"
)

// Provider-side roots of the MERGE/GPM product tree.
const (
	mergeRoot       = "/modelos/tempo/MERGE/GPM"
	climatologyRoot = mergeRoot + "/CLIMATOLOGY"
)

// meta carries the constant part of a descriptor. Concrete types embed it
// and add the path functions.
type meta struct {
	dtype   DataType
	name    string
	varname string
	freq    dateutil.Frequency
	root    string
}

func (m meta) Type() DataType           { return m.dtype }
func (m meta) Name() string             { return m.name }
func (m meta) Var() string              { return m.varname }
func (m meta) Freq() dateutil.Frequency { return m.freq }
func (m meta) Root() string             { return m.root }

// dailyRain is the daily merged satellite/gauge precipitation grid, one grib2
// file per day under DAILY/<year>/<month>.
type dailyRain struct{ meta }

func (dailyRain) Filename(date time.Time, _ Params) string {
	return "MERGE_CPTEC_" + dateutil.Normalize(date) + ".grib2"
}

func (dailyRain) Foldername(date time.Time, _ Params) string {
	return path.Join("DAILY", date.Format("2006"), date.Format("01"))
}

// PostProc shifts the grib2 longitude convention (0..360) to -180..180.
func (dailyRain) PostProc(g *grid.Grid) *grid.Grid {
	for i, lon := range g.Lon {
		if lon > 180 {
			g.Lon[i] = lon - 360
		}
	}
	return g
}

// dailyAverage is the long-term climatological average for each calendar day.
type dailyAverage struct{ meta }

func (dailyAverage) Filename(date time.Time, _ Params) string {
	return fmt.Sprintf("MERGE_CPTEC_12Z%02d%s.nc", date.Day(), dateutil.MonthAbbrev(date))
}

func (dailyAverage) Foldername(time.Time, Params) string { return "DAILY_AVERAGE" }

// monthlyAccumYearly is the provider-side monthly accumulation, one file per
// month of each year.
type monthlyAccumYearly struct{ meta }

func (monthlyAccumYearly) Filename(date time.Time, _ Params) string {
	return fmt.Sprintf("MERGE_CPTEC_acum_%s_%d.nc", dateutil.MonthAbbrev(date), date.Year())
}

func (monthlyAccumYearly) Foldername(time.Time, Params) string {
	return "MONTHLY_ACCUMULATED_YEARLY"
}

// monthlyAccum is the climatological accumulation for each calendar month.
type monthlyAccum struct{ meta }

func (monthlyAccum) Filename(date time.Time, _ Params) string {
	return fmt.Sprintf("MERGE_CPTEC_acum_%s.nc", dateutil.MonthAbbrev(date))
}

func (monthlyAccum) Foldername(time.Time, Params) string { return "MONTHLY_ACCUMULATED" }

// yearlyAccum is the accumulation over a whole year.
type yearlyAccum struct{ meta }

func (yearlyAccum) Filename(date time.Time, _ Params) string {
	return fmt.Sprintf("MERGE_CPTEC_acum_%d.nc", date.Year())
}

func (yearlyAccum) Foldername(time.Time, Params) string { return "YEAR_ACCUMULATED" }

// monthlyMeanStats and monthlyStdStats are the precomputed rolling-window
// climatological statistics. They are never fetched and never computed on
// demand; the stats job writes them ahead of time.
type monthlyMeanStats struct{ meta }

func (monthlyMeanStats) Filename(date time.Time, p Params) string {
	return fmt.Sprintf("MERGE_CPTEC_mean%d_%s%s", p.Window, dateutil.MonthAbbrev(date), grid.Ext)
}

func (monthlyMeanStats) Foldername(time.Time, Params) string { return "STATS" }

type monthlyStdStats struct{ meta }

func (monthlyStdStats) Filename(date time.Time, p Params) string {
	return fmt.Sprintf("MERGE_CPTEC_std%d_%s%s", p.Window, dateutil.MonthAbbrev(date), grid.Ext)
}

func (monthlyStdStats) Foldername(time.Time, Params) string { return "STATS" }
