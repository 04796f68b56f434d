package catalog

import (
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/rainwatch/mergefetch/pkg/dateutil"
	"github.com/rainwatch/mergefetch/pkg/grid"
)

// monthlyAccumManual accumulates the daily rain grids of one month locally.
// Unlike the provider's own monthly accumulation it exists for the current,
// still incomplete month, which is what makes the staleness policy necessary.
type monthlyAccumManual struct {
	meta
	policy StalePolicy
}

func (monthlyAccumManual) Filename(date time.Time, _ Params) string {
	return fmt.Sprintf("MERGE_CPTEC_acum_%s_%d%s", dateutil.MonthAbbrev(date), date.Year(), grid.Ext)
}

func (monthlyAccumManual) Foldername(time.Time, Params) string {
	return "MONTHLY_ACCUM_MANUAL"
}

func (monthlyAccumManual) Dependencies(date time.Time, _ Params) []Requirement {
	first, last := dateutil.MonthBounds(date)
	return []Requirement{{
		Type:  DailyRain,
		Dates: dateutil.Range(first, last, dateutil.Daily),
	}}
}

// Compute sums whatever daily grids resolved. Days and LastDay record how far
// the accumulation actually got, so a partial month is recognizably partial.
func (d monthlyAccumManual) Compute(date time.Time, deps map[DataType][]*grid.Grid, _ Params) (*grid.Grid, error) {
	days := deps[DailyRain]
	if len(days) == 0 {
		return nil, fmt.Errorf("no daily rain data resolved for %s", date.Format("2006-01"))
	}
	cube, err := grid.Concat(days)
	if err != nil {
		return nil, err
	}
	accum := cube.SumTime(d.varname)
	accum.Time[0] = time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	accum.Attrs.Days = len(days)
	accum.Attrs.LastDay = dateutil.Normalize(cube.Time[len(cube.Time)-1])
	return accum, nil
}

func (d monthlyAccumManual) IsStale(date time.Time, localPath string, now time.Time) bool {
	return d.policy.MustUpdate(localPath, date, now)
}

// spi derives the standardized precipitation index over a Window-month
// accumulation, standardized against the precomputed rolling statistics.
type spi struct {
	meta
	policy StalePolicy
}

func (spi) Filename(date time.Time, p Params) string {
	return fmt.Sprintf("MERGE_CPTEC_spi%d_%s_%d%s",
		p.Window, dateutil.MonthAbbrev(date), date.Year(), grid.Ext)
}

func (spi) Foldername(_ time.Time, p Params) string {
	return path.Join("SPI", strconv.Itoa(p.Window))
}

func (spi) Dependencies(date time.Time, p Params) []Requirement {
	start, end := dateutil.LookbackMonths(date, p.Window, true)
	return []Requirement{
		{Type: MonthlyAccumManual, Dates: dateutil.Range(start, end, dateutil.Monthly)},
		{Type: MonthlyMeanN, Dates: []time.Time{date}, Params: p},
		{Type: MonthlyStdN, Dates: []time.Time{date}, Params: p},
	}
}

func (d spi) Compute(date time.Time, deps map[DataType][]*grid.Grid, p Params) (*grid.Grid, error) {
	if p.Window < 1 {
		return nil, fmt.Errorf("spi window must be positive, got %d", p.Window)
	}
	accums := deps[MonthlyAccumManual]
	if len(accums) < p.Window {
		return nil, fmt.Errorf("spi %s: only %d of %d monthly accumulations resolved",
			date.Format("2006-01"), len(accums), p.Window)
	}
	if len(deps[MonthlyMeanN]) != 1 || len(deps[MonthlyStdN]) != 1 {
		return nil, fmt.Errorf("spi %s: rolling statistics missing", date.Format("2006-01"))
	}

	cube, err := grid.Concat(accums)
	if err != nil {
		return nil, err
	}
	total := cube.SumTime(d.varname)
	out, err := total.Standardize(d.varname, deps[MonthlyMeanN][0], deps[MonthlyStdN][0])
	if err != nil {
		return nil, err
	}
	out.Time[0] = time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	out.Attrs.Days = grid.DaysNA

	// Propagate how current the latest contributing month is.
	out.Attrs.LastDay = accums[len(accums)-1].Attrs.LastDay
	if out.Attrs.LastDay == "" {
		out.Attrs.LastDay = grid.NA
	}
	return out, nil
}

func (d spi) IsStale(date time.Time, localPath string, now time.Time) bool {
	return d.policy.MustUpdate(localPath, date, now)
}
