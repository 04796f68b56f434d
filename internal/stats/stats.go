// Package stats implements the climatology precompute job. It builds the
// rolling-window accumulation statistics (per calendar month mean and
// standard deviation) that the standardized index types standardize against.
// These artifacts are only ever produced here; resolution treats their
// absence as fatal.
package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rainwatch/mergefetch/internal/catalog"
	"github.com/rainwatch/mergefetch/internal/engine"
	"github.com/rainwatch/mergefetch/pkg/dateutil"
	"github.com/rainwatch/mergefetch/pkg/grid"
)

// Job precomputes rolling statistics from the provider's monthly
// accumulation history.
type Job struct {
	resolver *engine.Resolver
	reg      *catalog.Registry
	log      zerolog.Logger
}

func NewJob(resolver *engine.Resolver, reg *catalog.Registry, log zerolog.Logger) *Job {
	return &Job{
		resolver: resolver,
		reg:      reg,
		log:      log.With().Str("component", "stats").Logger(),
	}
}

// Run materializes the window-month statistics over the monthly accumulation
// history [start, end]. For every calendar month it writes one mean and one
// std artifact; all artifacts of a run share a run id so a half-finished run
// is recognizable.
func (j *Job) Run(ctx context.Context, window int, start, end time.Time) error {
	if window < 1 {
		return fmt.Errorf("window must be positive, got %d", window)
	}

	months := dateutil.Range(start, end, dateutil.Monthly)
	if len(months) < window {
		return fmt.Errorf("history %s..%s too short for a %d-month window",
			start.Format("2006-01"), end.Format("2006-01"), window)
	}

	cube, err := j.resolver.Cube(ctx, catalog.MonthlyAccumYearly, months, catalog.Params{})
	if err != nil {
		return fmt.Errorf("build accumulation history: %w", err)
	}

	// Rolling mean times the window length is the rolling accumulation,
	// keyed by the window's ending month.
	roll, err := cube.RollingMeanTime(window)
	if err != nil {
		return err
	}
	for i := range roll.Values {
		roll.Values[i] *= float32(window)
	}

	run := uuid.NewString()
	p := catalog.Params{Window: window}
	written := 0

	for _, mean := range roll.GroupMonthMean("pmean") {
		if err := j.write(catalog.MonthlyMeanN, mean, p, run); err != nil {
			return err
		}
		written++
	}
	for _, std := range roll.GroupMonthStd("pstd") {
		if err := j.write(catalog.MonthlyStdN, std, p, run); err != nil {
			return err
		}
		written++
	}

	j.log.Info().
		Int("window", window).
		Int("artifacts", written).
		Str("run", run).
		Msg("statistics precompute finished")
	return nil
}

// write persists one statistics artifact under the store layout of its type.
func (j *Job) write(dtype catalog.DataType, g *grid.Grid, p catalog.Params, run string) error {
	d, err := j.reg.Get(dtype)
	if err != nil {
		return err
	}
	g.Attrs = grid.Attrs{
		Updated: time.Now().UTC(),
		LastDay: grid.NA,
		Days:    grid.DaysNA,
		Run:     run,
	}

	local := catalog.LocalPath(j.resolver.Root(), d, g.Time[0], p)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create stats folder: %w", err)
	}
	if err := g.WriteFile(local); err != nil {
		return fmt.Errorf("persist %s: %w", dtype, err)
	}
	j.log.Debug().Str("file", local).Msg("statistics artifact written")
	return nil
}
