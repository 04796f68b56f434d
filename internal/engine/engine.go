// Package engine implements artifact resolution: given a data type and a date
// it returns a local artifact path, fetching provider files or recomputing
// derived products as needed. Resolution is recursive (a computed product
// pulls its dependencies through the same path) and sequential; the provider
// publishes incrementally and the fetcher's pacing does the throttling.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainwatch/mergefetch/internal/catalog"
	"github.com/rainwatch/mergefetch/pkg/dateutil"
	"github.com/rainwatch/mergefetch/pkg/grid"
)

// Fetcher is the transport the resolver pulls provider files through.
type Fetcher interface {
	Download(ctx context.Context, remotePath, localDir string) (string, error)
}

// ErrMissingStats reports that a precomputed statistics artifact is absent
// from the local store. It is fatal: these artifacts are only ever written by
// the stats job, never on demand.
type ErrMissingStats struct {
	Type catalog.DataType
	Path string
}

func (e *ErrMissingStats) Error() string {
	return fmt.Sprintf("precomputed statistics %s missing at %s (run the stats job first)", e.Type, e.Path)
}

// Resolver materializes artifacts into a local store rooted at root.
type Resolver struct {
	reg      *catalog.Registry
	fetcher  Fetcher
	root     string
	decoders map[string]grid.Decoder
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a resolver. The native container decoder is pre-registered;
// provider formats (grib2, netCDF) are added with RegisterDecoder.
func New(reg *catalog.Registry, fetcher Fetcher, root string, log zerolog.Logger) *Resolver {
	return &Resolver{
		reg:     reg,
		fetcher: fetcher,
		root:    root,
		decoders: map[string]grid.Decoder{
			grid.Ext: grid.NativeDecoder{},
		},
		log: log.With().Str("component", "engine").Logger(),
		now: time.Now,
	}
}

// RegisterDecoder installs a decoder for a filename extension (".grib2").
func (r *Resolver) RegisterDecoder(ext string, d grid.Decoder) {
	r.decoders[ext] = d
}

// Root returns the local store root.
func (r *Resolver) Root() string { return r.root }

// Result is the outcome of resolving one date of a batch.
type Result struct {
	Date time.Time
	Path string
	Err  error
}

// Resolve materializes the artifact for one (type, date, params) key and
// returns its local path. Fetched types go through the fetcher, computed
// types are recomputed when stale, precomputed types must already exist.
func (r *Resolver) Resolve(ctx context.Context, dtype catalog.DataType, date time.Time, p catalog.Params) (string, error) {
	d, err := r.reg.Get(dtype)
	if err != nil {
		return "", err
	}

	folder := catalog.LocalFolder(r.root, d, date, p)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create store folder: %w", err)
	}
	localPath := catalog.LocalPath(r.root, d, date, p)

	if proc, ok := d.(catalog.Processor); ok {
		return r.resolveComputed(ctx, proc, date, p, localPath)
	}
	if d.Root() == "" {
		// Precomputed statistics: local presence is the whole contract.
		if _, err := os.Stat(localPath); err != nil {
			return "", &ErrMissingStats{Type: dtype, Path: localPath}
		}
		return localPath, nil
	}
	return r.fetcher.Download(ctx, catalog.RemoteTarget(d, date, p), folder)
}

// resolveComputed recomputes a derived artifact when the staleness policy
// says so. Individual dependency failures leave gaps that Compute absorbs;
// structural failures abort the whole resolution.
func (r *Resolver) resolveComputed(ctx context.Context, proc catalog.Processor, date time.Time, p catalog.Params, localPath string) (string, error) {
	if !proc.IsStale(date, localPath, r.now().UTC()) {
		r.log.Debug().Str("type", string(proc.Type())).Str("file", localPath).Msg("artifact up to date")
		return localPath, nil
	}

	deps := make(map[catalog.DataType][]*grid.Grid)
	for _, req := range proc.Dependencies(date, p) {
		for _, depDate := range req.Dates {
			g, err := r.openArtifact(ctx, req.Type, depDate, req.Params)
			if err != nil {
				if structural(err) {
					return "", err
				}
				r.log.Warn().Err(err).
					Str("type", string(req.Type)).
					Str("date", depDate.Format("2006-01-02")).
					Msg("dependency unavailable, continuing without it")
				continue
			}
			deps[req.Type] = append(deps[req.Type], g)
		}
	}

	out, err := proc.Compute(date, deps, p)
	if err != nil {
		return "", fmt.Errorf("compute %s: %w", proc.Type(), err)
	}
	out.Attrs.Updated = r.now().UTC()

	if err := out.WriteFile(localPath); err != nil {
		return "", fmt.Errorf("persist %s: %w", proc.Type(), err)
	}
	r.log.Info().
		Str("type", string(proc.Type())).
		Str("file", localPath).
		Int("days", out.Attrs.Days).
		Msg("artifact recomputed")
	return localPath, nil
}

// openArtifact resolves a key and decodes the artifact into a grid, applying
// the descriptor's post-processing to freshly decoded provider files.
func (r *Resolver) openArtifact(ctx context.Context, dtype catalog.DataType, date time.Time, p catalog.Params) (*grid.Grid, error) {
	path, err := r.Resolve(ctx, dtype, date, p)
	if err != nil {
		return nil, err
	}

	dec, ok := r.decoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("no decoder registered for %q", filepath.Ext(path))
	}
	g, err := dec.Decode(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	d, err := r.reg.Get(dtype)
	if err != nil {
		return nil, err
	}
	if pp, ok := d.(catalog.PostProcessor); ok && d.Root() != "" {
		g = pp.PostProc(g)
	}
	return g, nil
}

// OpenGrid resolves a key and returns the decoded grid.
func (r *Resolver) OpenGrid(ctx context.Context, dtype catalog.DataType, date time.Time, p catalog.Params) (*grid.Grid, error) {
	return r.openArtifact(ctx, dtype, date, p)
}

// ResolveMany resolves a batch of dates. Element failures are recorded in the
// corresponding Result and never abort the batch; structural failures do.
func (r *Resolver) ResolveMany(ctx context.Context, dtype catalog.DataType, dates []time.Time, p catalog.Params) ([]Result, error) {
	results := make([]Result, 0, len(dates))
	for _, date := range dates {
		path, err := r.Resolve(ctx, dtype, date, p)
		if err != nil && structural(err) {
			return nil, err
		}
		results = append(results, Result{Date: date, Path: path, Err: err})
	}
	return results, nil
}

// ResolveRange expands [start, end] at the type's own frequency and resolves
// the whole batch.
func (r *Resolver) ResolveRange(ctx context.Context, dtype catalog.DataType, start, end time.Time, p catalog.Params) ([]Result, error) {
	d, err := r.reg.Get(dtype)
	if err != nil {
		return nil, err
	}
	return r.ResolveMany(ctx, dtype, dateRange(start, end, d), p)
}

// Cube resolves a batch of dates and stacks the decoded grids along time.
// Dates that fail to resolve or decode are skipped with a warning.
func (r *Resolver) Cube(ctx context.Context, dtype catalog.DataType, dates []time.Time, p catalog.Params) (*grid.Grid, error) {
	var grids []*grid.Grid
	for _, date := range dates {
		g, err := r.openArtifact(ctx, dtype, date, p)
		if err != nil {
			if structural(err) {
				return nil, err
			}
			r.log.Warn().Err(err).
				Str("type", string(dtype)).
				Str("date", date.Format("2006-01-02")).
				Msg("skipping date in cube")
			continue
		}
		grids = append(grids, g)
	}
	if len(grids) == 0 {
		return nil, fmt.Errorf("no %s artifacts available for requested dates", dtype)
	}
	return grid.Concat(grids)
}

// dateRange expands [start, end] at the descriptor's frequency.
func dateRange(start, end time.Time, d catalog.Descriptor) []time.Time {
	return dateutil.Range(start, end, d.Freq())
}

// structural reports whether an error invalidates the whole request rather
// than a single element of it. Unknown types and missing precomputed
// statistics poison everything built on top; transport and decode failures
// only lose the one element.
func structural(err error) bool {
	var unknown *catalog.ErrUnknownDataType
	var missing *ErrMissingStats
	return errors.As(err, &unknown) || errors.As(err, &missing)
}
