// Package catalog defines the product catalog: the DataType tags, the
// Descriptor and Processor abstractions that encode per-type knowledge of
// remote locators, local layout and derivation rules, the registry that maps
// tags to descriptors, and the staleness policy for computed artifacts.
package catalog

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rainwatch/mergefetch/pkg/dateutil"
	"github.com/rainwatch/mergefetch/pkg/grid"
)

// DataType identifies a product. Each tag maps 1:1 to a Descriptor instance
// registered at startup.
type DataType string

const (
	// Fetched directly from the provider.
	DailyRain          DataType = "DAILY_RAIN"
	DailyAverage       DataType = "DAILY_AVERAGE"
	MonthlyAccumYearly DataType = "MONTHLY_ACCUM_YEARLY"
	MonthlyAccum       DataType = "MONTHLY_ACCUM"
	YearlyAccum        DataType = "YEARLY_ACCUM"

	// Derived locally by processors.
	MonthlyAccumManual DataType = "MONTHLY_ACCUM_MANUAL"
	SPI                DataType = "SPI"

	// Precomputed climatological statistics, written by the stats job.
	MonthlyMeanN DataType = "MONTHLY_MEAN_N"
	MonthlyStdN  DataType = "MONTHLY_STD_N"
)

// Params carries the per-type parameters beyond the date key. Window is the
// accumulation window in months, used by the stats and SPI types; the zero
// value is correct for plain date-keyed types.
type Params struct {
	Window int
}

// Descriptor is the per-DataType metadata: path functions plus constants.
// Implementations are immutable and safe to share across resolutions.
type Descriptor interface {
	// Type returns the enumerated tag.
	Type() DataType
	// Name returns the display name.
	Name() string
	// Var returns the variable name stored in the artifact.
	Var() string
	// Freq returns the nominal sampling frequency.
	Freq() dateutil.Frequency
	// Root returns the provider-side root folder, or "" when the artifact
	// is not fetched (computed or precomputed types).
	Root() string
	// Filename returns the artifact file name for a date+params key.
	Filename(date time.Time, p Params) string
	// Foldername returns the storage folder for a date+params key, shared
	// by the remote tree and the local store.
	Foldername(date time.Time, p Params) string
}

// Requirement names the sibling artifacts a processor needs: one DataType
// and the ordered dates to resolve it at, with their params.
type Requirement struct {
	Type   DataType
	Dates  []time.Time
	Params Params
}

// Processor is a Descriptor whose artifact is computed from other artifacts
// rather than fetched.
type Processor interface {
	Descriptor

	// Dependencies returns the exact upstream artifacts needed for this key.
	Dependencies(date time.Time, p Params) []Requirement

	// Compute turns the resolved dependency grids into the new artifact.
	// Resolution failures of single elements leave gaps in deps; Compute
	// decides how to handle them (and reflects them in the Days attribute).
	Compute(date time.Time, deps map[DataType][]*grid.Grid, p Params) (*grid.Grid, error)

	// IsStale decides whether the artifact at localPath must be recomputed.
	IsStale(date time.Time, localPath string, now time.Time) bool
}

// PostProcessor is an optional Descriptor capability applied after decoding
// a fetched file (e.g. the longitude convention fix of the provider's grib2
// products).
type PostProcessor interface {
	PostProc(g *grid.Grid) *grid.Grid
}

// ErrUnknownDataType reports a data type with no registered descriptor.
// It is fatal: resolution of the requesting artifact aborts.
type ErrUnknownDataType struct {
	Name string
}

func (e *ErrUnknownDataType) Error() string {
	return fmt.Sprintf("unknown data type %q", e.Name)
}

// RemoteTarget composes the provider-side locator root/folder/filename.
func RemoteTarget(d Descriptor, date time.Time, p Params) string {
	return path.Join(d.Root(), d.Foldername(date, p), d.Filename(date, p))
}

// LocalFolder composes the local storage directory for a date+params key.
func LocalFolder(storeRoot string, d Descriptor, date time.Time, p Params) string {
	return filepath.Join(storeRoot, filepath.FromSlash(d.Foldername(date, p)))
}

// LocalPath composes the full local artifact path for a date+params key.
func LocalPath(storeRoot string, d Descriptor, date time.Time, p Params) string {
	return filepath.Join(LocalFolder(storeRoot, d, date, p), d.Filename(date, p))
}
