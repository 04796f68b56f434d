// Package grid defines the in-memory representation of a materialized raster
// product: a (time, latitude, longitude) cube of float32 samples plus the
// provenance attributes the staleness policy relies on. It also provides the
// native on-disk container and the array operations used by the computed
// product types (accumulation, rolling statistics, standardization).
package grid

import (
	"fmt"
	"math"
	"time"
)

// NA is the sentinel for a "not applicable" string attribute.
const NA = "NA"

// DaysNA marks the Days attribute as not applicable (climatological artifacts
// that are not bound to a single accumulation period).
const DaysNA = -1

// Attrs is the provenance attribute bag persisted with every artifact.
// Updated, LastDay and Days are the only state the staleness policy trusts.
type Attrs struct {
	// Updated is the wall-clock time of the last (re)computation.
	Updated time.Time
	// LastDay is the last calendar day contributing data ("YYYYMMDD"), or NA.
	LastDay string
	// Days counts the daily samples that contributed, or DaysNA.
	Days int
	// Run optionally links artifacts written by the same precompute run.
	Run string
}

// Grid is a raster product: one or more time steps over a fixed lat/lon mesh.
// Values are stored time-major: Values[t*len(Lat)*len(Lon) + i*len(Lon) + j].
type Grid struct {
	Var    string
	Time   []time.Time
	Lat    []float64
	Lon    []float64
	Values []float32
	Attrs  Attrs
}

// New creates a single-step grid filled with zeros.
func New(varname string, at time.Time, lat, lon []float64) *Grid {
	return &Grid{
		Var:    varname,
		Time:   []time.Time{at},
		Lat:    lat,
		Lon:    lon,
		Values: make([]float32, len(lat)*len(lon)),
	}
}

// PlaneSize returns the number of cells in one time step.
func (g *Grid) PlaneSize() int {
	return len(g.Lat) * len(g.Lon)
}

// Steps returns the number of time steps.
func (g *Grid) Steps() int {
	return len(g.Time)
}

// Plane returns the values of time step t as a subslice.
func (g *Grid) Plane(t int) []float32 {
	size := g.PlaneSize()
	return g.Values[t*size : (t+1)*size]
}

// Validate checks internal consistency of shape against values.
func (g *Grid) Validate() error {
	if len(g.Time) == 0 {
		return fmt.Errorf("grid %q has no time steps", g.Var)
	}
	want := len(g.Time) * g.PlaneSize()
	if len(g.Values) != want {
		return fmt.Errorf("grid %q has %d values, want %d", g.Var, len(g.Values), want)
	}
	return nil
}

// sameMesh reports whether two grids share the lat/lon axes.
func sameMesh(a, b *Grid) bool {
	if len(a.Lat) != len(b.Lat) || len(a.Lon) != len(b.Lon) {
		return false
	}
	for i := range a.Lat {
		if a.Lat[i] != b.Lat[i] {
			return false
		}
	}
	for i := range a.Lon {
		if a.Lon[i] != b.Lon[i] {
			return false
		}
	}
	return true
}

// Concat stacks grids along the time dimension, in the given order.
// All grids must share the same mesh.
func Concat(grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("cannot concat zero grids")
	}
	first := grids[0]
	out := &Grid{
		Var: first.Var,
		Lat: first.Lat,
		Lon: first.Lon,
	}
	for _, g := range grids {
		if !sameMesh(first, g) {
			return nil, fmt.Errorf("grid %q mesh mismatch in concat", g.Var)
		}
		out.Time = append(out.Time, g.Time...)
		out.Values = append(out.Values, g.Values...)
	}
	return out, nil
}

// SpatialMean reduces each time step to the mean over all cells, skipping NaN.
func (g *Grid) SpatialMean() []float64 {
	out := make([]float64, g.Steps())
	for t := range g.Time {
		sum, n := 0.0, 0
		for _, v := range g.Plane(t) {
			if math.IsNaN(float64(v)) {
				continue
			}
			sum += float64(v)
			n++
		}
		if n > 0 {
			out[t] = sum / float64(n)
		} else {
			out[t] = math.NaN()
		}
	}
	return out
}
