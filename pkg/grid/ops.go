package grid

import (
	"fmt"
	"math"
	"time"
)

// SumTime collapses the cube into a single time step holding the per-cell sum.
// The resulting step is stamped with the first input time, the convention the
// monthly accumulation products use for their reference time.
func (g *Grid) SumTime(varname string) *Grid {
	size := g.PlaneSize()
	out := &Grid{
		Var:    varname,
		Time:   []time.Time{g.Time[0]},
		Lat:    g.Lat,
		Lon:    g.Lon,
		Values: make([]float32, size),
	}
	for t := 0; t < g.Steps(); t++ {
		plane := g.Plane(t)
		for i := range plane {
			out.Values[i] += plane[i]
		}
	}
	return out
}

// MeanTime collapses the cube into the per-cell mean across time.
func (g *Grid) MeanTime(varname string) *Grid {
	out := g.SumTime(varname)
	n := float32(g.Steps())
	for i := range out.Values {
		out.Values[i] /= n
	}
	return out
}

// StdTime collapses the cube into the per-cell population standard deviation
// across time.
func (g *Grid) StdTime(varname string) *Grid {
	mean := g.MeanTime(varname)
	size := g.PlaneSize()
	out := &Grid{
		Var:    varname,
		Time:   []time.Time{g.Time[0]},
		Lat:    g.Lat,
		Lon:    g.Lon,
		Values: make([]float32, size),
	}
	for t := 0; t < g.Steps(); t++ {
		plane := g.Plane(t)
		for i := range plane {
			d := plane[i] - mean.Values[i]
			out.Values[i] += d * d
		}
	}
	n := float32(g.Steps())
	for i := range out.Values {
		out.Values[i] = float32(math.Sqrt(float64(out.Values[i] / n)))
	}
	return out
}

// RollingMeanTime computes the trailing n-step mean along time. The leading
// n-1 steps, where the window has insufficient history, are dropped rather
// than padded.
func (g *Grid) RollingMeanTime(n int) (*Grid, error) {
	if n < 1 {
		return nil, fmt.Errorf("rolling window must be positive, got %d", n)
	}
	if g.Steps() < n {
		return nil, fmt.Errorf("rolling window %d exceeds %d time steps", n, g.Steps())
	}
	size := g.PlaneSize()
	steps := g.Steps() - n + 1
	out := &Grid{
		Var:    g.Var,
		Time:   append([]time.Time(nil), g.Time[n-1:]...),
		Lat:    g.Lat,
		Lon:    g.Lon,
		Values: make([]float32, steps*size),
	}
	for t := 0; t < steps; t++ {
		window := out.Values[t*size : (t+1)*size]
		for w := 0; w < n; w++ {
			plane := g.Plane(t + w)
			for i := range plane {
				window[i] += plane[i]
			}
		}
		for i := range window {
			window[i] /= float32(n)
		}
	}
	return out, nil
}

// selectMonth returns the cube restricted to time steps in calendar month m.
func (g *Grid) selectMonth(m time.Month) *Grid {
	size := g.PlaneSize()
	out := &Grid{Var: g.Var, Lat: g.Lat, Lon: g.Lon}
	for t, ts := range g.Time {
		if ts.Month() != m {
			continue
		}
		out.Time = append(out.Time, ts)
		out.Values = append(out.Values, g.Values[t*size:(t+1)*size]...)
	}
	return out
}

// GroupMonthMean groups the time steps by calendar month and reduces each
// group to its per-cell mean across years.
func (g *Grid) GroupMonthMean(varname string) map[time.Month]*Grid {
	return g.groupMonth(varname, (*Grid).MeanTime)
}

// GroupMonthStd groups the time steps by calendar month and reduces each
// group to its per-cell standard deviation across years.
func (g *Grid) GroupMonthStd(varname string) map[time.Month]*Grid {
	return g.groupMonth(varname, (*Grid).StdTime)
}

func (g *Grid) groupMonth(varname string, reduce func(*Grid, string) *Grid) map[time.Month]*Grid {
	out := make(map[time.Month]*Grid, 12)
	for m := time.January; m <= time.December; m++ {
		sel := g.selectMonth(m)
		if sel.Steps() == 0 {
			continue
		}
		out[m] = reduce(sel, varname)
	}
	return out
}

// Standardize returns (g - mean) / std cell by cell, producing a standardized
// index grid. Cells with zero deviation become NaN.
func (g *Grid) Standardize(varname string, mean, std *Grid) (*Grid, error) {
	if !sameMesh(g, mean) || !sameMesh(g, std) {
		return nil, fmt.Errorf("standardize: mesh mismatch")
	}
	if g.Steps() != 1 || mean.Steps() != 1 || std.Steps() != 1 {
		return nil, fmt.Errorf("standardize: expected single-step grids")
	}
	out := &Grid{
		Var:    varname,
		Time:   []time.Time{g.Time[0]},
		Lat:    g.Lat,
		Lon:    g.Lon,
		Values: make([]float32, g.PlaneSize()),
	}
	for i := range out.Values {
		if std.Values[i] == 0 {
			out.Values[i] = float32(math.NaN())
			continue
		}
		out.Values[i] = (g.Values[i] - mean.Values[i]) / std.Values[i]
	}
	return out, nil
}
