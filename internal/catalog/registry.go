package catalog

import (
	"strings"

	"github.com/rainwatch/mergefetch/pkg/dateutil"
)

// Registry maps DataType tags to their descriptors. Registration happens once
// at startup; afterwards the registry is read-only and safe to share.
type Registry struct {
	byType map[DataType]Descriptor
	order  []DataType
}

// NewRegistry builds a registry with all MERGE product types registered,
// using the given staleness policy for the computed ones.
func NewRegistry(policy StalePolicy) *Registry {
	r := &Registry{byType: make(map[DataType]Descriptor)}

	r.Register(dailyRain{meta{
		dtype: DailyRain, name: "Daily Rain", varname: "prec",
		freq: dateutil.Daily, root: mergeRoot,
	}})
	r.Register(dailyAverage{meta{
		dtype: DailyAverage, name: "Daily Average", varname: "pmed",
		freq: dateutil.Daily, root: climatologyRoot,
	}})
	r.Register(monthlyAccumYearly{meta{
		dtype: MonthlyAccumYearly, name: "Monthly Accumulated (yearly)", varname: "pacum",
		freq: dateutil.Monthly, root: climatologyRoot,
	}})
	r.Register(monthlyAccum{meta{
		dtype: MonthlyAccum, name: "Monthly Accumulated", varname: "precacum",
		freq: dateutil.Monthly, root: climatologyRoot,
	}})
	r.Register(yearlyAccum{meta{
		dtype: YearlyAccum, name: "Yearly Accumulated", varname: "pacum",
		freq: dateutil.Yearly, root: climatologyRoot,
	}})
	r.Register(monthlyAccumManual{meta: meta{
		dtype: MonthlyAccumManual, name: "Monthly Accumulated (local)", varname: "monthacum",
		freq: dateutil.Monthly,
	}, policy: policy})
	r.Register(spi{meta: meta{
		dtype: SPI, name: "Standardized Precipitation Index", varname: "spi",
		freq: dateutil.Monthly,
	}, policy: policy})
	r.Register(monthlyMeanStats{meta{
		dtype: MonthlyMeanN, name: "Monthly Rolling Mean", varname: "pmean",
		freq: dateutil.Monthly,
	}})
	r.Register(monthlyStdStats{meta{
		dtype: MonthlyStdN, name: "Monthly Rolling Std", varname: "pstd",
		freq: dateutil.Monthly,
	}})

	return r
}

// Register adds a descriptor, replacing any previous one for the same type.
func (r *Registry) Register(d Descriptor) {
	if _, exists := r.byType[d.Type()]; !exists {
		r.order = append(r.order, d.Type())
	}
	r.byType[d.Type()] = d
}

// Get returns the descriptor for a tag, or *ErrUnknownDataType.
func (r *Registry) Get(dt DataType) (Descriptor, error) {
	d, ok := r.byType[dt]
	if !ok {
		return nil, &ErrUnknownDataType{Name: string(dt)}
	}
	return d, nil
}

// Lookup resolves a user-supplied identifier, accepting either the tag or the
// display name, case-insensitively.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	if d, ok := r.byType[DataType(strings.ToUpper(name))]; ok {
		return d, nil
	}
	for _, d := range r.byType {
		if strings.EqualFold(d.Name(), name) {
			return d, nil
		}
	}
	return nil, &ErrUnknownDataType{Name: name}
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, dt := range r.order {
		out = append(out, r.byType[dt])
	}
	return out
}
