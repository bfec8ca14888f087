package contexts

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

// DefaultMaxDistance applies to regions without an entry and without a
// default entry.
const DefaultMaxDistance = 300.0

// DefaultEntry is the table key used for regions without their own entry.
const DefaultEntry = "default"

var ErrInvalidDistanceTable = errors.New("invalid distance table")

type MagDist struct {
	Mag  float64 `json:"mag" yaml:"mag"`
	Dist float64 `json:"dist" yaml:"dist"`
}

// IntegrationDistance is the magnitude-dependent maximum distance per
// tectonic region. Values are linearly interpolated on magnitude and
// clamped at the ends of each table. The zero value uses
// DefaultMaxDistance everywhere.
type IntegrationDistance struct {
	tables map[string][]MagDist
}

func NewIntegrationDistance(tables map[string][]MagDist) (IntegrationDistance, error) {
	out := IntegrationDistance{tables: make(map[string][]MagDist, len(tables))}
	for trt, table := range tables {
		if len(table) == 0 {
			return IntegrationDistance{}, fmt.Errorf("%w: empty table for %q", ErrInvalidDistanceTable, trt)
		}
		sorted := append([]MagDist(nil), table...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Mag < sorted[j].Mag })
		for i, md := range sorted {
			if !(md.Dist > 0) {
				return IntegrationDistance{}, fmt.Errorf("%w: distance %g for %q", ErrInvalidDistanceTable, md.Dist, trt)
			}
			if i > 0 && md.Mag == sorted[i-1].Mag {
				return IntegrationDistance{}, fmt.Errorf("%w: duplicate magnitude %g for %q", ErrInvalidDistanceTable, md.Mag, trt)
			}
		}
		out.tables[trt] = sorted
	}
	return out, nil
}

// ConstantDistance uses dist for every region and magnitude.
func ConstantDistance(dist float64) IntegrationDistance {
	return IntegrationDistance{tables: map[string][]MagDist{DefaultEntry: {{Mag: 0, Dist: dist}}}}
}

func (d IntegrationDistance) table(trt string) []MagDist {
	if t, ok := d.tables[trt]; ok {
		return t
	}
	return d.tables[DefaultEntry]
}

func (d IntegrationDistance) Get(trt string, mag float64) float64 {
	t := d.table(trt)
	switch {
	case len(t) == 0:
		return DefaultMaxDistance
	case mag <= t[0].Mag:
		return t[0].Dist
	case mag >= t[len(t)-1].Mag:
		return t[len(t)-1].Dist
	}
	i := sort.Search(len(t), func(i int) bool { return t[i].Mag >= mag })
	lo, hi := t[i-1], t[i]
	return lo.Dist + (hi.Dist-lo.Dist)*(mag-lo.Mag)/(hi.Mag-lo.Mag)
}

// MaxDistance is the largest distance of the region over all magnitudes.
func (d IntegrationDistance) MaxDistance(trt string) float64 {
	t := d.table(trt)
	if len(t) == 0 {
		return DefaultMaxDistance
	}
	out := 0.0
	for _, md := range t {
		out = math.Max(out, md.Dist)
	}
	return out
}

// ReqvTable maps epicentral distance to an equivalent distance, one row per
// magnitude. The nearest magnitude row is used and values are linearly
// interpolated on repi, clamped at the ends of the grid.
type ReqvTable struct {
	repi   []float64
	mags   []float64
	values [][]float64
}

func NewReqvTable(repi, mags []float64, values [][]float64) (*ReqvTable, error) {
	if len(repi) < 2 || len(mags) == 0 {
		return nil, fmt.Errorf("%w: reqv needs at least 2 distances and 1 magnitude", ErrInvalidDistanceTable)
	}
	for i := 1; i < len(repi); i++ {
		if repi[i] <= repi[i-1] {
			return nil, fmt.Errorf("%w: reqv distances must be strictly increasing", ErrInvalidDistanceTable)
		}
	}
	if len(values) != len(mags) {
		return nil, fmt.Errorf("%w: reqv has %d rows for %d magnitudes", ErrInvalidDistanceTable, len(values), len(mags))
	}
	t := &ReqvTable{repi: slices.Clone(repi), mags: slices.Clone(mags), values: make([][]float64, len(values))}
	for i, row := range values {
		if len(row) != len(repi) {
			return nil, fmt.Errorf("%w: reqv row %d has %d values for %d distances", ErrInvalidDistanceTable, i, len(row), len(repi))
		}
		t.values[i] = slices.Clone(row)
	}
	return t, nil
}

func (t *ReqvTable) Get(repi []float64, mag float64) []float64 {
	row := 0
	for i, m := range t.mags {
		if math.Abs(m-mag) < math.Abs(t.mags[row]-mag) {
			row = i
		}
	}
	values := t.values[row]
	out := make([]float64, len(repi))
	last := len(t.repi) - 1
	for i, r := range repi {
		switch {
		case r <= t.repi[0]:
			out[i] = values[0]
		case r >= t.repi[last]:
			out[i] = values[last]
		default:
			j := sort.SearchFloat64s(t.repi, r)
			lo, hi := t.repi[j-1], t.repi[j]
			out[i] = values[j-1] + (values[j]-values[j-1])*(r-lo)/(hi-lo)
		}
	}
	return out
}
