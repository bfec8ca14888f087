package contexts

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"psha/internal/site"
	"psha/internal/source"
)

// Distances is a read-only view over one distance array.
type Distances struct {
	values []float64
}

func (d Distances) Len() int { return len(d.values) }
func (d Distances) At(i int) float64 { return d.values[i] }

func (d Distances) Min() float64 {
	if len(d.values) == 0 {
		return math.NaN()
	}
	return floats.Min(d.values)
}

func (d Distances) Max() float64 {
	if len(d.values) == 0 {
		return math.NaN()
	}
	return floats.Max(d.values)
}

func (d Distances) Copy() []float64 {
	return append([]float64(nil), d.values...)
}

// DistanceContext holds one array per required distance kind, aligned with
// the sites of the context. It is never modified after construction.
type DistanceContext struct {
	n      int
	kinds  DistanceSet
	values [numDistances][]float64
}

func newDistanceContext(n int) *DistanceContext {
	return &DistanceContext{n: n}
}

func (dc *DistanceContext) set(k DistanceKind, values []float64) {
	if len(values) != dc.n {
		panic(fmt.Sprintf("distance %s has %d values, context has %d sites", k, len(values), dc.n))
	}
	dc.values[k] = values
	dc.kinds = dc.kinds.With(k)
}

func (dc *DistanceContext) Len() int { return dc.n }
func (dc *DistanceContext) Kinds() DistanceSet { return dc.kinds }

func (dc *DistanceContext) Get(k DistanceKind) (Distances, error) {
	if k >= numDistances || !dc.kinds.Has(k) {
		return Distances{}, fmt.Errorf("%w: distance %s", ErrMissingParameter, k)
	}
	return Distances{values: dc.values[k]}, nil
}

// clampable are the kinds that are non-negative lengths; signed distances
// and angles are never rounded up.
var clampable = NewDistanceSet(RRup, RY0, RJB, RHypo, REpi, RVolc)

// RoundUp returns a new context where every length below minimum is set to
// minimum.
func (dc *DistanceContext) RoundUp(minimum float64) *DistanceContext {
	out := newDistanceContext(dc.n)
	for _, k := range dc.kinds.List() {
		values := append([]float64(nil), dc.values[k]...)
		if clampable.Has(k) {
			for i, v := range values {
				if v < minimum {
					values[i] = minimum
				}
			}
		}
		out.set(k, values)
	}
	return out
}

// RuptureContext holds the scalar rupture parameters requested by the
// active models.
type RuptureContext struct {
	params RuptureParamSet
	values [numRuptureParams]float64
}

func (rc RuptureContext) Params() RuptureParamSet { return rc.params }

func (rc RuptureContext) Get(p RuptureParam) (float64, error) {
	if p >= numRuptureParams || !rc.params.Has(p) {
		return 0, fmt.Errorf("%w: rupture parameter %s", ErrMissingParameter, p)
	}
	return rc.values[p], nil
}

func newRuptureContext(rup source.Rupture, params RuptureParamSet) RuptureContext {
	rc := RuptureContext{params: params}
	for _, p := range params.List() {
		var v float64
		switch p {
		case Mag:
			v = rup.Mag
		case Strike:
			v = rup.Surface.Strike()
		case Dip:
			v = rup.Surface.Dip()
		case Rake:
			v = rup.Rake
		case ZTor:
			v = rup.Surface.TopEdgeDepth()
		case HypoLon:
			v = rup.Hypocenter.Lon
		case HypoLat:
			v = rup.Hypocenter.Lat
		case HypoDepth:
			v = rup.Hypocenter.Depth
		case Width:
			v = rup.Surface.Width()
		}
		rc.values[p] = v
	}
	return rc
}

// Context is the evaluation triple of one rupture: the rupture with its
// scalar parameters, the surviving sites and their distances.
type Context struct {
	Rupture source.Rupture
	RupCtx  RuptureContext
	Sites   *site.Collection
	Dists   *DistanceContext
}
