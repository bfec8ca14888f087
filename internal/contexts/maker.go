package contexts

import (
	"errors"
	"fmt"
	"math"

	"psha/internal/geo"
	"psha/internal/site"
	"psha/internal/source"
)

var ErrFarAwayRupture = errors.New("no sites within maximum distance")

// FarAwayError signals that a rupture affects none of the sites. Callers
// skip the rupture.
type FarAwayError struct {
	RuptureID   int64
	MinDistance float64
}

func (e *FarAwayError) Error() string {
	return fmt.Sprintf("rupture %d: %v (closest site at %.1f km)", e.RuptureID, ErrFarAwayRupture, e.MinDistance)
}

func (e *FarAwayError) Unwrap() error {
	return ErrFarAwayRupture
}

// Params configures a ContextMaker.
type Params struct {
	MaxDistance IntegrationDistance

	// FilterDistance is the metric used to discard far sites; the zero
	// value is RRup.
	FilterDistance  DistanceKind
	MinimumDistance float64

	// Reqv holds equivalent-distance tables keyed by tectonic region.
	Reqv map[string]*ReqvTable
}

// ContextMaker builds evaluation contexts for the ruptures of one tectonic
// region, computing the union of what the active models require.
type ContextMaker struct {
	trt    string
	req    Requirements
	params Params
	reqv   *ReqvTable
}

func NewContextMaker(trt string, requirers []Requirer, params Params) (*ContextMaker, error) {
	req := Union(requirers...)
	if unknown := req.Rupture &^ computable; unknown != 0 {
		return nil, fmt.Errorf("%w: %v required for %q", ErrUnknownRuptureParameter, unknown.List(), trt)
	}
	if params.FilterDistance >= numDistances {
		return nil, fmt.Errorf("%w: filter distance %s", ErrUnknownDistance, params.FilterDistance)
	}
	if params.MinimumDistance < 0 {
		return nil, fmt.Errorf("minimum distance %g must be >= 0", params.MinimumDistance)
	}
	return &ContextMaker{trt: trt, req: req, params: params, reqv: params.Reqv[trt]}, nil
}

func (cm *ContextMaker) TRT() string { return cm.trt }
func (cm *ContextMaker) Requirements() Requirements { return cm.req }

// MaxDistance is the integration distance for a magnitude of the region.
func (cm *ContextMaker) MaxDistance(mag float64) float64 {
	return cm.params.MaxDistance.Get(cm.trt, mag)
}

// RegionMaxDistance is the largest integration distance of the region.
func (cm *ContextMaker) RegionMaxDistance() float64 {
	return cm.params.MaxDistance.MaxDistance(cm.trt)
}

func computeDistance(k DistanceKind, rup source.Rupture, mesh geo.Mesh) []float64 {
	switch k {
	case RRup:
		return rup.Surface.MinDistance(mesh)
	case RX:
		return rup.Surface.RxDistance(mesh)
	case RY0:
		return rup.Surface.Ry0Distance(mesh)
	case RJB:
		return rup.Surface.JoynerBooreDistance(mesh)
	case RHypo:
		return rup.Hypocenter.DistanceToMesh(mesh, true)
	case REpi:
		return rup.Hypocenter.DistanceToMesh(mesh, false)
	case Azimuth:
		return rup.Surface.Azimuth(mesh)
	case AzimuthCP:
		cp := rup.Surface.ClosestPoints(mesh)
		out := make([]float64, mesh.Len())
		for i := range out {
			out[i] = geo.Azimuth(cp.Lons[i], cp.Lats[i], mesh.Lons[i], mesh.Lats[i])
		}
		return out
	default:
		// RVolc: no volcanic zones are modelled, the path length is zero.
		return make([]float64, mesh.Len())
	}
}

// Filter keeps the sites within mdist of rup according to the configured
// filter distance. A non-positive mdist selects the integration distance of
// the rupture magnitude. When no site survives the error is a
// *FarAwayError.
func (cm *ContextMaker) Filter(sites *site.Collection, rup source.Rupture, mdist float64) (*site.Collection, Distances, error) {
	if !(mdist > 0) {
		mdist = cm.MaxDistance(rup.Mag)
	}
	dist := computeDistance(cm.params.FilterDistance, rup, sites.Mesh())
	mask := make([]bool, len(dist))
	kept := make([]float64, 0, len(dist))
	for i, d := range dist {
		if d <= mdist {
			mask[i] = true
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, Distances{}, &FarAwayError{RuptureID: rup.ID, MinDistance: Distances{values: dist}.Min()}
	}
	return sites.Filter(mask), Distances{values: kept}, nil
}

// MakeContexts filters the sites and computes the required distances and
// rupture parameters on the surviving subset.
func (cm *ContextMaker) MakeContexts(sites *site.Collection, rup source.Rupture, mdist float64) (Context, error) {
	filtered, fdist, err := cm.Filter(sites, rup, mdist)
	if err != nil {
		return Context{}, err
	}
	mesh := filtered.Mesh()
	dctx := newDistanceContext(filtered.Len())
	for _, k := range cm.req.Distances.List() {
		if k == cm.params.FilterDistance {
			dctx.set(k, fdist.values)
			continue
		}
		dctx.set(k, computeDistance(k, rup, mesh))
	}
	if _, planar := rup.Surface.(*geo.PlanarSurface); planar && cm.reqv != nil {
		cm.applyReqv(dctx, rup, mesh)
	}
	if cm.params.MinimumDistance > 0 {
		dctx = dctx.RoundUp(cm.params.MinimumDistance)
	}
	return Context{
		Rupture: rup,
		RupCtx:  newRuptureContext(rup, cm.req.Rupture),
		Sites:   filtered.Reduce(cm.req.Sites),
		Dists:   dctx,
	}, nil
}

// applyReqv replaces rjb with the equivalent distance and rrup with the
// equivalent hypocentral distance.
func (cm *ContextMaker) applyReqv(dctx *DistanceContext, rup source.Rupture, mesh geo.Mesh) {
	if !cm.req.Distances.Has(RJB) && !cm.req.Distances.Has(RRup) {
		return
	}
	repi := dctx.values[REpi]
	if !dctx.kinds.Has(REpi) {
		repi = computeDistance(REpi, rup, mesh)
	}
	reqv := cm.reqv.Get(repi, rup.Mag)
	if cm.req.Distances.Has(RJB) {
		dctx.set(RJB, reqv)
	}
	if cm.req.Distances.Has(RRup) {
		rrup := make([]float64, len(reqv))
		for i, r := range reqv {
			rrup[i] = math.Hypot(r, rup.Hypocenter.Depth)
		}
		dctx.set(RRup, rrup)
	}
}

// MakeContextsAll builds the contexts of every rupture that affects at least
// one site; far away ruptures are skipped.
func (cm *ContextMaker) MakeContextsAll(rups []source.Rupture, sites *site.Collection, mdist float64) ([]Context, error) {
	out := make([]Context, 0, len(rups))
	for _, rup := range rups {
		ctx, err := cm.MakeContexts(sites, rup, mdist)
		if errors.Is(err, ErrFarAwayRupture) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ctx)
	}
	return out, nil
}
