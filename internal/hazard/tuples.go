package hazard

import (
	"math"

	"psha/internal/site"
	"psha/internal/source"
)

// tuple is a batch of ruptures of one magnitude with the sites they are
// evaluated on. mdist is 0 when the integration distance applies.
type tuple struct {
	rups  []source.Rupture
	sites *site.Collection
	mdist float64
}

// tuples splits the sites of point-like sources by distance from the
// source: far sites see a single rupture carrying the rate of the whole
// magnitude bin, close sites see every rupture. Mutually exclusive
// ruptures are never merged.
func (pm *PmapMaker) tuples(src source.Source, sites *site.Collection, bins []magBin) []tuple {
	plain := func() []tuple {
		out := make([]tuple, len(bins))
		for i, b := range bins {
			out[i] = tuple{rups: b.rups, sites: sites}
		}
		return out
	}
	pl, ok := src.(source.PointLike)
	if !ok || pl.CountNPHC() == 1 {
		return plain()
	}
	if pm.opts.PointSourceDistance <= 0 && (sites.Len() < pm.opts.MaxSitesDisagg || pl.PointMSR()) {
		return plain()
	}

	loc := pl.Location()
	loc.Depth = averageDepth(pl.HypoDepths())
	out := make([]tuple, 0, 2*len(bins))
	for _, b := range bins {
		mdist := pm.cmaker.MaxDistance(b.mag)
		radius := pl.MaxRuptureProjectionRadius(b.mag)
		if pm.opts.MaxRadius > 0 {
			mdist = math.Min(pm.opts.MaxRadius*radius, mdist)
		}
		var cdist float64
		if pm.opts.PointSourceDistance > 0 {
			cdist = math.Min(pm.opts.PointSourceDistance, mdist)
		} else {
			cdist = math.Min(pm.opts.CollapseFactor*radius, mdist)
		}
		closeSites, farSites := sites.Split(loc, cdist)
		if farSites != nil {
			far := b.rups
			if pm.rupIndep {
				far = collapseBin(b.rups)
			}
			out = append(out, tuple{rups: far, sites: farSites, mdist: mdist})
		}
		if closeSites != nil {
			out = append(out, tuple{rups: b.rups, sites: closeSites, mdist: mdist})
		}
	}
	return out
}

func averageDepth(depths []source.HypoDepth) float64 {
	total, weights := 0.0, 0.0
	for _, hd := range depths {
		total += hd.Weight * hd.Depth
		weights += hd.Weight
	}
	if weights == 0 {
		return 0
	}
	return total / weights
}

// collapseBin replaces the ruptures of a magnitude bin with the first one
// carrying the summed rate. Bins holding non-parametric ruptures are kept.
func collapseBin(rups []source.Rupture) []source.Rupture {
	if len(rups) < 2 {
		return rups
	}
	rate := 0.0
	for _, rup := range rups {
		if !rup.IsParametric() {
			return rups
		}
		rate += rup.OccurrenceRate
	}
	return []source.Rupture{rups[0].WithRate(rate)}
}
