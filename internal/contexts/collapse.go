package contexts

import (
	"encoding/binary"
	"math"
)

// DefaultCollapsePrecision is the relative distance tolerance under which
// ruptures are considered equivalent.
const DefaultCollapsePrecision = 1e-3

// collapseKey identifies equivalent ruptures: identical scalar parameters,
// identical surviving sites and identical quantized distances.
type collapseKey struct {
	params RuptureParamSet
	values [numRuptureParams]float64
	sites  string
	dists  string
}

// Collapser merges ruptures sharing a collapse key into the first of them,
// with the summed occurrence rate. It must only be used on ruptures with
// independent interdependence.
type Collapser struct {
	Precision float64
}

func (c Collapser) precision() float64 {
	if c.Precision > 0 {
		return c.Precision
	}
	return DefaultCollapsePrecision
}

// scale is the reference distance used to quantize the distances of a set
// of contexts: the largest rrup when available, otherwise the largest
// length among the other distances.
func scale(ctxs []Context) float64 {
	out := 0.0
	for _, ctx := range ctxs {
		if d, err := ctx.Dists.Get(RRup); err == nil {
			out = math.Max(out, d.Max())
			continue
		}
		for _, k := range ctx.Dists.Kinds().List() {
			if k == Azimuth || k == AzimuthCP {
				continue
			}
			for _, v := range ctx.Dists.values[k] {
				out = math.Max(out, math.Abs(v))
			}
		}
	}
	if !(out > 0) {
		return 1
	}
	return out
}

func (c Collapser) key(ctx Context, distmax float64) collapseKey {
	k := collapseKey{params: ctx.RupCtx.params, values: ctx.RupCtx.values}
	sids := make([]byte, 0, 8*ctx.Sites.Len())
	for i := 0; i < ctx.Sites.Len(); i++ {
		sids = binary.LittleEndian.AppendUint64(sids, uint64(ctx.Sites.SID(i)))
	}
	k.sites = string(sids)
	step := distmax * c.precision()
	var dists []byte
	for _, kind := range ctx.Dists.Kinds().List() {
		dists = append(dists, byte(kind))
		for _, v := range ctx.Dists.values[kind] {
			dists = binary.LittleEndian.AppendUint32(dists, uint32(int32(math.Round(v/step))))
		}
	}
	k.dists = string(dists)
	return k
}

// Collapse returns the collapsed contexts in order of first appearance.
// Non-parametric ruptures are never merged.
func (c Collapser) Collapse(ctxs []Context) []Context {
	if len(ctxs) < 2 {
		return ctxs
	}
	distmax := scale(ctxs)
	out := make([]Context, 0, len(ctxs))
	index := make(map[collapseKey]int, len(ctxs))
	for _, ctx := range ctxs {
		if !ctx.Rupture.IsParametric() {
			out = append(out, ctx)
			continue
		}
		k := c.key(ctx, distmax)
		if i, ok := index[k]; ok {
			out[i].Rupture = out[i].Rupture.WithRate(out[i].Rupture.OccurrenceRate + ctx.Rupture.OccurrenceRate)
			continue
		}
		index[k] = len(out)
		out = append(out, ctx)
	}
	return out
}
