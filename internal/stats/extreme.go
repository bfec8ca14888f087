package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"psha/internal/imt"
	"psha/internal/pmap"
)

// ExtremePoEs returns, per intensity measure type, the largest probability
// of exceeding its highest level over every site and model of pm.
func ExtremePoEs(pm *pmap.Map, levels imt.Levels) []float64 {
	out := make([]float64, levels.NumIMTs())
	_, g := pm.Shape()
	for _, sid := range pm.SIDs() {
		curve, _ := pm.Curve(sid)
		for m := range out {
			_, stop := levels.Slice(m)
			row := curve[(stop-1)*g : stop*g]
			out[m] = math.Max(out[m], floats.Max(row))
		}
	}
	return out
}

// ExtremePoE is the maximum of ExtremePoEs, 0 for an empty map.
func ExtremePoE(pm *pmap.Map, levels imt.Levels) float64 {
	poes := ExtremePoEs(pm, levels)
	if len(poes) == 0 {
		return 0
	}
	return floats.Max(poes)
}
