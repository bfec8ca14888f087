package hazard

import (
	"fmt"
	"sort"
	"time"

	"psha/internal/contexts"
)

// SourceStats counts the work done for one source: effective ruptures
// after filtering and collapsing, the sum over ruptures of the affected
// sites, and the elapsed time.
type SourceStats struct {
	NumRuptures int           `json:"num_ruptures"`
	NumSites    int           `json:"num_sites"`
	Elapsed     time.Duration `json:"elapsed"`
}

func (s SourceStats) Add(o SourceStats) SourceStats {
	return SourceStats{
		NumRuptures: s.NumRuptures + o.NumRuptures,
		NumSites:    s.NumSites + o.NumSites,
		Elapsed:     s.Elapsed + o.Elapsed,
	}
}

// Diagnostics maps source ids to their statistics.
type Diagnostics map[string]SourceStats

func (d Diagnostics) Add(srcID string, stats SourceStats) {
	d[srcID] = d[srcID].Add(stats)
}

func (d Diagnostics) Merge(o Diagnostics) {
	for id, stats := range o {
		d.Add(id, stats)
	}
}

// Ruptures is the total number of effective ruptures.
func (d Diagnostics) Ruptures() int {
	n := 0
	for _, stats := range d {
		n += stats.NumRuptures
	}
	return n
}

func (d Diagnostics) SourceIDs() []string {
	out := make([]string, 0, len(d))
	for id := range d {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RupRow describes one evaluated rupture and the sites it affects. Rows are
// only collected when the site collection is small.
type RupRow struct {
	GroupID        int                  `json:"grp_id"`
	SourceIndex    int                  `json:"srcidx"`
	RuptureID      int64                `json:"rup_id"`
	OccurrenceRate float64              `json:"occurrence_rate"`
	Weight         float64              `json:"weight"`
	ProbsOccur     []float64            `json:"probs_occur"`
	Params         map[string]float64   `json:"params"`
	SIDs           []int                `json:"sids"`
	Distances      map[string][]float64 `json:"distances"`
	Lons           []float64            `json:"lons"`
	Lats           []float64            `json:"lats"`
}

func newRupRow(srcIdx int, ctx contexts.Context) (RupRow, error) {
	rup := ctx.Rupture
	row := RupRow{
		SourceIndex:    srcIdx,
		RuptureID:      rup.ID,
		OccurrenceRate: rup.OccurrenceRate,
		Weight:         rup.Weight,
		Params:         make(map[string]float64),
		SIDs:           ctx.Sites.SIDs(),
		Distances:      make(map[string][]float64),
	}
	if !rup.IsParametric() {
		row.ProbsOccur = append([]float64(nil), rup.ProbsOccur...)
	}
	for _, p := range ctx.RupCtx.Params().List() {
		v, err := ctx.RupCtx.Get(p)
		if err != nil {
			return RupRow{}, err
		}
		row.Params[p.String()] = v
	}
	mesh := ctx.Sites.Mesh()
	kinds := ctx.Dists.Kinds().With(contexts.RRup)
	for _, k := range kinds.List() {
		d, err := ctx.Dists.Get(k)
		if err == nil {
			row.Distances[k.String()] = d.Copy()
			continue
		}
		if k != contexts.RRup {
			return RupRow{}, fmt.Errorf("rupture %d: %w", rup.ID, err)
		}
		row.Distances[k.String()] = rup.Surface.MinDistance(mesh)
	}
	closest := rup.Surface.ClosestPoints(mesh)
	row.Lons, row.Lats = closest.Lons, closest.Lats
	return row, nil
}
