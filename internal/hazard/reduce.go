package hazard

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"psha/internal/pmap"
)

// TaskSummary describes what one task computed.
type TaskSummary struct {
	EffRuptures int      `json:"eff_ruptures"`
	EffSites    float64  `json:"eff_sites"`
	SourceIDs   []string `json:"srcids"`
}

func summarize(stats Diagnostics) TaskSummary {
	out := TaskSummary{SourceIDs: stats.SourceIDs()}
	for _, id := range out.SourceIDs {
		s := stats[id]
		out.EffRuptures += s.NumRuptures
		if s.NumRuptures > 0 {
			out.EffSites += float64(s.NumSites) / float64(s.NumRuptures)
		}
	}
	return out
}

// Accumulator merges task results. Add and Merge are associative and
// commutative: maps combine with the independent rule, counters add and
// rupture rows concatenate.
type Accumulator struct {
	PMaps         map[int]*pmap.Map
	EffRuptures   map[int]int
	SourcesByTask map[int]TaskSummary
	Stats         Diagnostics
	RupData       []RupRow
	TotalRuptures int
	MaxDists      []float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		PMaps:         make(map[int]*pmap.Map),
		EffRuptures:   make(map[int]int),
		SourcesByTask: make(map[int]TaskSummary),
		Stats:         make(Diagnostics),
	}
}

// combine registers gid on first sight, even for an empty map, so that
// groups affecting no site still have a result.
func (a *Accumulator) combine(gid int, pm *pmap.Map) error {
	acc, ok := a.PMaps[gid]
	if !ok {
		a.PMaps[gid] = pm.Clone()
		return nil
	}
	if pm.Len() == 0 {
		return nil
	}
	if err := acc.CombineIndependent(pm); err != nil {
		return fmt.Errorf("group %d: %w", gid, err)
	}
	return nil
}

// Add folds one task result into the accumulator.
func (a *Accumulator) Add(res TaskResult) error {
	if _, dup := a.SourcesByTask[res.TaskNumber]; dup {
		return fmt.Errorf("task %d reduced twice", res.TaskNumber)
	}
	summary := summarize(res.Stats)
	for gid, pm := range res.PMaps {
		if err := a.combine(gid, pm); err != nil {
			return err
		}
		a.EffRuptures[gid] += summary.EffRuptures
	}
	a.SourcesByTask[res.TaskNumber] = summary
	a.Stats.Merge(res.Stats)
	a.RupData = append(a.RupData, res.RupData...)
	a.TotalRuptures += res.TotalRuptures
	if res.MaxDist > 0 {
		a.MaxDists = append(a.MaxDists, res.MaxDist)
	}
	return nil
}

// Merge folds another accumulator into a.
func (a *Accumulator) Merge(o *Accumulator) error {
	for task := range o.SourcesByTask {
		if _, dup := a.SourcesByTask[task]; dup {
			return fmt.Errorf("task %d reduced twice", task)
		}
	}
	for gid, pm := range o.PMaps {
		if err := a.combine(gid, pm); err != nil {
			return err
		}
	}
	for gid, n := range o.EffRuptures {
		a.EffRuptures[gid] += n
	}
	for task, summary := range o.SourcesByTask {
		a.SourcesByTask[task] = summary
	}
	a.Stats.Merge(o.Stats)
	a.RupData = append(a.RupData, o.RupData...)
	a.TotalRuptures += o.TotalRuptures
	a.MaxDists = append(a.MaxDists, o.MaxDists...)
	return nil
}

// ConsideredRuptures is the number of ruptures left after collapsing.
func (a *Accumulator) ConsideredRuptures() int {
	return a.Stats.Ruptures()
}

// MeanMaxDist is the mean effective distance used for point sources, 0
// when no point source was split.
func (a *Accumulator) MeanMaxDist() float64 {
	if len(a.MaxDists) == 0 {
		return 0
	}
	return floats.Sum(a.MaxDists) / float64(len(a.MaxDists))
}
