package partition

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"psha/internal/hazard"
	"psha/internal/source"
)

const (
	referenceDistance = 300.0

	FewSitesBlockWeight  = 1000.0
	ManySitesBlockWeight = 50000.0
)

var ErrInvalidWeight = errors.New("invalid block weight")

// Weigher estimates the cost of a source: its rupture weight scaled by the
// number of models of its region and by the squared ratio of its integration
// distance to 300 km.
type Weigher struct {
	NumModels   map[string]int
	MaxDistance source.MaxDistancer
}

func (w Weigher) Weight(src source.Source) float64 {
	trt := src.TectonicRegion()
	g := 1
	if n, ok := w.NumModels[trt]; ok {
		g = n
	}
	m := 1.0
	if w.MaxDistance != nil {
		m = math.Pow(w.MaxDistance.MaxDistance(trt)/referenceDistance, 2)
	}
	return src.Weight() * float64(g) * m
}

// BlockSplitter cuts items into contiguous blocks. A block is closed as soon
// as the next item would push its weight over maxWeight, so an item heavier
// than maxWeight is alone in its block.
func BlockSplitter[T any](items []T, maxWeight float64, weight func(T) float64) ([][]T, error) {
	if !(maxWeight > 0) {
		return nil, fmt.Errorf("%w: max weight %g", ErrInvalidWeight, maxWeight)
	}
	var (
		blocks [][]T
		block  []T
		total  float64
	)
	for _, item := range items {
		w := weight(item)
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: item weight %g", ErrInvalidWeight, w)
		}
		if len(block) > 0 && total+w > maxWeight {
			blocks = append(blocks, block)
			block, total = nil, 0
		}
		block = append(block, item)
		total += w
	}
	if len(block) > 0 {
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func withSources(g source.Group, sources []source.Source) source.Group {
	g.Sources = sources
	return g
}

// BuildTasks turns groups into numbered tasks. Atomic groups give one task
// each; the sources of the other groups are split in blocks of at most
// totalWeight/concurrentTasks.
func BuildTasks(groups []source.Group, concurrentTasks int, w Weigher) ([]hazard.Task, error) {
	if concurrentTasks < 1 {
		concurrentTasks = 1
	}
	total := 0.0
	for _, g := range groups {
		for _, src := range g.Sources {
			total += w.Weight(src)
		}
	}
	maxWeight := total / float64(concurrentTasks)
	if !(maxWeight > 0) {
		maxWeight = math.Inf(1)
	}
	var tasks []hazard.Task
	for _, g := range groups {
		if len(g.Sources) == 0 {
			continue
		}
		if g.IsAtomic() {
			tasks = append(tasks, hazard.Task{Group: g})
			continue
		}
		blocks, err := BlockSplitter(g.Sources, maxWeight, w.Weight)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", g.ID, err)
		}
		for _, block := range blocks {
			tasks = append(tasks, hazard.Task{Group: withSources(g, block)})
		}
	}
	return Renumber(tasks), nil
}

// SplitTask re-blocks the sources of a non-atomic task, lightest first, with
// a block weight of max(mw, Σw/taskMultiplier) where mw depends on whether
// the site collection is small. The sub-tasks keep the number of task.
func SplitTask(task hazard.Task, numSites, maxSitesDisagg int, taskMultiplier float64, weight func(source.Source) float64) ([]hazard.Task, error) {
	if task.Group.IsAtomic() || len(task.Group.Sources) < 2 {
		return []hazard.Task{task}, nil
	}
	sources := append([]source.Source(nil), task.Group.Sources...)
	sort.SliceStable(sources, func(i, j int) bool {
		return weight(sources[i]) < weight(sources[j])
	})
	mw := ManySitesBlockWeight
	if numSites <= maxSitesDisagg {
		mw = FewSitesBlockWeight
	}
	if taskMultiplier > 0 {
		mw = math.Max(mw, task.Weight(weight)/taskMultiplier)
	}
	blocks, err := BlockSplitter(sources, mw, weight)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task.Number, err)
	}
	out := make([]hazard.Task, len(blocks))
	for i, block := range blocks {
		out[i] = hazard.Task{Number: task.Number, Group: withSources(task.Group, block)}
	}
	return out, nil
}

// Renumber assigns sequential task numbers in place and returns tasks.
func Renumber(tasks []hazard.Task) []hazard.Task {
	for i := range tasks {
		tasks[i].Number = i
	}
	return tasks
}

// BlocksPerGroup counts the tasks of each group.
func BlocksPerGroup(tasks []hazard.Task) map[int]int {
	out := make(map[int]int)
	for _, t := range tasks {
		out[t.Group.ID]++
	}
	return out
}
