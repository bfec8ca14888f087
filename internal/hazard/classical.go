package hazard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"psha/internal/contexts"
	"psha/internal/gsim"
	"psha/internal/pmap"
	"psha/internal/site"
	"psha/internal/source"
)

var ErrNoModels = errors.New("no ground motion models for tectonic region")

// SourceError annotates the failure of one source.
type SourceError struct {
	SourceID string
	Index    int
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%v (source id=%s)", e.Err, e.SourceID)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Task is a unit of work: a block of sources of a single group. Group
// carries the interdependence of the block; its Sources field holds the
// block.
type Task struct {
	Number int
	Group  source.Group
}

func (t Task) Weight(w func(source.Source) float64) float64 {
	total := 0.0
	for _, src := range t.Group.Sources {
		total += w(src)
	}
	return total
}

// Params are the read-only inputs shared by every task.
type Params struct {
	Sites    *site.Collection
	Options  Options
	Contexts contexts.Params
	Models   map[string]gsim.Set
}

// TaskResult is the partial result of one task.
type TaskResult struct {
	TaskNumber    int
	PMaps         map[int]*pmap.Map
	Stats         Diagnostics
	RupData       []RupRow
	TotalRuptures int

	// MaxDist is the mean effective integration distance of the split
	// point sources of the task, 0 when none was split.
	MaxDist float64
}

// newTaskResult seeds an empty map for every group the sources of task
// belong to.
func newTaskResult(task Task, l, g int) TaskResult {
	res := TaskResult{TaskNumber: task.Number, PMaps: make(map[int]*pmap.Map), Stats: make(Diagnostics)}
	for _, src := range task.Group.Sources {
		for _, gid := range src.GroupIDs() {
			if _, ok := res.PMaps[gid]; !ok {
				res.PMaps[gid] = pmap.New(l, g)
			}
		}
	}
	return res
}

// NewContextMaker builds the context maker of a tectonic region, failing
// when a model needs a parameter that cannot be computed.
func NewContextMaker(trt string, params Params) (*contexts.ContextMaker, gsim.Set, error) {
	models := params.Models[trt]
	if len(models) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrNoModels, trt)
	}
	cmaker, err := contexts.NewContextMaker(trt, models.Requirers(), params.Contexts)
	if err != nil {
		return nil, nil, err
	}
	return cmaker, models, nil
}

// Classical computes the probability maps of the sources of task. Sources
// affecting no site are skipped. The first failing source aborts the task
// with a *SourceError.
func Classical(ctx context.Context, task Task, params Params) (TaskResult, error) {
	cmaker, models, err := NewContextMaker(task.Group.TRT, params)
	if err != nil {
		return TaskResult{}, err
	}
	res := newTaskResult(task, params.Options.Levels.Len(), len(models))
	pm := NewPmapMaker(cmaker, task.Group, models, params.Options)
	filter := source.Filter{Sites: params.Sites, Distance: params.Contexts.MaxDistance}
	var dists []float64
	for _, src := range task.Group.Sources {
		if err := ctx.Err(); err != nil {
			return TaskResult{}, err
		}
		closeSites := filter.CloseSites(src)
		if closeSites == nil {
			continue
		}
		sr, err := pm.Make(src, closeSites, res.PMaps)
		if err != nil {
			return TaskResult{}, &SourceError{SourceID: src.SourceID(), Index: src.Index(), Err: err}
		}
		res.Stats.Add(src.SourceID(), sr.Stats)
		res.TotalRuptures += sr.TotalRuptures
		if sr.MaxDist > 0 {
			dists = append(dists, sr.MaxDist)
		}
		for _, row := range sr.RupData {
			for _, gid := range src.GroupIDs() {
				row.GroupID = gid
				res.RupData = append(res.RupData, row)
			}
		}
	}
	if len(dists) > 0 {
		res.MaxDist = floats.Sum(dists) / float64(len(dists))
	}
	return res, nil
}

// Preclassical only counts: every source affecting at least one site
// records its rupture count. Groups get an empty map.
func Preclassical(ctx context.Context, task Task, params Params) (TaskResult, error) {
	models := params.Models[task.Group.TRT]
	if len(models) == 0 {
		return TaskResult{}, fmt.Errorf("%w: %q", ErrNoModels, task.Group.TRT)
	}
	res := newTaskResult(task, params.Options.Levels.Len(), len(models))
	filter := source.Filter{Sites: params.Sites, Distance: params.Contexts.MaxDistance}
	for _, src := range task.Group.Sources {
		if err := ctx.Err(); err != nil {
			return TaskResult{}, err
		}
		start := time.Now()
		closeSites := filter.CloseSites(src)
		if closeSites == nil {
			continue
		}
		res.Stats.Add(src.SourceID(), SourceStats{
			NumRuptures: src.NumRuptures(),
			NumSites:    closeSites.Len(),
			Elapsed:     time.Since(start),
		})
		res.TotalRuptures += src.NumRuptures()
	}
	return res, nil
}
