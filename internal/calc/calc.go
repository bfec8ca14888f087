package calc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"psha/internal/hazard"
	"psha/internal/model"
	"psha/internal/partition"
	"psha/internal/source"
	"psha/internal/stats"
	"psha/internal/storage"
)

const (
	ModeClassical    = "classical"
	ModePreclassical = "preclassical"

	DefaultTaskMultiplier = 5.0
	tracerName            = "psha/calc"
)

type FailurePolicy string

const (
	FailAbort    FailurePolicy = "abort"
	FailContinue FailurePolicy = "continue"
)

var ErrInvalidConfig = errors.New("invalid calculator config")

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailAbort:
		return FailAbort, nil
	case FailContinue:
		return FailContinue, nil
	default:
		return "", fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, s)
	}
}

// TaskError annotates the failure of one unit of work.
type TaskError struct {
	TaskNumber int
	GroupID    int
	Err        error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (group %d): %v", e.TaskNumber, e.GroupID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type Config struct {
	Workers         int
	ConcurrentTasks int

	// SplitTasks re-blocks the sources of every non-atomic task into
	// sub-tasks before submission.
	SplitTasks     bool
	TaskMultiplier float64

	Mode          string
	FailurePolicy FailurePolicy
	Logger        *log.Logger
	Tracer        trace.Tracer

	// Store, when set, receives the run record and its results.
	Store storage.Store
}

// Input is what a run computes: the groups of the source model evaluated
// with params.
type Input struct {
	Params hazard.Params
	Groups []source.Group
}

type Result struct {
	RunID       string
	Mode        string
	Status      string
	NumTasks    int
	Acc         *hazard.Accumulator
	ExtremePoEs map[int][]float64
	Failed      []*TaskError
}

type Calculator struct {
	cfg Config
}

func New(cfg Config) (*Calculator, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ConcurrentTasks <= 0 {
		cfg.ConcurrentTasks = cfg.Workers
	}
	if cfg.TaskMultiplier <= 0 {
		cfg.TaskMultiplier = DefaultTaskMultiplier
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeClassical
	case ModeClassical, ModePreclassical:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
	policy, err := ParseFailurePolicy(string(cfg.FailurePolicy))
	if err != nil {
		return nil, err
	}
	cfg.FailurePolicy = policy
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Calculator{cfg: cfg}, nil
}

type unitFunc func(context.Context, hazard.Task, hazard.Params) (hazard.TaskResult, error)

func (c *Calculator) unit() unitFunc {
	if c.cfg.Mode == ModePreclassical {
		return hazard.Preclassical
	}
	return hazard.Classical
}

// BuildTasks validates the groups and partitions them into numbered tasks.
func (c *Calculator) BuildTasks(in Input) ([]hazard.Task, error) {
	if in.Params.Sites == nil {
		return nil, fmt.Errorf("%w: no sites", ErrInvalidConfig)
	}
	numModels := make(map[string]int, len(in.Params.Models))
	for trt, models := range in.Params.Models {
		numModels[trt] = len(models)
	}
	checked := make(map[string]bool, len(numModels))
	for _, g := range in.Groups {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if checked[g.TRT] {
			continue
		}
		// configuration errors abort the run whatever the failure policy
		if _, _, err := hazard.NewContextMaker(g.TRT, in.Params); err != nil {
			return nil, fmt.Errorf("group %d: %w", g.ID, err)
		}
		checked[g.TRT] = true
	}
	weigher := partition.Weigher{NumModels: numModels, MaxDistance: in.Params.Contexts.MaxDistance}
	tasks, err := partition.BuildTasks(in.Groups, c.cfg.ConcurrentTasks, weigher)
	if err != nil {
		return nil, err
	}
	blocks := partition.BlocksPerGroup(tasks)
	for _, g := range in.Groups {
		nr := 0
		for _, src := range g.Sources {
			nr += src.NumRuptures()
		}
		c.cfg.Logger.Printf("TRT = %s max_dist=%.0f km gsims=%d ruptures=%d blocks=%d",
			g.TRT, in.Params.Contexts.MaxDistance.MaxDistance(g.TRT), numModels[g.TRT], nr, blocks[g.ID])
	}
	if !c.cfg.SplitTasks || c.cfg.Mode != ModeClassical {
		return tasks, nil
	}
	maxSites := in.Params.Options.MaxSitesDisagg
	if maxSites <= 0 {
		maxSites = hazard.DefaultMaxSitesDisagg
	}
	var split []hazard.Task
	for _, task := range tasks {
		sub, err := partition.SplitTask(task, in.Params.Sites.Complete(), maxSites, c.cfg.TaskMultiplier, weigher.Weight)
		if err != nil {
			return nil, err
		}
		split = append(split, sub...)
	}
	return partition.Renumber(split), nil
}

// Run executes every task with at most Workers running at once and reduces
// the results as they complete. With the abort policy the first failing
// task cancels the run and its error is returned; with the continue policy
// failed tasks are listed in the result.
func (c *Calculator) Run(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	res := Result{RunID: uuid.NewString(), Mode: c.cfg.Mode, Status: model.RunCompleted}
	ctx, span := c.cfg.Tracer.Start(ctx, "psha.run", trace.WithAttributes(
		attribute.String("psha.run_id", res.RunID),
		attribute.String("psha.mode", c.cfg.Mode),
		attribute.Int("psha.groups", len(in.Groups)),
	))
	defer span.End()

	tasks, err := c.BuildTasks(in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	res.NumTasks = len(tasks)
	span.SetAttributes(attribute.Int("psha.tasks", len(tasks)))

	acc, failed, err := c.execute(ctx, tasks, in.Params)
	res.Acc = acc
	res.Failed = failed
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Status = model.RunFailed
		c.cfg.Logger.Printf("run %s failed: %v", res.RunID, err)
		if perr := c.persist(ctx, res, in, started, err); perr != nil {
			c.cfg.Logger.Printf("run %s: save failed run: %v", res.RunID, perr)
		}
		return res, err
	}
	if len(failed) > 0 {
		res.Status = model.RunPartial
	}

	res.ExtremePoEs = make(map[int][]float64, len(acc.PMaps))
	for gid, pm := range acc.PMaps {
		pm.FixOnes()
		res.ExtremePoEs[gid] = stats.ExtremePoEs(pm, in.Params.Options.Levels)
	}
	c.cfg.Logger.Printf("considered %d/%d ruptures", acc.ConsideredRuptures(), acc.TotalRuptures)
	if d := acc.MeanMaxDist(); d > 0 {
		c.cfg.Logger.Printf("effective max distance for point sources %.0f km", d)
	}
	if err := c.persist(ctx, res, in, started, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	return res, nil
}

func (c *Calculator) execute(ctx context.Context, tasks []hazard.Task, params hazard.Params) (*hazard.Accumulator, []*TaskError, error) {
	unit := c.unit()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	results := make(chan hazard.TaskResult)
	acc := hazard.NewAccumulator()
	var reduceErr error
	reduced := make(chan struct{})
	go func() {
		defer close(reduced)
		for r := range results {
			if err := acc.Add(r); err != nil && reduceErr == nil {
				reduceErr = err
			}
		}
	}()

	var (
		mu     sync.Mutex
		failed []*TaskError
	)
	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		task := task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := c.runTask(gctx, unit, task, params)
			if err != nil {
				terr := &TaskError{TaskNumber: task.Number, GroupID: task.Group.ID, Err: err}
				if c.cfg.FailurePolicy == FailContinue && gctx.Err() == nil {
					c.cfg.Logger.Printf("%v", terr)
					mu.Lock()
					failed = append(failed, terr)
					mu.Unlock()
					return nil
				}
				return terr
			}
			select {
			case results <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	close(results)
	<-reduced

	sort.Slice(failed, func(i, j int) bool { return failed[i].TaskNumber < failed[j].TaskNumber })
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = reduceErr
	}
	return acc, failed, err
}

func (c *Calculator) runTask(ctx context.Context, unit unitFunc, task hazard.Task, params hazard.Params) (hazard.TaskResult, error) {
	ctx, span := c.cfg.Tracer.Start(ctx, "psha.task", trace.WithAttributes(
		attribute.Int("psha.task", task.Number),
		attribute.Int("psha.group", task.Group.ID),
		attribute.Int("psha.sources", len(task.Group.Sources)),
	))
	defer span.End()

	r, err := unit(ctx, task, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return hazard.TaskResult{}, err
	}
	span.SetAttributes(attribute.Int("psha.ruptures", r.TotalRuptures))
	return r, nil
}
