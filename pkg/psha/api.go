package psha

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"psha/internal/calc"
	"psha/internal/config"
	"psha/internal/model"
	"psha/internal/stats"
	"psha/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "psha.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *log.Logger
	Tracer       trace.Tracer
}

type Client struct {
	store       storage.Store
	initialized bool

	artifactsDir string
	exportsDir   string
	logger       *log.Logger
	tracer       trace.Tracer
}

// RunRequest selects a job, either as a YAML file or already decoded, and
// the execution settings.
type RunRequest struct {
	JobPath string
	Job     *config.Job

	Mode            string
	Workers         int
	ConcurrentTasks int
	SplitTasks      bool
	TaskMultiplier  float64
	FailurePolicy   string
}

type RunSummary struct {
	RunID              string
	Mode               string
	Status             string
	NumTasks           int
	FailedTasks        []int
	TotalRuptures      int
	ConsideredRuptures int
	ExtremePoEs        map[int][]float64
	ArtifactsDir       string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Mode          string
	Status        string
	NumSites      int
	TotalRuptures int
}

// QueryRequest names a stored run by id or as the most recent one.
type QueryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Run computes the hazard curves of a job, stores them and writes the run
// artifacts. A failed run is still recorded before its error is returned.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if (req.JobPath == "") == (req.Job == nil) {
		return RunSummary{}, errors.New("run requires exactly one of job path or job")
	}
	job := req.Job
	if job == nil {
		loaded, err := config.LoadJob(req.JobPath)
		if err != nil {
			return RunSummary{}, err
		}
		job = &loaded
	}
	in, err := job.Build()
	if err != nil {
		return RunSummary{}, err
	}
	policy, err := calc.ParseFailurePolicy(req.FailurePolicy)
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	calculator, err := calc.New(calc.Config{
		Workers:         req.Workers,
		ConcurrentTasks: req.ConcurrentTasks,
		SplitTasks:      req.SplitTasks,
		TaskMultiplier:  req.TaskMultiplier,
		Mode:            req.Mode,
		FailurePolicy:   policy,
		Logger:          c.logger,
		Tracer:          c.tracer,
		Store:           c.store,
	})
	if err != nil {
		return RunSummary{}, err
	}

	res, runErr := calculator.Run(ctx, in)
	if res.RunID == "" {
		return RunSummary{}, runErr
	}
	runDir, err := c.writeArtifacts(ctx, res.RunID)
	if err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}
	if runErr != nil {
		return RunSummary{}, runErr
	}

	summary := RunSummary{
		RunID:        res.RunID,
		Mode:         res.Mode,
		Status:       res.Status,
		NumTasks:     res.NumTasks,
		ExtremePoEs:  res.ExtremePoEs,
		ArtifactsDir: filepath.Clean(runDir),
	}
	for _, f := range res.Failed {
		summary.FailedTasks = append(summary.FailedTasks, f.TaskNumber)
	}
	if res.Acc != nil {
		summary.TotalRuptures = res.Acc.TotalRuptures
		summary.ConsideredRuptures = res.Acc.ConsideredRuptures()
	}
	return summary, nil
}

// writeArtifacts exports what the store holds for a run.
func (c *Client) writeArtifacts(ctx context.Context, runID string) (string, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run not found: %s", runID)
	}
	artifacts := stats.RunArtifacts{Run: run}
	if run.Status != model.RunFailed {
		if artifacts.Curves, err = c.store.ListGroupCurves(ctx, runID); err != nil {
			return "", err
		}
		if artifacts.Sources, _, err = c.store.GetSourceInfo(ctx, runID); err != nil {
			return "", err
		}
		if artifacts.Tasks, _, err = c.store.GetTaskInfo(ctx, runID); err != nil {
			return "", err
		}
		if artifacts.Ruptures, _, err = c.store.GetRuptures(ctx, runID); err != nil {
			return "", err
		}
	}
	return stats.WriteRunArtifacts(c.artifactsDir, artifacts)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			CreatedAtUTC:  e.CreatedAtUTC,
			Mode:          e.Mode,
			Status:        e.Status,
			NumSites:      e.NumSites,
			TotalRuptures: e.TotalRuptures,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) GetRun(ctx context.Context, req QueryRequest) (model.Run, error) {
	runID, err := c.query(ctx, req, "run")
	if err != nil {
		return model.Run{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.Run{}, err
	}
	if !ok {
		return model.Run{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) Curves(ctx context.Context, req QueryRequest) ([]model.GroupCurves, error) {
	runID, err := c.query(ctx, req, "curves")
	if err != nil {
		return nil, err
	}
	curves, err := c.store.ListGroupCurves(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(curves) == 0 {
		return nil, fmt.Errorf("curves not found for run id: %s", runID)
	}
	return limit(curves, req.Limit), nil
}

func (c *Client) Sources(ctx context.Context, req QueryRequest) ([]model.SourceInfo, error) {
	runID, err := c.query(ctx, req, "source info")
	if err != nil {
		return nil, err
	}
	info, ok, err := c.store.GetSourceInfo(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("source info not found for run id: %s", runID)
	}
	return limit(info, req.Limit), nil
}

func (c *Client) Tasks(ctx context.Context, req QueryRequest) ([]model.TaskInfo, error) {
	runID, err := c.query(ctx, req, "task info")
	if err != nil {
		return nil, err
	}
	info, ok, err := c.store.GetTaskInfo(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task info not found for run id: %s", runID)
	}
	return limit(info, req.Limit), nil
}

func (c *Client) Ruptures(ctx context.Context, req QueryRequest) ([]model.RuptureRecord, error) {
	runID, err := c.query(ctx, req, "ruptures")
	if err != nil {
		return nil, err
	}
	rows, ok, err := c.store.GetRuptures(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ruptures not found for run id: %s", runID)
	}
	return limit(rows, req.Limit), nil
}

func (c *Client) query(ctx context.Context, req QueryRequest, what string) (string, error) {
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, what)
	if err != nil {
		return "", err
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	return runID, nil
}

func (c *Client) resolveRunID(runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
