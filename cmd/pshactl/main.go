package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"psha/internal/config"
	"psha/internal/model"
	"psha/internal/storage"
	"psha/internal/telemetry"
	pshaapi "psha/pkg/psha"
)

func main() {
	log.SetPrefix("[PSHA] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	switch args[0] {
	case "init":
		return runInit(ctx, env, args[1:])
	case "run":
		return runRun(ctx, env, args[1:])
	case "runs":
		return runRuns(ctx, env, args[1:])
	case "curves":
		return runCurves(ctx, env, args[1:])
	case "sources":
		return runSources(ctx, env, args[1:])
	case "tasks":
		return runTasks(ctx, env, args[1:])
	case "ruptures":
		return runRuptures(ctx, env, args[1:])
	case "export":
		return runExport(ctx, env, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind   *string
	dbPath *string
}

func addStoreFlags(fs *flag.FlagSet, env config.Env) storeFlags {
	kind := env.Store
	if kind == "" {
		kind = storage.DefaultStoreKind()
	}
	return storeFlags{
		kind:   fs.String("store", kind, "store backend: memory|sqlite"),
		dbPath: fs.String("db-path", env.DBPath, "sqlite database path"),
	}
}

func newClient(env config.Env, sf storeFlags, logger *log.Logger) (*pshaapi.Client, error) {
	return pshaapi.New(pshaapi.Options{
		StoreKind:    *sf.kind,
		DBPath:       *sf.dbPath,
		ArtifactsDir: env.ArtifactsDir,
		Logger:       logger,
	})
}

func runInit(ctx context.Context, env config.Env, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	sf := addStoreFlags(fs, env)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(env, sf, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *sf.kind)
	return nil
}

func runRun(ctx context.Context, env config.Env, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	sf := addStoreFlags(fs, env)
	jobPath := fs.String("job", "", "job file (YAML)")
	mode := fs.String("mode", "classical", "calculation mode: classical|preclassical")
	workers := fs.Int("workers", env.Workers, "max units of work running at once")
	concurrentTasks := fs.Int("concurrent-tasks", env.ConcurrentTasks, "target number of tasks (<=0 uses workers)")
	splitTasks := fs.Bool("split-tasks", false, "split the sources of each task into weighted sub-tasks")
	taskMultiplier := fs.Float64("task-multiplier", 0, "sub-task multiplier when splitting (<=0 uses the default)")
	failurePolicy := fs.String("failure-policy", env.FailurePolicy, "on task failure: abort|continue")
	quiet := fs.Bool("quiet", false, "suppress calculation log output")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobPath == "" {
		return errors.New("run requires --job")
	}
	if *workers <= 0 {
		return errors.New("workers must be > 0")
	}

	shutdown, err := telemetry.Setup(ctx, telemetry.ServiceName, env.OTelEndpoint, env.OTelEnabled)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		_ = shutdown(context.WithoutCancel(ctx))
	}()

	var logger *log.Logger
	if !*quiet {
		logger = log.New(os.Stderr, log.Prefix(), log.LstdFlags)
	}
	client, err := newClient(env, sf, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, pshaapi.RunRequest{
		JobPath:         *jobPath,
		Mode:            *mode,
		Workers:         *workers,
		ConcurrentTasks: *concurrentTasks,
		SplitTasks:      *splitTasks,
		TaskMultiplier:  *taskMultiplier,
		FailurePolicy:   *failurePolicy,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("run_id=%s mode=%s status=%s tasks=%d failed=%d considered=%d/%d artifacts=%s\n",
		summary.RunID,
		summary.Mode,
		summary.Status,
		summary.NumTasks,
		len(summary.FailedTasks),
		summary.ConsideredRuptures,
		summary.TotalRuptures,
		summary.ArtifactsDir,
	)
	gids := make([]int, 0, len(summary.ExtremePoEs))
	for gid := range summary.ExtremePoEs {
		gids = append(gids, gid)
	}
	sort.Ints(gids)
	for _, gid := range gids {
		fmt.Printf("grp_id=%d extreme_poes=%s\n", gid, formatFloats(summary.ExtremePoEs[gid]))
	}
	return nil
}

func runRuns(ctx context.Context, env config.Env, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := pshaapi.New(pshaapi.Options{StoreKind: "memory", ArtifactsDir: env.ArtifactsDir})
	if err != nil {
		return err
	}
	runs, err := client.Runs(ctx, pshaapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	for _, r := range runs {
		fmt.Printf("run_id=%s created_at=%s mode=%s status=%s sites=%d ruptures=%d\n",
			r.RunID,
			r.CreatedAtUTC,
			r.Mode,
			r.Status,
			r.NumSites,
			r.TotalRuptures,
		)
	}
	return nil
}

type queryFlags struct {
	storeFlags
	runID   *string
	latest  *bool
	limit   *int
	jsonOut *bool
}

func parseQuery(name string, env config.Env, args []string) (queryFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	qf := queryFlags{
		storeFlags: addStoreFlags(fs, env),
		runID:      fs.String("run-id", "", "run id"),
		latest:     fs.Bool("latest", false, "use the most recent run from run index"),
		limit:      fs.Int("limit", 50, "max rows to print (<=0 for all)"),
		jsonOut:    fs.Bool("json", false, "emit rows as JSON"),
	}
	if err := fs.Parse(args); err != nil {
		return queryFlags{}, err
	}
	if *qf.runID != "" && *qf.latest {
		return queryFlags{}, errors.New("use either --run-id or --latest, not both")
	}
	if *qf.runID == "" && !*qf.latest {
		return queryFlags{}, fmt.Errorf("%s requires --run-id or --latest", name)
	}
	if *qf.limit < 0 {
		*qf.limit = 0
	}
	return qf, nil
}

func (qf queryFlags) request() pshaapi.QueryRequest {
	return pshaapi.QueryRequest{RunID: *qf.runID, Latest: *qf.latest, Limit: *qf.limit}
}

// query runs fetch against a client built from the parsed flags and prints
// the rows as JSON or through printRow.
func query[T any](ctx context.Context, name string, env config.Env, args []string, fetch func(*pshaapi.Client, context.Context, pshaapi.QueryRequest) ([]T, error), printRow func(T)) error {
	qf, err := parseQuery(name, env, args)
	if err != nil {
		return err
	}
	client, err := newClient(env, qf.storeFlags, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	rows, err := fetch(client, ctx, qf.request())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("no %s records\n", name)
		return nil
	}
	if *qf.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	for _, row := range rows {
		printRow(row)
	}
	return nil
}

func runCurves(ctx context.Context, env config.Env, args []string) error {
	return query(ctx, "curves", env, args, (*pshaapi.Client).Curves, func(c model.GroupCurves) {
		fmt.Printf("grp_id=%d sites=%d levels=%d models=%d eff_ruptures=%d extreme_poes=%s\n",
			c.GroupID, len(c.SIDs), c.NumLevels, c.NumModels, c.EffRuptures, formatFloats(c.ExtremePoEs))
		for i, sid := range c.SIDs {
			for m := 0; m < c.NumModels; m++ {
				poes := make([]float64, c.NumLevels)
				for l := range poes {
					poes[l] = c.Curves[i][l*c.NumModels+m]
				}
				fmt.Printf("  sid=%d model=%d poes=%s\n", sid, m, formatFloats(poes))
			}
		}
	})
}

func runSources(ctx context.Context, env config.Env, args []string) error {
	return query(ctx, "sources", env, args, (*pshaapi.Client).Sources, func(s model.SourceInfo) {
		fmt.Printf("source_id=%s ruptures=%d sites=%d calc_time=%.6fs\n", s.SourceID, s.NumRuptures, s.NumSites, s.CalcTime)
	})
}

func runTasks(ctx context.Context, env config.Env, args []string) error {
	return query(ctx, "tasks", env, args, (*pshaapi.Client).Tasks, func(t model.TaskInfo) {
		fmt.Printf("task=%d eff_ruptures=%d eff_sites=%.1f sources=%s\n", t.TaskNumber, t.EffRuptures, t.EffSites, strings.Join(t.SourceIDs, ","))
	})
}

func runRuptures(ctx context.Context, env config.Env, args []string) error {
	return query(ctx, "ruptures", env, args, (*pshaapi.Client).Ruptures, func(r model.RuptureRecord) {
		rate := "nan"
		if r.OccurrenceRate != nil {
			rate = fmt.Sprintf("%g", *r.OccurrenceRate)
		}
		fmt.Printf("grp_id=%d src=%d rup_id=%d rate=%s sites=%d\n", r.GroupID, r.SourceIndex, r.RuptureID, rate, len(r.SIDs))
	})
}

func runExport(ctx context.Context, env config.Env, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "exports", "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := pshaapi.New(pshaapi.Options{StoreKind: "memory", ArtifactsDir: env.ArtifactsDir})
	if err != nil {
		return err
	}
	exported, err := client.Export(ctx, pshaapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.6g", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: pshactl <init|run|runs|curves|sources|tasks|ruptures|export> [flags]", msg)
}
