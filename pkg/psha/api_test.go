package psha

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"psha/internal/config"
	"psha/internal/model"
	"psha/internal/stats"
)

var simpleJob = filepath.Join("..", "..", "testdata", "jobs", "simple.yaml")

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientRunQueryAndExport(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Run(ctx, RunRequest{JobPath: simpleJob, Workers: 2, ConcurrentTasks: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || summary.Status != model.RunCompleted {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.ExtremePoEs) != 2 {
		t.Fatalf("expected extreme poes for both groups, got %v", summary.ExtremePoEs)
	}
	if summary.ConsideredRuptures == 0 || summary.ConsideredRuptures > summary.TotalRuptures {
		t.Fatalf("considered %d of %d ruptures", summary.ConsideredRuptures, summary.TotalRuptures)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].NumSites != 2 {
		t.Fatalf("unexpected runs list: %+v", runs)
	}

	run, err := client.GetRun(ctx, QueryRequest{Latest: true})
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.ID != summary.RunID || len(run.IMTs) != 2 {
		t.Fatalf("unexpected run: %+v", run)
	}

	curves, err := client.Curves(ctx, QueryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("curves: %v", err)
	}
	if len(curves) != 2 || curves[0].GroupID != 0 || curves[1].GroupID != 1 {
		t.Fatalf("unexpected curves: %+v", curves)
	}
	for _, c := range curves {
		for _, curve := range c.Curves {
			for _, v := range curve {
				if v < 0 || v >= 1 {
					t.Fatalf("group %d: poe %g outside [0, 1)", c.GroupID, v)
				}
			}
		}
	}

	sources, err := client.Sources(ctx, QueryRequest{RunID: summary.RunID, Limit: 1})
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected limited source info, got %d", len(sources))
	}
	tasks, err := client.Tasks(ctx, QueryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatal("expected task info")
	}
	rows, err := client.Ruptures(ctx, QueryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("ruptures: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected rupture rows for two sites")
	}

	csvCurves, ok, err := stats.ReadCurvesCSV(filepath.Join(base, "runs"), summary.RunID)
	if err != nil || !ok {
		t.Fatalf("read curves csv ok=%t err=%v", ok, err)
	}
	sid := curves[0].SIDs[0]
	if got, want := csvCurves[[4]int{0, sid, 0, 0}], curves[0].Curves[0][0]; got != want {
		t.Fatalf("csv poe %g, store poe %g", got, want)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("exported %s, want %s", exported.RunID, summary.RunID)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "curves.csv")); err != nil {
		t.Fatalf("missing exported curves: %v", err)
	}
}

func TestClientRunFailurePolicies(t *testing.T) {
	job, err := config.LoadJob(simpleJob)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	// the fault group loses its rupture weights
	for i := range job.Groups[1].Sources[0].Ruptures {
		job.Groups[1].Sources[0].Ruptures[i].Weight = nil
	}

	client, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := client.Run(ctx, RunRequest{Job: &job}); err == nil || !strings.Contains(err.Error(), "source id=fault") {
		t.Fatalf("expected annotated failure, got %v", err)
	}
	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.RunFailed {
		t.Fatalf("expected failed run in index: %+v", runs)
	}

	summary, err := client.Run(ctx, RunRequest{Job: &job, FailurePolicy: "continue"})
	if err != nil {
		t.Fatalf("run with continue: %v", err)
	}
	if summary.Status != model.RunPartial || len(summary.FailedTasks) != 1 {
		t.Fatalf("unexpected partial summary: %+v", summary)
	}
	if _, ok := summary.ExtremePoEs[1]; ok {
		t.Fatal("failed group has results")
	}
}

func TestClientPreclassical(t *testing.T) {
	client, _ := newTestClient(t)
	summary, err := client.Run(context.Background(), RunRequest{JobPath: simpleJob, Mode: "preclassical"})
	if err != nil {
		t.Fatalf("preclassical: %v", err)
	}
	if summary.Mode != "preclassical" || summary.TotalRuptures != 8 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestClientRejectsBadRequests(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := client.Run(ctx, RunRequest{}); err == nil {
		t.Fatal("expected error without job")
	}
	if _, err := client.Run(ctx, RunRequest{JobPath: simpleJob, FailurePolicy: "retry"}); err == nil {
		t.Fatal("expected error for unknown failure policy")
	}
	if _, err := client.Run(ctx, RunRequest{JobPath: filepath.Join(t.TempDir(), "missing.yaml")}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing job file, got %v", err)
	}
	if _, err := client.Curves(ctx, QueryRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected error for run id with latest")
	}
	if _, err := client.Curves(ctx, QueryRequest{Latest: true}); err == nil {
		t.Fatal("expected error without runs")
	}
	if _, err := client.Sources(ctx, QueryRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id")
	}
}
