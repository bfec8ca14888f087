package storage

import (
	"context"
	"testing"
	"time"

	"psha/internal/model"
)

func newInitializedMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestMemoryStoreRunsAreListedOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-b", "run-a", "run-c"} {
		run := model.Run{VersionedRecord: CurrentVersion(), ID: id, Mode: "classical", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-b" || runs[2].ID != "run-c" {
		t.Fatalf("unexpected run order: %+v", runs)
	}

	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}
}

func TestMemoryStoreGroupCurvesAreCopied(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := model.GroupCurves{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		GroupID:         2,
		NumLevels:       2,
		NumModels:       1,
		SIDs:            []int{0, 3},
		Curves:          [][]float64{{0.2, 0.1}, {0.05, 0.01}},
	}
	if err := store.SaveGroupCurves(ctx, input); err != nil {
		t.Fatalf("save curves: %v", err)
	}
	input.Curves[0][0] = 0.9

	output, ok, err := store.GetGroupCurves(ctx, "run-1", 2)
	if err != nil {
		t.Fatalf("get curves: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted curves")
	}
	if output.Curves[0][0] != 0.2 || output.SIDs[1] != 3 {
		t.Fatalf("unexpected curves: %+v", output)
	}

	second := input
	second.GroupID = 0
	if err := store.SaveGroupCurves(ctx, second); err != nil {
		t.Fatalf("save curves: %v", err)
	}
	list, err := store.ListGroupCurves(ctx, "run-1")
	if err != nil {
		t.Fatalf("list curves: %v", err)
	}
	if len(list) != 2 || list[0].GroupID != 0 || list[1].GroupID != 2 {
		t.Fatalf("unexpected curve list: %+v", list)
	}
}

func TestMemoryStoreRunDetailsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	sources := []model.SourceInfo{{VersionedRecord: CurrentVersion(), SourceID: "a", NumRuptures: 12, NumSites: 3}}
	if err := store.SaveSourceInfo(ctx, "run-1", sources); err != nil {
		t.Fatalf("save source info: %v", err)
	}
	tasks := []model.TaskInfo{{VersionedRecord: CurrentVersion(), TaskNumber: 0, EffRuptures: 12, EffSites: 0.25, SourceIDs: []string{"a"}}}
	if err := store.SaveTaskInfo(ctx, "run-1", tasks); err != nil {
		t.Fatalf("save task info: %v", err)
	}
	rate := 0.01
	rows := []model.RuptureRecord{{
		VersionedRecord: CurrentVersion(),
		RuptureID:       7,
		OccurrenceRate:  &rate,
		Params:          map[string]float64{"mag": 6},
		SIDs:            []int{0},
		Distances:       map[string][]float64{"rrup": {12.5}},
	}}
	if err := store.SaveRuptures(ctx, "run-1", rows); err != nil {
		t.Fatalf("save ruptures: %v", err)
	}
	rate = 0.5

	gotSources, ok, err := store.GetSourceInfo(ctx, "run-1")
	if err != nil || !ok || len(gotSources) != 1 || gotSources[0].NumRuptures != 12 {
		t.Fatalf("unexpected source info ok=%t err=%v: %+v", ok, err, gotSources)
	}
	gotTasks, ok, err := store.GetTaskInfo(ctx, "run-1")
	if err != nil || !ok || len(gotTasks) != 1 || gotTasks[0].SourceIDs[0] != "a" {
		t.Fatalf("unexpected task info ok=%t err=%v: %+v", ok, err, gotTasks)
	}
	gotRows, ok, err := store.GetRuptures(ctx, "run-1")
	if err != nil || !ok || len(gotRows) != 1 {
		t.Fatalf("unexpected ruptures ok=%t err=%v: %+v", ok, err, gotRows)
	}
	if *gotRows[0].OccurrenceRate != 0.01 || gotRows[0].Weight != nil || gotRows[0].Distances["rrup"][0] != 12.5 {
		t.Fatalf("unexpected rupture row: %+v", gotRows[0])
	}
	if _, ok, _ := store.GetRuptures(ctx, "run-2"); ok {
		t.Fatal("expected no ruptures for run-2")
	}
}
