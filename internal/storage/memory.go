package storage

import (
	"context"
	"sort"
	"sync"

	"psha/internal/model"
)

type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]model.Run
	curves   map[string]map[int]model.GroupCurves
	sources  map[string][]model.SourceInfo
	tasks    map[string][]model.TaskInfo
	ruptures map[string][]model.RuptureRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]model.Run)
	s.curves = make(map[string]map[int]model.GroupCurves)
	s.sources = make(map[string][]model.SourceInfo)
	s.tasks = make(map[string][]model.TaskInfo)
	s.ruptures = make(map[string][]model.RuptureRecord)
	return nil
}

func copyRun(run model.Run) model.Run {
	run.IMTs = append([]string(nil), run.IMTs...)
	run.Groups = append([]int(nil), run.Groups...)
	run.FailedTasks = append([]int(nil), run.FailedTasks...)
	run.Errors = append([]string(nil), run.Errors...)
	return run
}

func copyCurves(c model.GroupCurves) model.GroupCurves {
	c.SIDs = append([]int(nil), c.SIDs...)
	curves := make([][]float64, len(c.Curves))
	for i, curve := range c.Curves {
		curves[i] = append([]float64(nil), curve...)
	}
	c.Curves = curves
	c.ExtremePoEs = append([]float64(nil), c.ExtremePoEs...)
	return c
}

func copyRupture(r model.RuptureRecord) model.RuptureRecord {
	if r.OccurrenceRate != nil {
		v := *r.OccurrenceRate
		r.OccurrenceRate = &v
	}
	if r.Weight != nil {
		v := *r.Weight
		r.Weight = &v
	}
	r.ProbsOccur = append([]float64(nil), r.ProbsOccur...)
	params := make(map[string]float64, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	r.Params = params
	dists := make(map[string][]float64, len(r.Distances))
	for k, v := range r.Distances {
		dists[k] = append([]float64(nil), v...)
	}
	r.Distances = dists
	r.SIDs = append([]int(nil), r.SIDs...)
	r.Lons = append([]float64(nil), r.Lons...)
	r.Lats = append([]float64(nil), r.Lats...)
	return r
}

func copyTasks(info []model.TaskInfo) []model.TaskInfo {
	copied := make([]model.TaskInfo, len(info))
	for i, t := range info {
		t.SourceIDs = append([]string(nil), t.SourceIDs...)
		copied[i] = t
	}
	return copied
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.Run{}, false, nil
	}
	return copyRun(run), true, nil
}

// ListRuns returns the runs oldest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sortRuns(runs)
	return runs, nil
}

func sortRuns(runs []model.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

func (s *MemoryStore) SaveGroupCurves(_ context.Context, curves model.GroupCurves) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byGroup, ok := s.curves[curves.RunID]
	if !ok {
		byGroup = make(map[int]model.GroupCurves)
		s.curves[curves.RunID] = byGroup
	}
	byGroup[curves.GroupID] = copyCurves(curves)
	return nil
}

func (s *MemoryStore) GetGroupCurves(_ context.Context, runID string, groupID int) (model.GroupCurves, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	curves, ok := s.curves[runID][groupID]
	if !ok {
		return model.GroupCurves{}, false, nil
	}
	return copyCurves(curves), true, nil
}

// ListGroupCurves returns the curves of a run ordered by group id.
func (s *MemoryStore) ListGroupCurves(_ context.Context, runID string) ([]model.GroupCurves, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byGroup := s.curves[runID]
	out := make([]model.GroupCurves, 0, len(byGroup))
	for _, curves := range byGroup {
		out = append(out, copyCurves(curves))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (s *MemoryStore) SaveSourceInfo(_ context.Context, runID string, info []model.SourceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.SourceInfo, len(info))
	copy(copied, info)
	s.sources[runID] = copied
	return nil
}

func (s *MemoryStore) GetSourceInfo(_ context.Context, runID string) ([]model.SourceInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.sources[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.SourceInfo, len(info))
	copy(copied, info)
	return copied, true, nil
}

func (s *MemoryStore) SaveTaskInfo(_ context.Context, runID string, info []model.TaskInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[runID] = copyTasks(info)
	return nil
}

func (s *MemoryStore) GetTaskInfo(_ context.Context, runID string) ([]model.TaskInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tasks[runID]
	if !ok {
		return nil, false, nil
	}
	return copyTasks(info), true, nil
}

func (s *MemoryStore) SaveRuptures(_ context.Context, runID string, rows []model.RuptureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.RuptureRecord, len(rows))
	for i, row := range rows {
		copied[i] = copyRupture(row)
	}
	s.ruptures[runID] = copied
	return nil
}

func (s *MemoryStore) GetRuptures(_ context.Context, runID string) ([]model.RuptureRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.ruptures[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.RuptureRecord, len(rows))
	for i, row := range rows {
		copied[i] = copyRupture(row)
	}
	return copied, true, nil
}
