package calc

import (
	"context"
	"math"
	"sort"
	"time"

	"psha/internal/hazard"
	"psha/internal/imt"
	"psha/internal/model"
	"psha/internal/pmap"
	"psha/internal/storage"
)

func (c *Calculator) persist(ctx context.Context, res Result, in Input, started time.Time, runErr error) error {
	store := c.cfg.Store
	if store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	run := runRecord(res, in, started, runErr)
	if runErr == nil {
		for _, gid := range sortedGroups(res.Acc.PMaps) {
			curves := GroupCurves(res.RunID, gid, res.Acc.PMaps[gid], res.ExtremePoEs[gid], res.Acc.EffRuptures[gid])
			if err := store.SaveGroupCurves(ctx, curves); err != nil {
				return err
			}
		}
		if err := store.SaveSourceInfo(ctx, res.RunID, SourceInfo(res.Acc.Stats)); err != nil {
			return err
		}
		if err := store.SaveTaskInfo(ctx, res.RunID, TaskInfo(res.Acc.SourcesByTask)); err != nil {
			return err
		}
		if err := store.SaveRuptures(ctx, res.RunID, RuptureRecords(res.Acc.RupData)); err != nil {
			return err
		}
	}
	return store.SaveRun(ctx, run)
}

func runRecord(res Result, in Input, started time.Time, runErr error) model.Run {
	run := model.Run{
		VersionedRecord: storage.CurrentVersion(),
		ID:              res.RunID,
		Mode:            res.Mode,
		Status:          res.Status,
		CreatedAt:       started.UTC(),
		NumTasks:        res.NumTasks,
		NumLevels:       in.Params.Options.Levels.Len(),
		IMTs:            imtNames(in.Params.Options.Levels),
	}
	if in.Params.Sites != nil {
		run.NumSites = in.Params.Sites.Complete()
	}
	for _, g := range in.Groups {
		run.Groups = append(run.Groups, g.ID)
	}
	for _, f := range res.Failed {
		run.FailedTasks = append(run.FailedTasks, f.TaskNumber)
		run.Errors = append(run.Errors, f.Error())
	}
	if runErr != nil {
		run.Errors = append(run.Errors, runErr.Error())
	}
	if res.Acc != nil {
		run.TotalRuptures = res.Acc.TotalRuptures
		run.ConsideredRuptures = res.Acc.ConsideredRuptures()
		run.MeanMaxDistance = res.Acc.MeanMaxDist()
	}
	return run
}

func imtNames(levels imt.Levels) []string {
	imts := levels.IMTs()
	out := make([]string, len(imts))
	for i, m := range imts {
		out[i] = m.String()
	}
	return out
}

func sortedGroups(pmaps map[int]*pmap.Map) []int {
	out := make([]int, 0, len(pmaps))
	for gid := range pmaps {
		out = append(out, gid)
	}
	sort.Ints(out)
	return out
}

func GroupCurves(runID string, gid int, pm *pmap.Map, extreme []float64, effRuptures int) model.GroupCurves {
	l, g := pm.Shape()
	out := model.GroupCurves{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		GroupID:         gid,
		NumLevels:       l,
		NumModels:       g,
		SIDs:            pm.SIDs(),
		ExtremePoEs:     append([]float64(nil), extreme...),
		EffRuptures:     effRuptures,
	}
	out.Curves = make([][]float64, len(out.SIDs))
	for i, sid := range out.SIDs {
		out.Curves[i], _ = pm.Curve(sid)
	}
	return out
}

func SourceInfo(diag hazard.Diagnostics) []model.SourceInfo {
	ids := diag.SourceIDs()
	out := make([]model.SourceInfo, len(ids))
	for i, id := range ids {
		s := diag[id]
		out[i] = model.SourceInfo{
			VersionedRecord: storage.CurrentVersion(),
			SourceID:        id,
			NumRuptures:     s.NumRuptures,
			NumSites:        s.NumSites,
			CalcTime:        s.Elapsed.Seconds(),
		}
	}
	return out
}

func TaskInfo(byTask map[int]hazard.TaskSummary) []model.TaskInfo {
	out := make([]model.TaskInfo, 0, len(byTask))
	for no, s := range byTask {
		out = append(out, model.TaskInfo{
			VersionedRecord: storage.CurrentVersion(),
			TaskNumber:      no,
			EffRuptures:     s.EffRuptures,
			EffSites:        s.EffSites,
			SourceIDs:       append([]string(nil), s.SourceIDs...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskNumber < out[j].TaskNumber })
	return out
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func RuptureRecords(rows []hazard.RupRow) []model.RuptureRecord {
	out := make([]model.RuptureRecord, len(rows))
	for i, row := range rows {
		out[i] = model.RuptureRecord{
			VersionedRecord: storage.CurrentVersion(),
			GroupID:         row.GroupID,
			SourceIndex:     row.SourceIndex,
			RuptureID:       row.RuptureID,
			OccurrenceRate:  optional(row.OccurrenceRate),
			Weight:          optional(row.Weight),
			ProbsOccur:      row.ProbsOccur,
			Params:          row.Params,
			SIDs:            row.SIDs,
			Distances:       row.Distances,
			Lons:            row.Lons,
			Lats:            row.Lats,
		}
	}
	return out
}
