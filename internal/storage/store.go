package storage

import (
	"context"

	"psha/internal/model"
)

// Store defines persistence operations for calculation results.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, bool, error)
	ListRuns(ctx context.Context) ([]model.Run, error)
	SaveGroupCurves(ctx context.Context, curves model.GroupCurves) error
	GetGroupCurves(ctx context.Context, runID string, groupID int) (model.GroupCurves, bool, error)
	ListGroupCurves(ctx context.Context, runID string) ([]model.GroupCurves, error)
	SaveSourceInfo(ctx context.Context, runID string, info []model.SourceInfo) error
	GetSourceInfo(ctx context.Context, runID string) ([]model.SourceInfo, bool, error)
	SaveTaskInfo(ctx context.Context, runID string, info []model.TaskInfo) error
	GetTaskInfo(ctx context.Context, runID string) ([]model.TaskInfo, bool, error)
	SaveRuptures(ctx context.Context, runID string, rows []model.RuptureRecord) error
	GetRuptures(ctx context.Context, runID string) ([]model.RuptureRecord, bool, error)
}
