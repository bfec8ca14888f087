package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Run summarizes one calculation.
type Run struct {
	VersionedRecord
	ID                 string    `json:"id"`
	Mode               string    `json:"mode"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	NumSites           int       `json:"num_sites"`
	IMTs               []string  `json:"imts"`
	NumLevels          int       `json:"num_levels"`
	Groups             []int     `json:"groups"`
	NumTasks           int       `json:"num_tasks"`
	FailedTasks        []int     `json:"failed_tasks,omitempty"`
	Errors             []string  `json:"errors,omitempty"`
	TotalRuptures      int       `json:"total_ruptures"`
	ConsideredRuptures int       `json:"considered_ruptures"`
	MeanMaxDistance    float64   `json:"mean_max_distance"`
}

// GroupCurves holds the probability map of one source group. Curves[i] is
// the flattened level-major, model-minor curve of site SIDs[i].
type GroupCurves struct {
	VersionedRecord
	RunID       string      `json:"run_id"`
	GroupID     int         `json:"grp_id"`
	NumLevels   int         `json:"num_levels"`
	NumModels   int         `json:"num_models"`
	SIDs        []int       `json:"sids"`
	Curves      [][]float64 `json:"curves"`
	ExtremePoEs []float64   `json:"extreme_poes"`
	EffRuptures int         `json:"eff_ruptures"`
}

type SourceInfo struct {
	VersionedRecord
	SourceID    string  `json:"source_id"`
	NumRuptures int     `json:"num_ruptures"`
	NumSites    int     `json:"num_sites"`
	CalcTime    float64 `json:"calc_time"`
}

type TaskInfo struct {
	VersionedRecord
	TaskNumber  int      `json:"task_no"`
	EffRuptures int      `json:"eff_ruptures"`
	EffSites    float64  `json:"eff_sites"`
	SourceIDs   []string `json:"srcids"`
}

// RuptureRecord is a persisted rupture row. OccurrenceRate is nil for
// non-parametric ruptures and Weight is nil when unset.
type RuptureRecord struct {
	VersionedRecord
	GroupID        int                  `json:"grp_id"`
	SourceIndex    int                  `json:"srcidx"`
	RuptureID      int64                `json:"rup_id"`
	OccurrenceRate *float64             `json:"occurrence_rate,omitempty"`
	Weight         *float64             `json:"weight,omitempty"`
	ProbsOccur     []float64            `json:"probs_occur,omitempty"`
	Params         map[string]float64   `json:"params"`
	SIDs           []int                `json:"sids"`
	Distances      map[string][]float64 `json:"distances"`
	Lons           []float64            `json:"lons"`
	Lats           []float64            `json:"lats"`
}
