package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"psha/internal/model"
)

const runIndexFile = "run_index.json"

var artifactFiles = []string{"run.json", "curves.csv", "extreme_poes.json", "source_info.json", "task_info.json", "ruptures.json"}

// RunArtifacts is everything exported for one run.
type RunArtifacts struct {
	Run      model.Run
	Curves   []model.GroupCurves
	Sources  []model.SourceInfo
	Tasks    []model.TaskInfo
	Ruptures []model.RuptureRecord
}

type GroupExtreme struct {
	GroupID     int       `json:"grp_id"`
	ExtremePoE  float64   `json:"extreme_poe"`
	ExtremePoEs []float64 `json:"extreme_poes"`
}

type RunIndexEntry struct {
	RunID         string `json:"run_id"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	NumSites      int    `json:"num_sites"`
	TotalRuptures int    `json:"total_ruptures"`
	CreatedAtUTC  string `json:"created_at_utc"`
}

func IndexEntry(run model.Run) RunIndexEntry {
	return RunIndexEntry{
		RunID:         run.ID,
		Mode:          run.Mode,
		Status:        run.Status,
		NumSites:      run.NumSites,
		TotalRuptures: run.TotalRuptures,
		CreatedAtUTC:  run.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "run.json"), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeCurvesCSV(filepath.Join(runDir, "curves.csv"), artifacts.Curves); err != nil {
		return "", err
	}
	extremes := make([]GroupExtreme, 0, len(artifacts.Curves))
	for _, c := range artifacts.Curves {
		e := GroupExtreme{GroupID: c.GroupID, ExtremePoEs: c.ExtremePoEs}
		for _, v := range c.ExtremePoEs {
			if v > e.ExtremePoE {
				e.ExtremePoE = v
			}
		}
		extremes = append(extremes, e)
	}
	if err := writeJSON(filepath.Join(runDir, "extreme_poes.json"), extremes); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "source_info.json"), nonNil(artifacts.Sources)); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "task_info.json"), nonNil(artifacts.Tasks)); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "ruptures.json"), nonNil(artifacts.Ruptures)); err != nil {
		return "", err
	}

	if err := AppendRunIndex(baseDir, IndexEntry(artifacts.Run)); err != nil {
		return "", err
	}
	return runDir, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// writeCurvesCSV writes one row per (group, site, level, model). The level
// column is the index within the intensity measure type.
func writeCurvesCSV(path string, curves []model.GroupCurves) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"grp_id", "sid", "level", "model", "poe"}); err != nil {
		return err
	}
	for _, c := range curves {
		if c.NumModels <= 0 {
			continue
		}
		for i, sid := range c.SIDs {
			curve := c.Curves[i]
			for k, poe := range curve {
				record := []string{
					strconv.Itoa(c.GroupID),
					strconv.Itoa(sid),
					strconv.Itoa(k / c.NumModels),
					strconv.Itoa(k % c.NumModels),
					strconv.FormatFloat(poe, 'g', -1, 64),
				}
				if err := w.Write(record); err != nil {
					return err
				}
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Sync()
}

// ReadCurvesCSV reads back the rows written by WriteRunArtifacts as
// (grp_id, sid, level, model) -> poe.
func ReadCurvesCSV(baseDir, runID string) (map[[4]int]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "curves.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, false, err
	}
	out := make(map[[4]int]float64, len(records))
	for i, record := range records {
		if i == 0 {
			continue
		}
		if len(record) != 5 {
			return nil, false, fmt.Errorf("curves row %d: expected 5 columns, got %d", i, len(record))
		}
		var key [4]int
		for j := range key {
			v, err := strconv.Atoi(record[j])
			if err != nil {
				return nil, false, fmt.Errorf("curves row %d: %w", i, err)
			}
			key[j] = v
		}
		poe, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return nil, false, fmt.Errorf("curves row %d: %w", i, err)
		}
		out[key] = poe
	}
	return out, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// later appended entries first for equal timestamps
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRun(baseDir, runID string) (model.Run, bool, error) {
	path := filepath.Join(baseDir, runID, "run.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Run{}, false, nil
		}
		return model.Run{}, false, err
	}

	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, false, err
	}
	return run, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
