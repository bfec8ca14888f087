package storage

import (
	"encoding/json"
	"errors"

	"psha/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp of newly written records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.Run) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.Run, error) {
	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func EncodeGroupCurves(c model.GroupCurves) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeGroupCurves(data []byte) (model.GroupCurves, error) {
	var curves model.GroupCurves
	if err := json.Unmarshal(data, &curves); err != nil {
		return model.GroupCurves{}, err
	}
	if err := checkVersion(curves.VersionedRecord); err != nil {
		return model.GroupCurves{}, err
	}
	return curves, nil
}

func EncodeSourceInfo(info []model.SourceInfo) ([]byte, error) {
	return json.Marshal(info)
}

func DecodeSourceInfo(data []byte) ([]model.SourceInfo, error) {
	var info []model.SourceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	for _, record := range info {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func EncodeTaskInfo(info []model.TaskInfo) ([]byte, error) {
	return json.Marshal(info)
}

func DecodeTaskInfo(data []byte) ([]model.TaskInfo, error) {
	var info []model.TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	for _, record := range info {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func EncodeRuptures(rows []model.RuptureRecord) ([]byte, error) {
	return json.Marshal(rows)
}

func DecodeRuptures(data []byte) ([]model.RuptureRecord, error) {
	var rows []model.RuptureRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := checkVersion(row.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
