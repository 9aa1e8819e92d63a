package storage

import (
	"encoding/json"
	"errors"

	"gremlin/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeContactMap(c model.ContactMapRecord) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeContactMap(data []byte) (model.ContactMapRecord, error) {
	var contactMap model.ContactMapRecord
	if err := json.Unmarshal(data, &contactMap); err != nil {
		return model.ContactMapRecord{}, err
	}
	if err := checkVersion(contactMap.VersionedRecord); err != nil {
		return model.ContactMapRecord{}, err
	}
	return contactMap, nil
}

func EncodeLossHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeLossHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
