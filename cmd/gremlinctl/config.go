package main

import (
	"encoding/json"
	"math"
	"os"

	"gremlin/pkg/gremlin"
)

func loadTrainRequestFromConfig(path string) (gremlin.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gremlin.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return gremlin.TrainRequest{}, err
	}

	var req gremlin.TrainRequest
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["data"]); ok {
		req.MSAPath = v
	}
	if v, ok := asString(raw["structure_file"]); ok {
		req.StructureFile = v
	}
	if v, ok := asString(raw["output_file"]); ok {
		req.OutputFile = v
	}
	if v, ok := asString(raw["contacts_file"]); ok {
		req.ContactsFile = v
	}
	if v, ok := asInt(raw["heads"]); ok {
		req.Heads = v
	}
	if v, ok := asInt(raw["head_dim"]); ok {
		req.HeadDim = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asFloat64(raw["l2_coeff"]); ok {
		req.L2Coeff = v
	}
	if v, ok := asBool(raw["no_bias"]); ok {
		req.NoBias = v
	}
	if v, ok := asString(raw["optimizer"]); ok {
		req.Optimizer = v
	}
	if v, ok := asInt(raw["max_steps"]); ok {
		req.MaxSteps = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asFloat64(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func asInt64(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
