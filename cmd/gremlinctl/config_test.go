package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTrainRequestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.json")
	content := `{
  "run_id": "run-1",
  "data": "alignments/example.a3m",
  "structure_file": "structures/example.txt",
  "heads": 8,
  "head_dim": 16,
  "learning_rate": 0.002,
  "l2_coeff": 0.05,
  "no_bias": true,
  "optimizer": "lamb",
  "max_steps": 250,
  "batch_size": 32,
  "seed": 42
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	req, err := loadTrainRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.RunID != "run-1" || req.MSAPath != "alignments/example.a3m" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Heads != 8 || req.HeadDim != 16 || req.MaxSteps != 250 || req.BatchSize != 32 {
		t.Fatalf("integer fields wrong: %+v", req)
	}
	if req.LearningRate != 0.002 || req.L2Coeff != 0.05 {
		t.Fatalf("float fields wrong: %+v", req)
	}
	if !req.NoBias || req.Optimizer != "lamb" || req.Seed != 42 {
		t.Fatalf("remaining fields wrong: %+v", req)
	}
}

func TestLoadTrainRequestIgnoresUnknownAndFractionalFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.json")
	content := `{"data": "a.a3m", "heads": 4.5, "unknown_key": true}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	req, err := loadTrainRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.MSAPath != "a.a3m" {
		t.Fatalf("data field lost: %+v", req)
	}
	if req.Heads != 0 {
		t.Fatalf("fractional head count should be ignored, got %d", req.Heads)
	}
}

func TestLoadTrainRequestErrors(t *testing.T) {
	if _, err := loadTrainRequestFromConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadTrainRequestFromConfig(path); err == nil {
		t.Fatal("expected error for malformed json")
	}
}
