package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one training run.
type RunRecord struct {
	VersionedRecord
	ID           string `json:"id"`
	CreatedAtUTC string `json:"created_at_utc"`

	MSAPath string `json:"msa_path"`
	NumSeqs int    `json:"num_seqs"`
	Length  int    `json:"length"`

	Heads        int     `json:"heads"`
	HeadDim      int     `json:"head_dim"`
	LearningRate float64 `json:"learning_rate"`
	L2Coeff      float64 `json:"l2_coeff"`
	UseBias      bool    `json:"use_bias"`
	Optimizer    string  `json:"optimizer"`

	MaxSteps  int   `json:"max_steps"`
	BatchSize int   `json:"batch_size"`
	Seed      int64 `json:"seed"`

	FinalLoss float64  `json:"final_loss"`
	AUC       *float64 `json:"auc,omitempty"`
	AUCAPC    *float64 `json:"auc_apc,omitempty"`
}

// ContactMapRecord stores a symmetric contact score matrix row-major.
type ContactMapRecord struct {
	VersionedRecord
	RunID  string    `json:"run_id"`
	Length int       `json:"length"`
	Scores []float64 `json:"scores"`
}
