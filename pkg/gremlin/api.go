// Package gremlin exposes the training driver behind a small client API:
// load an alignment, fit the factored attention model, score the predicted
// contacts and record the run.
package gremlin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"gremlin/internal/attention"
	"gremlin/internal/contacts"
	"gremlin/internal/model"
	"gremlin/internal/msa"
	"gremlin/internal/stats"
	"gremlin/internal/storage"
	"gremlin/internal/train"
)

const (
	defaultRunsDir = "runs"
	defaultDBPath  = "gremlin.db"
)

type Options struct {
	StoreKind string
	DBPath    string
	RunsDir   string
}

type Client struct {
	store   storage.Store
	runsDir string
}

// TrainRequest configures one training run. Zero fields take the model
// defaults (32 heads x 16 dims, lr 1e-3, l2 1e-2, adam, bias enabled).
type TrainRequest struct {
	RunID   string
	MSAPath string
	// StructureFile optionally provides true contacts for AUC evaluation.
	StructureFile string
	// OutputFile optionally receives the trained parameters in gob format.
	OutputFile string
	// ContactsFile optionally receives the APC-corrected upper-triangle
	// contact scores as CSV.
	ContactsFile string

	Heads        int
	HeadDim      int
	LearningRate float64
	L2Coeff      float64
	NoBias       bool
	Optimizer    string

	MaxSteps  int
	BatchSize int
	Seed      int64

	// Progress, when set, is called after every optimizer step.
	Progress func(step int, loss float64)
}

type TrainSummary struct {
	RunID     string
	NumSeqs   int
	Length    int
	Steps     int
	FinalLoss float64
	AUC       *float64
	AUCAPC    *float64
	RunDir    string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	MSAPath      string
	NumSeqs      int
	Length       int
	Optimizer    string
	MaxSteps     int
	FinalLoss    float64
	AUC          *float64
}

type ExportRequest struct {
	RunID  string
	OutDir string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{store: store, runsDir: runsDir}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Train runs the full driver: data loading, model construction, the fit
// loop, contact extraction, evaluation and persistence.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.MSAPath == "" {
		return TrainSummary{}, errors.New("msa path is required")
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = 1000
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 64
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	cfg := attention.DefaultConfig()
	if req.Heads > 0 {
		cfg.Heads = req.Heads
	}
	if req.HeadDim > 0 {
		cfg.HeadDim = req.HeadDim
	}
	if req.LearningRate > 0 {
		cfg.LearningRate = req.LearningRate
	}
	if req.L2Coeff > 0 {
		cfg.L2Coeff = req.L2Coeff
	}
	cfg.UseBias = !req.NoBias

	kind, err := train.ParseOptimizerKind(req.Optimizer)
	if err != nil {
		return TrainSummary{}, err
	}
	cfg.Optimizer = kind

	dataset, err := msa.Load(req.MSAPath)
	if err != nil {
		return TrainSummary{}, err
	}
	cfg.NumSeqs = dataset.NumSeqs()
	cfg.Length = dataset.Length
	cfg.VocabSize = msa.VocabSize
	cfg.PadIndex = msa.PadIndex

	// True contacts load before training so a bad structure file fails fast.
	var truth *mat.Dense
	if req.StructureFile != "" {
		truth, err = contacts.ReadContacts(req.StructureFile, dataset.Length)
		if err != nil {
			return TrainSummary{}, err
		}
	}

	rng := rand.New(rand.NewSource(req.Seed))
	mdl, err := attention.New(cfg, dataset.Counts(), rng)
	if err != nil {
		return TrainSummary{}, err
	}

	optimizers, err := mdl.ConfigureOptimizers()
	if err != nil {
		return TrainSummary{}, err
	}

	history, err := train.Fit(ctx, mdl, dataset.Batches(req.BatchSize, rng), optimizers[0], train.FitConfig{
		MaxSteps: req.MaxSteps,
		Progress: req.Progress,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	finalLoss := history[len(history)-1]

	contactMap := mdl.Contacts()
	corrected := contacts.APC(contactMap)

	summary := TrainSummary{
		RunID:     req.RunID,
		NumSeqs:   cfg.NumSeqs,
		Length:    cfg.Length,
		Steps:     len(history),
		FinalLoss: finalLoss,
	}

	if truth != nil {
		auc, err := contacts.AUC(contactMap, truth, contacts.MinSeparation)
		if err != nil {
			return TrainSummary{}, err
		}
		aucAPC, err := contacts.AUC(corrected, truth, contacts.MinSeparation)
		if err != nil {
			return TrainSummary{}, err
		}
		summary.AUC = &auc
		summary.AUCAPC = &aucAPC
	}

	if req.OutputFile != "" {
		if err := mdl.SaveState(req.OutputFile); err != nil {
			return TrainSummary{}, err
		}
	}

	runDir, err := c.persistRun(ctx, req, cfg, history, summary, corrected)
	if err != nil {
		return TrainSummary{}, err
	}
	summary.RunDir = runDir

	return summary, nil
}

func (c *Client) persistRun(
	ctx context.Context,
	req TrainRequest,
	cfg attention.Config,
	history []float64,
	summary TrainSummary,
	corrected *mat.Dense,
) (string, error) {
	createdAt := time.Now().UTC().Format(time.RFC3339)

	runConfig := stats.RunConfig{
		RunID:         req.RunID,
		MSAPath:       req.MSAPath,
		NumSeqs:       cfg.NumSeqs,
		Length:        cfg.Length,
		Heads:         cfg.Heads,
		HeadDim:       cfg.HeadDim,
		LearningRate:  cfg.LearningRate,
		L2Coeff:       cfg.L2Coeff,
		UseBias:       cfg.UseBias,
		Optimizer:     cfg.Optimizer.String(),
		MaxSteps:      req.MaxSteps,
		BatchSize:     req.BatchSize,
		Seed:          req.Seed,
		StructureFile: req.StructureFile,
		OutputFile:    req.OutputFile,
		ContactsFile:  req.ContactsFile,
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:      runConfig,
		LossHistory: history,
		FinalLoss:   summary.FinalLoss,
		AUC:         summary.AUC,
		AUCAPC:      summary.AUCAPC,
	})
	if err != nil {
		return "", err
	}
	if err := stats.WriteContactsCSV(runDir, corrected); err != nil {
		return "", err
	}
	if req.ContactsFile != "" {
		if err := stats.WriteContactsCSVFile(req.ContactsFile, corrected); err != nil {
			return "", err
		}
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        req.RunID,
		MSAPath:      req.MSAPath,
		NumSeqs:      cfg.NumSeqs,
		Length:       cfg.Length,
		Optimizer:    cfg.Optimizer.String(),
		MaxSteps:     req.MaxSteps,
		FinalLoss:    summary.FinalLoss,
		AUC:          summary.AUC,
		CreatedAtUTC: createdAt,
	}); err != nil {
		return "", err
	}

	if err := c.store.Init(ctx); err != nil {
		return "", err
	}
	record := model.RunRecord{
		VersionedRecord: versioned(),
		ID:              req.RunID,
		CreatedAtUTC:    createdAt,
		MSAPath:         req.MSAPath,
		NumSeqs:         cfg.NumSeqs,
		Length:          cfg.Length,
		Heads:           cfg.Heads,
		HeadDim:         cfg.HeadDim,
		LearningRate:    cfg.LearningRate,
		L2Coeff:         cfg.L2Coeff,
		UseBias:         cfg.UseBias,
		Optimizer:       cfg.Optimizer.String(),
		MaxSteps:        req.MaxSteps,
		BatchSize:       req.BatchSize,
		Seed:            req.Seed,
		FinalLoss:       summary.FinalLoss,
		AUC:             summary.AUC,
		AUCAPC:          summary.AUCAPC,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return "", err
	}
	if err := c.store.SaveLossHistory(ctx, req.RunID, history); err != nil {
		return "", err
	}
	raw := corrected.RawMatrix()
	if err := c.store.SaveContactMap(ctx, model.ContactMapRecord{
		VersionedRecord: versioned(),
		RunID:           req.RunID,
		Length:          cfg.Length,
		Scores:          append([]float64(nil), raw.Data...),
	}); err != nil {
		return "", err
	}

	return runDir, nil
}

// Runs lists recorded runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// Fall back to the artifact index so runs recorded by other store
		// backends remain visible.
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return nil, err
		}
		items := make([]RunItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, RunItem{
				RunID:        e.RunID,
				CreatedAtUTC: e.CreatedAtUTC,
				MSAPath:      e.MSAPath,
				NumSeqs:      e.NumSeqs,
				Length:       e.Length,
				Optimizer:    e.Optimizer,
				MaxSteps:     e.MaxSteps,
				FinalLoss:    e.FinalLoss,
				AUC:          e.AUC,
			})
		}
		return limitItems(items, req.Limit), nil
	}

	items := make([]RunItem, 0, len(records))
	for _, r := range records {
		items = append(items, RunItem{
			RunID:        r.ID,
			CreatedAtUTC: r.CreatedAtUTC,
			MSAPath:      r.MSAPath,
			NumSeqs:      r.NumSeqs,
			Length:       r.Length,
			Optimizer:    r.Optimizer,
			MaxSteps:     r.MaxSteps,
			FinalLoss:    r.FinalLoss,
			AUC:          r.AUC,
		})
	}
	return limitItems(items, req.Limit), nil
}

// Contacts returns a recorded run's APC-corrected contact matrix.
func (c *Client) Contacts(ctx context.Context, runID string) ([][]float64, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	record, ok, err := c.store.GetContactMap(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return reshape(record.Scores, record.Length)
	}

	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	scores, ok, err := stats.ReadContactsCSV(c.runsDir, runID, cfg.Length)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no recorded contact map", runID)
	}
	raw := scores.RawMatrix()
	return reshape(raw.Data, cfg.Length)
}

// Export copies a run's artifact directory to req.OutDir.
func (c *Client) Export(ctx context.Context, req ExportRequest) (string, error) {
	if req.RunID == "" {
		return "", errors.New("run id is required")
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = "exports"
	}
	return stats.ExportRunArtifacts(c.runsDir, req.RunID, outDir)
}

func limitItems(items []RunItem, limit int) []RunItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func reshape(data []float64, length int) ([][]float64, error) {
	if len(data) != length*length {
		return nil, fmt.Errorf("contact map has %d scores, want %d", len(data), length*length)
	}
	rows := make([][]float64, length)
	for i := 0; i < length; i++ {
		rows[i] = append([]float64(nil), data[i*length:(i+1)*length]...)
	}
	return rows, nil
}

func versioned() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}
