// Package stats writes per-run artifact files: configuration, loss history,
// contact score tables and the run index.
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

	"gonum.org/v1/gonum/mat"
)

const runIndexFile = "run_index.json"

// RunConfig records the full configuration of a training run.
type RunConfig struct {
	RunID   string `json:"run_id"`
	MSAPath string `json:"msa_path"`

	NumSeqs int `json:"num_seqs"`
	Length  int `json:"length"`

	Heads        int     `json:"heads"`
	HeadDim      int     `json:"head_dim"`
	LearningRate float64 `json:"learning_rate"`
	L2Coeff      float64 `json:"l2_coeff"`
	UseBias      bool    `json:"use_bias"`
	Optimizer    string  `json:"optimizer"`

	MaxSteps  int   `json:"max_steps"`
	BatchSize int   `json:"batch_size"`
	Seed      int64 `json:"seed"`

	StructureFile string `json:"structure_file,omitempty"`
	OutputFile    string `json:"output_file,omitempty"`
	ContactsFile  string `json:"contacts_file,omitempty"`
}

// RunArtifacts bundles everything written for a single run.
type RunArtifacts struct {
	Config      RunConfig `json:"config"`
	LossHistory []float64 `json:"loss_history"`
	FinalLoss   float64   `json:"final_loss"`
	AUC         *float64  `json:"auc,omitempty"`
	AUCAPC      *float64  `json:"auc_apc,omitempty"`
}

// RunIndexEntry is one line of the run index.
type RunIndexEntry struct {
	RunID        string   `json:"run_id"`
	MSAPath      string   `json:"msa_path"`
	NumSeqs      int      `json:"num_seqs"`
	Length       int      `json:"length"`
	Optimizer    string   `json:"optimizer"`
	MaxSteps     int      `json:"max_steps"`
	FinalLoss    float64  `json:"final_loss"`
	AUC          *float64 `json:"auc,omitempty"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

// WriteRunArtifacts writes the run directory under baseDir and returns its
// path.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	summary := map[string]any{
		"loss_history": artifacts.LossHistory,
		"final_loss":   artifacts.FinalLoss,
	}
	if artifacts.AUC != nil {
		summary["auc"] = *artifacts.AUC
	}
	if artifacts.AUCAPC != nil {
		summary["auc_apc"] = *artifacts.AUCAPC
	}
	if err := writeJSON(filepath.Join(runDir, "loss_history.json"), summary); err != nil {
		return "", err
	}

	return runDir, nil
}

// WriteContactsCSV writes the strict upper triangle of a contact score
// matrix as "i,j,score" rows with 1-based positions.
func WriteContactsCSV(runDir string, scores *mat.Dense) error {
	return WriteContactsCSVFile(filepath.Join(runDir, "contacts.csv"), scores)
}

// WriteContactsCSVFile writes the upper-triangle contact CSV to an explicit
// path.
func WriteContactsCSVFile(path string, scores *mat.Dense) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"i", "j", "score"}); err != nil {
		return err
	}
	rows, cols := scores.Dims()
	for i := 0; i < rows; i++ {
		for j := i + 1; j < cols; j++ {
			if err := writer.Write([]string{
				strconv.Itoa(i + 1),
				strconv.Itoa(j + 1),
				strconv.FormatFloat(scores.At(i, j), 'g', -1, 64),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadContactsCSV reads a contacts.csv back into a symmetric matrix.
func ReadContactsCSV(baseDir, runID string, length int) (*mat.Dense, bool, error) {
	path := filepath.Join(baseDir, runID, "contacts.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, false, fmt.Errorf("contacts csv %s is empty", path)
		}
		return nil, false, err
	}

	scores := mat.NewDense(length, length, nil)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("contacts csv row must have 3 columns")
		}
		i, err1 := strconv.Atoi(record[0])
		j, err2 := strconv.Atoi(record[1])
		v, err3 := strconv.ParseFloat(record[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, false, fmt.Errorf("contacts csv: bad row %v", record)
		}
		if i < 1 || i > length || j < 1 || j > length {
			return nil, false, fmt.Errorf("contacts csv: pair (%d,%d) outside length %d", i, j, length)
		}
		scores.Set(i-1, j-1, v)
		scores.Set(j-1, i-1, v)
	}
	return scores, true, nil
}

// AppendRunIndex inserts or replaces the run's entry in the index.
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

// ListRunIndex returns index entries, newest first.
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
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

// ReadRunConfig loads a run's config.json.
func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

// ExportRunArtifacts copies a run directory into outDir.
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

	for _, file := range []string{"config.json", "loss_history.json"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	contactsPath := filepath.Join(src, "contacts.csv")
	if _, err := os.Stat(contactsPath); err == nil {
		if err := copyFile(contactsPath, filepath.Join(dst, "contacts.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
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
