package attention

import (
	"encoding/gob"
	"fmt"
	"os"
)

// State is a plain serializable snapshot of the model parameters. Matrices
// are stored row-major.
type State struct {
	NumSeqs   int
	Length    int
	VocabSize int
	PadIndex  int
	Heads     int
	HeadDim   int
	UseBias   bool
	Optimizer string

	Query  [][]float64 // per head, Length x HeadDim
	Key    [][]float64 // per head, Length x HeadDim
	Value  []float64   // (VocabSize+1) x Heads*HeadDim
	Output []float64   // Heads*HeadDim x VocabSize
	Bias   []float64   // Length x VocabSize, nil when disabled
}

// State snapshots the current parameter values.
func (m *Model) State() State {
	st := State{
		NumSeqs:   m.cfg.NumSeqs,
		Length:    m.cfg.Length,
		VocabSize: m.cfg.VocabSize,
		PadIndex:  m.cfg.PadIndex,
		Heads:     m.cfg.Heads,
		HeadDim:   m.cfg.HeadDim,
		UseBias:   m.cfg.UseBias,
		Optimizer: m.cfg.Optimizer.String(),
		Query:     make([][]float64, m.cfg.Heads),
		Key:       make([][]float64, m.cfg.Heads),
	}
	for h := 0; h < m.cfg.Heads; h++ {
		st.Query[h] = append([]float64(nil), m.query[h].RawMatrix().Data...)
		st.Key[h] = append([]float64(nil), m.key[h].RawMatrix().Data...)
	}
	st.Value = append([]float64(nil), m.value.RawMatrix().Data...)
	st.Output = append([]float64(nil), m.out.RawMatrix().Data...)
	if m.bias != nil {
		st.Bias = append([]float64(nil), m.bias.RawMatrix().Data...)
	}
	return st
}

// SaveState writes the parameter snapshot to path in gob format.
func (m *Model) SaveState(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(m.State()); err != nil {
		return fmt.Errorf("encode model state: %w", err)
	}
	return file.Sync()
}

// LoadState reads a parameter snapshot previously written by SaveState.
func LoadState(path string) (State, error) {
	file, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer file.Close()

	var st State
	if err := gob.NewDecoder(file).Decode(&st); err != nil {
		return State{}, fmt.Errorf("decode model state: %w", err)
	}
	return st, nil
}
