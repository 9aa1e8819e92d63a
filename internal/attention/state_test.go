package attention

import (
	"math/rand"
	"path/filepath"
	"testing"
)

func TestStateRoundTrip(t *testing.T) {
	cfg := testConfig(15, 7, 20, 2, 3)
	m, err := New(cfg, uniformCounts(7, 20, 15), rand.New(rand.NewSource(21)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.gob")
	if err := m.SaveState(path); err != nil {
		t.Fatalf("save state: %v", err)
	}

	st, err := LoadState(path)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Length != 7 || st.Heads != 2 || st.HeadDim != 3 || !st.UseBias {
		t.Fatalf("unexpected state header: %+v", st)
	}
	if st.Optimizer != "adam" {
		t.Fatalf("unexpected optimizer: %s", st.Optimizer)
	}
	if len(st.Query) != 2 || len(st.Query[0]) != 7*3 {
		t.Fatalf("unexpected query shape: %d x %d", len(st.Query), len(st.Query[0]))
	}
	if len(st.Value) != (20+1)*6 {
		t.Fatalf("unexpected value length: %d", len(st.Value))
	}
	if len(st.Bias) != 7*20 {
		t.Fatalf("unexpected bias length: %d", len(st.Bias))
	}

	// Spot-check one parameter survives the round trip exactly.
	if got, want := st.Query[1][5], m.query[1].RawMatrix().Data[5]; got != want {
		t.Fatalf("query value changed: %v vs %v", got, want)
	}
}
