package msa

import (
	"math/rand"
	"testing"
)

func TestFromSequences(t *testing.T) {
	d, err := FromSequences([]string{"ACDE", "A-DE", "GHIK"})
	if err != nil {
		t.Fatalf("from sequences: %v", err)
	}
	if d.NumSeqs() != 3 || d.Length != 4 {
		t.Fatalf("unexpected shape: %d x %d", d.NumSeqs(), d.Length)
	}
	if d.Sequences[1][1] != PadIndex {
		t.Fatalf("gap should tokenize to pad index, got %d", d.Sequences[1][1])
	}
	if d.Sequences[0][0] != 0 {
		t.Fatalf("expected 'A' token 0, got %d", d.Sequences[0][0])
	}

	if _, err := FromSequences(nil); err == nil {
		t.Fatal("expected error for empty alignment")
	}
	if _, err := FromSequences([]string{""}); err == nil {
		t.Fatal("expected error for zero-length alignment")
	}
	if _, err := FromSequences([]string{"ACDE", "AC"}); err == nil {
		t.Fatal("expected error for ragged alignment")
	}
}

func TestCountsExcludeGaps(t *testing.T) {
	d, err := FromSequences([]string{"AC", "A-", "AC"})
	if err != nil {
		t.Fatalf("from sequences: %v", err)
	}
	counts := d.Counts()
	if r, c := counts.Dims(); r != 2 || c != VocabSize {
		t.Fatalf("counts shape (%d,%d)", r, c)
	}
	if got := counts.At(0, 0); got != 3 {
		t.Fatalf("counts['A' at 0] = %v, want 3", got)
	}
	if got := counts.At(1, 1); got != 2 {
		t.Fatalf("counts['C' at 1] = %v, want 2", got)
	}
	// Column totals at the gapped position must exclude the gap row.
	total := 0.0
	for j := 0; j < VocabSize; j++ {
		total += counts.At(1, j)
	}
	if total != 2 {
		t.Fatalf("column total = %v, want 2", total)
	}
}

func TestBatcherCoversDataset(t *testing.T) {
	sequences := []string{"ACDE", "GHIK", "LMNP", "QRST", "VWYA"}
	d, err := FromSequences(sequences)
	if err != nil {
		t.Fatalf("from sequences: %v", err)
	}

	b := d.Batches(2, rand.New(rand.NewSource(3)))
	seen := map[int]int{}
	for step := 0; step < 10; step++ {
		batch := b.Next()
		if len(batch) != 2 {
			t.Fatalf("batch size %d, want 2", len(batch))
		}
		for _, tokens := range batch {
			if len(tokens) != 4 {
				t.Fatalf("sequence length %d, want 4", len(tokens))
			}
			seen[tokens[0]]++
		}
	}
	if len(seen) < 4 {
		t.Fatalf("batcher should eventually touch most sequences, saw %d distinct leads", len(seen))
	}
}

func TestBatcherClampsOversizedBatch(t *testing.T) {
	d, err := FromSequences([]string{"AC", "DE"})
	if err != nil {
		t.Fatalf("from sequences: %v", err)
	}
	b := d.Batches(100, rand.New(rand.NewSource(4)))
	if got := len(b.Next()); got != 2 {
		t.Fatalf("clamped batch size %d, want 2", got)
	}
}
