package attention

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"gremlin/internal/train"
)

func testConfig(numSeqs, length, vocab, heads, headDim int) Config {
	cfg := DefaultConfig()
	cfg.NumSeqs = numSeqs
	cfg.Length = length
	cfg.VocabSize = vocab
	cfg.PadIndex = vocab
	cfg.Heads = heads
	cfg.HeadDim = headDim
	return cfg
}

func uniformCounts(length, vocab, numSeqs int) *mat.Dense {
	counts := mat.NewDense(length, vocab, nil)
	per := float64(numSeqs) / float64(vocab)
	for i := 0; i < length; i++ {
		for j := 0; j < vocab; j++ {
			counts.Set(i, j, per)
		}
	}
	return counts
}

func randomBatch(rng *rand.Rand, batch, length, vocab int) [][]int {
	out := make([][]int, batch)
	for n := range out {
		tokens := make([]int, length)
		for i := range tokens {
			tokens[i] = rng.Intn(vocab)
		}
		out[n] = tokens
	}
	return out
}

func TestForwardShapes(t *testing.T) {
	cfg := testConfig(100, 50, 20, 4, 4)
	m, err := New(cfg, uniformCounts(50, 20, 100), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	rng := rand.New(rand.NewSource(2))
	batch := randomBatch(rng, 10, 50, 20)
	loss, out, err := m.Loss(batch, batch)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}

	if len(out.Logits) != 10 {
		t.Fatalf("expected 10 logit matrices, got %d", len(out.Logits))
	}
	for _, logits := range out.Logits {
		if r, c := logits.Dims(); r != 50 || c != 20 {
			t.Fatalf("logits shape (%d,%d), want (50,20)", r, c)
		}
	}
	if len(out.Attention) != 4 {
		t.Fatalf("expected 4 attention maps, got %d", len(out.Attention))
	}
	for _, a := range out.Attention {
		if r, c := a.Dims(); r != 50 || c != 50 {
			t.Fatalf("attention shape (%d,%d), want (50,50)", r, c)
		}
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) || loss < 0 {
		t.Fatalf("loss should be finite and non-negative, got %v", loss)
	}
}

func TestAttentionIndependentOfContent(t *testing.T) {
	cfg := testConfig(40, 12, 20, 3, 5)
	m, err := New(cfg, uniformCounts(12, 20, 40), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	rng := rand.New(rand.NewSource(4))
	outA, err := m.Forward(randomBatch(rng, 4, 12, 20))
	if err != nil {
		t.Fatalf("forward a: %v", err)
	}
	outB, err := m.Forward(randomBatch(rng, 4, 12, 20))
	if err != nil {
		t.Fatalf("forward b: %v", err)
	}

	for h := range outA.Attention {
		for i := 0; i < 12; i++ {
			for j := 0; j < 12; j++ {
				if outA.Attention[h].At(i, j) != outB.Attention[h].At(i, j) {
					t.Fatalf("attention differs at head %d (%d,%d)", h, i, j)
				}
			}
		}
	}

	same := true
	for n := range outA.Logits {
		for i := 0; i < 12 && same; i++ {
			for j := 0; j < 20 && same; j++ {
				if outA.Logits[n].At(i, j) != outB.Logits[n].At(i, j) {
					same = false
				}
			}
		}
	}
	if same {
		t.Fatal("logits should depend on sequence content")
	}
}

func TestAttentionRowsAreDistributions(t *testing.T) {
	cfg := testConfig(30, 9, 20, 2, 4)
	m, err := New(cfg, uniformCounts(9, 20, 30), rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for h, a := range m.attentionMaps() {
		for i := 0; i < 9; i++ {
			sum := 0.0
			for j := 0; j < 9; j++ {
				sum += a.At(i, j)
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Fatalf("head %d row %d sums to %v", h, i, sum)
			}
			if diag := a.At(i, i); diag > 1e-6 {
				t.Fatalf("head %d diagonal (%d,%d) not masked: %v", h, i, i, diag)
			}
		}
	}
}

func TestContactsSymmetricAndFinite(t *testing.T) {
	cfg := testConfig(100, 50, 20, 4, 4)
	m, err := New(cfg, uniformCounts(50, 20, 100), rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c := m.Contacts()
	if r, cols := c.Dims(); r != 50 || cols != 50 {
		t.Fatalf("contacts shape (%d,%d), want (50,50)", r, cols)
	}
	for i := 0; i < 50; i++ {
		for j := 0; j < 50; j++ {
			v := c.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite contact score at (%d,%d): %v", i, j, v)
			}
			if v != c.At(j, i) {
				t.Fatalf("contacts not symmetric at (%d,%d)", i, j)
			}
		}
	}

	// An all-pad sequence is a legal forward input.
	pads := make([]int, 50)
	for i := range pads {
		pads[i] = cfg.PadIndex
	}
	if _, err := m.Forward([][]int{pads}); err != nil {
		t.Fatalf("all-pad forward: %v", err)
	}
}

func TestLossInvariantToDuplicatedBatch(t *testing.T) {
	cfg := testConfig(20, 8, 20, 2, 3)
	m, err := New(cfg, uniformCounts(8, 20, 20), rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	rng := rand.New(rand.NewSource(8))
	batch := randomBatch(rng, 5, 8, 20)
	doubled := append(append([][]int{}, batch...), batch...)

	lossA, _, err := m.Loss(batch, batch)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	lossB, _, err := m.Loss(doubled, doubled)
	if err != nil {
		t.Fatalf("doubled loss: %v", err)
	}
	if math.Abs(lossA-lossB) > 1e-9 {
		t.Fatalf("loss changed under batch duplication: %v vs %v", lossA, lossB)
	}
}

func TestBiasOnlyLogitsMatchLogFrequencies(t *testing.T) {
	const (
		length  = 6
		vocab   = 4
		numSeqs = 50
	)
	cfg := testConfig(numSeqs, length, vocab, 2, 3)

	rng := rand.New(rand.NewSource(9))
	counts := mat.NewDense(length, vocab, nil)
	for i := 0; i < length; i++ {
		remaining := numSeqs
		for j := 0; j < vocab-1; j++ {
			c := rng.Intn(remaining + 1)
			counts.Set(i, j, float64(c))
			remaining -= c
		}
		counts.Set(i, vocab-1, float64(remaining))
	}

	m, err := New(cfg, counts, rng)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Zero the pairwise and value paths so only the bias remains.
	for _, p := range m.Parameters() {
		if p.Name != "bias" {
			p.Value.Zero()
		}
	}

	tokens := make([]int, length)
	out, err := m.Forward([][]int{tokens})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	pseudo := cfg.L2Coeff
	for i := 0; i < length; i++ {
		// softmax of the logit row must reproduce the smoothed frequencies.
		sumExp := 0.0
		exps := make([]float64, vocab)
		for j := 0; j < vocab; j++ {
			exps[j] = math.Exp(out.Logits[0].At(i, j))
			sumExp += exps[j]
		}
		smoothedTotal := float64(numSeqs) + pseudo*float64(vocab)
		for j := 0; j < vocab; j++ {
			want := (counts.At(i, j) + pseudo) / smoothedTotal
			got := exps[j] / sumExp
			if math.Abs(got-want) > 1e-9 {
				t.Fatalf("position %d symbol %d: softmax(bias)=%v, want %v", i, j, got, want)
			}
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	counts := uniformCounts(10, 20, 5)

	cfg := testConfig(5, 10, 20, 2, 2)
	cfg.Optimizer = train.OptimizerKind(99)
	if _, err := New(cfg, counts, nil); err == nil {
		t.Fatal("expected error for unknown optimizer kind")
	}

	cfg = testConfig(5, 10, 20, 0, 2)
	if _, err := New(cfg, counts, nil); err == nil {
		t.Fatal("expected error for zero heads")
	}

	cfg = testConfig(5, 12, 20, 2, 2)
	if _, err := New(cfg, counts, nil); err == nil {
		t.Fatal("expected error for count table shape mismatch")
	}

	cfg = testConfig(5, 10, 20, 2, 2)
	cfg.UseBias = false
	if _, err := New(cfg, nil, nil); err != nil {
		t.Fatalf("bias-free model should not need counts: %v", err)
	}
}

func TestForwardRejectsBadSequences(t *testing.T) {
	cfg := testConfig(5, 10, 20, 2, 2)
	m, err := New(cfg, uniformCounts(10, 20, 5), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := m.Forward([][]int{make([]int, 7)}); err == nil {
		t.Fatal("expected error for wrong sequence length")
	}
	bad := make([]int, 10)
	bad[3] = 21
	if _, err := m.Forward([][]int{bad}); err == nil {
		t.Fatal("expected error for token out of vocabulary range")
	}
}

func TestConfigureOptimizers(t *testing.T) {
	cfg := testConfig(5, 10, 20, 2, 2)
	cfg.Optimizer = train.OptimizerLamb
	m, err := New(cfg, uniformCounts(10, 20, 5), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	opts, err := m.ConfigureOptimizers()
	if err != nil {
		t.Fatalf("configure optimizers: %v", err)
	}
	if len(opts) != 1 || opts[0].Name() != "lamb" {
		t.Fatalf("unexpected optimizers: %+v", opts)
	}
}
