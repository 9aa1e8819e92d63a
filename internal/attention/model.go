// Package attention implements a factored self-attention reparameterization
// of a Potts-model contact predictor. Pairwise couplings between alignment
// positions are factored into per-head low-rank query/key vectors; the
// attention weights depend only on position, never on sequence content, and
// content enters solely through the value embedding path.
package attention

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"gremlin/internal/train"
)

// maskValue is added to diagonal scores so self-positions receive effectively
// zero attention weight after the softmax.
const maskValue = -10000.0

// Config describes the model hyperparameters. The zero value is not valid;
// start from DefaultConfig.
type Config struct {
	NumSeqs   int
	Length    int
	VocabSize int
	PadIndex  int

	Heads   int
	HeadDim int

	LearningRate float64
	L2Coeff      float64
	UseBias      bool
	Optimizer    train.OptimizerKind
}

// DefaultConfig returns the standard hyperparameters. NumSeqs and Length must
// still be filled in from the alignment.
func DefaultConfig() Config {
	return Config{
		VocabSize:    20,
		PadIndex:     20,
		Heads:        32,
		HeadDim:      16,
		LearningRate: 1e-3,
		L2Coeff:      1e-2,
		UseBias:      true,
		Optimizer:    train.OptimizerAdam,
	}
}

// Model holds the trainable state of the factored attention layer.
type Model struct {
	cfg    Config
	hidden int

	query []*mat.Dense // per head, Length x HeadDim
	key   []*mat.Dense // per head, Length x HeadDim
	value *mat.Dense   // (VocabSize+1) x hidden, pad row fixed at zero
	out   *mat.Dense   // hidden x VocabSize
	bias  *mat.Dense   // Length x VocabSize, nil when disabled

	mask *mat.Dense // Length x Length, maskValue on the diagonal

	gradQuery []*mat.Dense
	gradKey   []*mat.Dense
	gradValue *mat.Dense
	gradOut   *mat.Dense
	gradBias  *mat.Dense

	params []*train.Parameter
}

// New constructs a model. counts is the Length x VocabSize per-position count
// table used to initialize the single-site bias; it may be nil when the bias
// is disabled. Configuration problems fail here, before any training step.
func New(cfg Config, counts *mat.Dense, rng *rand.Rand) (*Model, error) {
	if cfg.NumSeqs <= 0 {
		return nil, fmt.Errorf("attention: number of sequences must be positive, got %d", cfg.NumSeqs)
	}
	if cfg.Length <= 0 {
		return nil, fmt.Errorf("attention: alignment length must be positive, got %d", cfg.Length)
	}
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("attention: vocab size must be positive, got %d", cfg.VocabSize)
	}
	if cfg.PadIndex < 0 || cfg.PadIndex > cfg.VocabSize {
		return nil, fmt.Errorf("attention: pad index %d outside [0, %d]", cfg.PadIndex, cfg.VocabSize)
	}
	if cfg.Heads <= 0 || cfg.HeadDim <= 0 {
		return nil, fmt.Errorf("attention: heads and head dim must be positive, got %d x %d", cfg.Heads, cfg.HeadDim)
	}
	if _, err := train.NewOptimizer(cfg.Optimizer, cfg.LearningRate, cfg.L2Coeff); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	m := &Model{cfg: cfg, hidden: cfg.Heads * cfg.HeadDim}

	m.query = make([]*mat.Dense, cfg.Heads)
	m.key = make([]*mat.Dense, cfg.Heads)
	m.gradQuery = make([]*mat.Dense, cfg.Heads)
	m.gradKey = make([]*mat.Dense, cfg.Heads)
	for h := 0; h < cfg.Heads; h++ {
		m.query[h] = randomDense(cfg.Length, cfg.HeadDim, 0.01, rng)
		m.key[h] = randomDense(cfg.Length, cfg.HeadDim, 0.01, rng)
		m.gradQuery[h] = mat.NewDense(cfg.Length, cfg.HeadDim, nil)
		m.gradKey[h] = mat.NewDense(cfg.Length, cfg.HeadDim, nil)
	}

	m.value = randomDense(cfg.VocabSize+1, m.hidden, 1.0, rng)
	zeroRow(m.value, cfg.PadIndex)
	m.gradValue = mat.NewDense(cfg.VocabSize+1, m.hidden, nil)

	scale := 1.0 / math.Sqrt(float64(m.hidden))
	m.out = uniformDense(m.hidden, cfg.VocabSize, scale, rng)
	m.gradOut = mat.NewDense(m.hidden, cfg.VocabSize, nil)

	if cfg.UseBias {
		bias, err := PottsBias(counts, cfg.L2Coeff, cfg.NumSeqs)
		if err != nil {
			return nil, err
		}
		if rows, cols := bias.Dims(); rows != cfg.Length || cols != cfg.VocabSize {
			return nil, fmt.Errorf("attention: bias shape (%d,%d) does not match alignment (%d,%d)",
				rows, cols, cfg.Length, cfg.VocabSize)
		}
		m.bias = bias
		m.gradBias = mat.NewDense(cfg.Length, cfg.VocabSize, nil)
	}

	m.mask = mat.NewDense(cfg.Length, cfg.Length, nil)
	for i := 0; i < cfg.Length; i++ {
		m.mask.Set(i, i, maskValue)
	}

	m.params = m.buildParameters()
	return m, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config { return m.cfg }

// Output is the result of one forward pass.
type Output struct {
	// Logits holds one Length x VocabSize matrix per batch sequence.
	Logits []*mat.Dense
	// Attention holds one Length x Length row-stochastic matrix per head.
	// It is identical for every batch because scores are purely positional.
	Attention []*mat.Dense
}

// Forward runs the model on a batch of token sequences.
func (m *Model) Forward(batch [][]int) (*Output, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("attention: empty batch")
	}
	for n, tokens := range batch {
		if len(tokens) != m.cfg.Length {
			return nil, fmt.Errorf("attention: sequence %d has length %d, want %d", n, len(tokens), m.cfg.Length)
		}
		for i, tok := range tokens {
			if tok < 0 || tok > m.cfg.VocabSize {
				return nil, fmt.Errorf("attention: sequence %d token %d out of range: %d", n, i, tok)
			}
		}
	}

	attn := m.attentionMaps()
	out := &Output{
		Logits:    make([]*mat.Dense, len(batch)),
		Attention: attn,
	}
	for n, tokens := range batch {
		values := m.embed(tokens)
		context := m.mixContext(attn, values)
		logits := mat.NewDense(m.cfg.Length, m.cfg.VocabSize, nil)
		logits.Mul(context, m.out)
		if m.bias != nil {
			logits.Add(logits, m.bias)
		}
		out.Logits[n] = logits
	}
	return out, nil
}

// attentionMaps computes the per-head position-pair attention distributions
// from the current query/key parameters: softmax((Q K^T)/sqrt(D) + mask).
func (m *Model) attentionMaps() []*mat.Dense {
	rescale := 1.0 / math.Sqrt(float64(m.cfg.HeadDim))
	maps := make([]*mat.Dense, m.cfg.Heads)
	for h := 0; h < m.cfg.Heads; h++ {
		scores := mat.NewDense(m.cfg.Length, m.cfg.Length, nil)
		scores.Mul(m.query[h], m.key[h].T())
		scores.Scale(rescale, scores)
		scores.Add(scores, m.mask)
		rowSoftmaxInPlace(scores)
		maps[h] = scores
	}
	return maps
}

// embed gathers value-embedding rows for a token sequence into a
// Length x hidden matrix. The pad row is all zeros.
func (m *Model) embed(tokens []int) *mat.Dense {
	values := mat.NewDense(m.cfg.Length, m.hidden, nil)
	for i, tok := range tokens {
		values.SetRow(i, m.value.RawRowView(tok))
	}
	return values
}

// mixContext applies each head's attention map to its slice of the value
// matrix and concatenates the heads back into a Length x hidden matrix.
func (m *Model) mixContext(attn []*mat.Dense, values *mat.Dense) *mat.Dense {
	context := mat.NewDense(m.cfg.Length, m.hidden, nil)
	for h := 0; h < m.cfg.Heads; h++ {
		lo, hi := h*m.cfg.HeadDim, (h+1)*m.cfg.HeadDim
		src := values.Slice(0, m.cfg.Length, lo, hi).(*mat.Dense)
		dst := context.Slice(0, m.cfg.Length, lo, hi).(*mat.Dense)
		dst.Mul(attn[h], src)
	}
	return context
}

// Contacts returns the symmetrized head-average of the positional attention
// maps as an L x L matrix. Attention is content-independent, so no input
// sequence is needed and no gradient state is touched.
func (m *Model) Contacts() *mat.Dense {
	attn := m.attentionMaps()
	avg := mat.NewDense(m.cfg.Length, m.cfg.Length, nil)
	for _, a := range attn {
		avg.Add(avg, a)
	}
	avg.Scale(1/float64(len(attn)), avg)

	sym := mat.NewDense(m.cfg.Length, m.cfg.Length, nil)
	sym.Add(avg, avg.T())
	sym.Scale(0.5, sym)
	return sym
}

// ConfigureOptimizers builds the optimizers for training, one per model, with
// the configured learning rate and uniform weight decay.
func (m *Model) ConfigureOptimizers() ([]train.Optimizer, error) {
	opt, err := train.NewOptimizer(m.cfg.Optimizer, m.cfg.LearningRate, m.cfg.L2Coeff)
	if err != nil {
		return nil, err
	}
	return []train.Optimizer{opt}, nil
}

// Parameters exposes the trainable tensors to the fit loop.
func (m *Model) Parameters() []*train.Parameter { return m.params }

func (m *Model) buildParameters() []*train.Parameter {
	params := make([]*train.Parameter, 0, 2*m.cfg.Heads+3)
	for h := 0; h < m.cfg.Heads; h++ {
		params = append(params, &train.Parameter{
			Name: fmt.Sprintf("query.%d", h), Value: m.query[h], Grad: m.gradQuery[h],
		})
	}
	for h := 0; h < m.cfg.Heads; h++ {
		params = append(params, &train.Parameter{
			Name: fmt.Sprintf("key.%d", h), Value: m.key[h], Grad: m.gradKey[h],
		})
	}
	params = append(params,
		&train.Parameter{Name: "value", Value: m.value, Grad: m.gradValue},
		&train.Parameter{Name: "output", Value: m.out, Grad: m.gradOut},
	)
	if m.bias != nil {
		params = append(params, &train.Parameter{Name: "bias", Value: m.bias, Grad: m.gradBias})
	}
	return params
}

func randomDense(rows, cols int, scale float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = scale * rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func uniformDense(rows, cols int, bound float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = bound * (2*rng.Float64() - 1)
	}
	return mat.NewDense(rows, cols, data)
}

func zeroRow(m *mat.Dense, row int) {
	_, cols := m.Dims()
	for j := 0; j < cols; j++ {
		m.Set(row, j, 0)
	}
}

// rowSoftmaxInPlace normalizes every row of m into a probability
// distribution, subtracting the row max first for stability.
func rowSoftmaxInPlace(m *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		max := m.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := m.At(i, j); v > max {
				max = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(m.At(i, j) - max)
			m.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)*inv)
		}
	}
}
