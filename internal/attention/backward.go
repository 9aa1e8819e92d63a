package attention

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss runs a forward pass and computes the summed cross-entropy over all
// non-pad target positions, divided by the batch size. The normalization is
// by sequences, not tokens, so the loss scale is comparable across batch
// sizes regardless of padding.
func (m *Model) Loss(inputs, targets [][]int) (float64, *Output, error) {
	loss, out, err := m.lossGrad(inputs, targets, false)
	return loss, out, err
}

// LossAndGrad evaluates one batch using the sequences as both inputs and
// targets, accumulating gradients for every parameter. This is the training
// objective: each position is predicted from every other position.
func (m *Model) LossAndGrad(batch [][]int) (float64, error) {
	loss, _, err := m.lossGrad(batch, batch, true)
	return loss, err
}

func (m *Model) lossGrad(inputs, targets [][]int, wantGrad bool) (float64, *Output, error) {
	if len(targets) != len(inputs) {
		return 0, nil, fmt.Errorf("attention: %d target sequences for %d inputs", len(targets), len(inputs))
	}
	out, err := m.Forward(inputs)
	if err != nil {
		return 0, nil, err
	}

	L, V := m.cfg.Length, m.cfg.VocabSize
	H, D := m.cfg.Heads, m.cfg.HeadDim
	batchSize := float64(len(inputs))

	if wantGrad {
		m.zeroGrad()
	}

	// dAttn accumulates the attention-map gradient across the batch; the
	// softmax and score backward run once since the maps are shared.
	var dAttn []*mat.Dense
	if wantGrad {
		dAttn = make([]*mat.Dense, H)
		for h := 0; h < H; h++ {
			dAttn[h] = mat.NewDense(L, L, nil)
		}
	}

	totalLoss := 0.0
	probs := make([]float64, V)
	for n := range inputs {
		if len(targets[n]) != L {
			return 0, nil, fmt.Errorf("attention: target sequence %d has length %d, want %d", n, len(targets[n]), L)
		}
		logits := out.Logits[n]

		var dLogits *mat.Dense
		if wantGrad {
			dLogits = mat.NewDense(L, V, nil)
		}

		for i := 0; i < L; i++ {
			tgt := targets[n][i]
			if tgt == m.cfg.PadIndex {
				continue
			}
			if tgt < 0 || tgt >= V {
				return 0, nil, fmt.Errorf("attention: target sequence %d token %d out of range: %d", n, i, tgt)
			}

			max := logits.At(i, 0)
			for j := 1; j < V; j++ {
				if v := logits.At(i, j); v > max {
					max = v
				}
			}
			sum := 0.0
			for j := 0; j < V; j++ {
				probs[j] = math.Exp(logits.At(i, j) - max)
				sum += probs[j]
			}
			totalLoss += math.Log(sum) - (logits.At(i, tgt) - max)

			if wantGrad {
				inv := 1.0 / (sum * batchSize)
				for j := 0; j < V; j++ {
					dLogits.Set(i, j, probs[j]*inv)
				}
				dLogits.Set(i, tgt, dLogits.At(i, tgt)-1.0/batchSize)
			}
		}

		if !wantGrad {
			continue
		}

		// Recompute the per-sequence value gather and context; forward does
		// not retain them.
		values := m.embed(inputs[n])
		context := m.mixContext(out.Attention, values)

		if m.gradBias != nil {
			m.gradBias.Add(m.gradBias, dLogits)
		}

		// output projection: logits = context * out
		var dOut mat.Dense
		dOut.Mul(context.T(), dLogits)
		m.gradOut.Add(m.gradOut, &dOut)

		var dContext mat.Dense
		dContext.Mul(dLogits, m.out.T())

		for h := 0; h < H; h++ {
			lo, hi := h*D, (h+1)*D
			dCtx := dContext.Slice(0, L, lo, hi).(*mat.Dense)
			vals := values.Slice(0, L, lo, hi).(*mat.Dense)

			// context_h = attn_h * values_h
			var dA mat.Dense
			dA.Mul(dCtx, vals.T())
			dAttn[h].Add(dAttn[h], &dA)

			var dVals mat.Dense
			dVals.Mul(out.Attention[h].T(), dCtx)

			// Scatter rows back into the embedding table; the pad row
			// collects no gradient.
			for i, tok := range inputs[n] {
				if tok == m.cfg.PadIndex {
					continue
				}
				for d := 0; d < D; d++ {
					col := lo + d
					m.gradValue.Set(tok, col, m.gradValue.At(tok, col)+dVals.At(i, d))
				}
			}
		}
	}

	if wantGrad {
		rescale := 1.0 / math.Sqrt(float64(D))
		for h := 0; h < H; h++ {
			dScores := softmaxBackward(dAttn[h], out.Attention[h])
			// scores = (query * key^T) / sqrt(D); the additive mask drops out.
			var dQ, dK mat.Dense
			dQ.Mul(dScores, m.key[h])
			dQ.Scale(rescale, &dQ)
			m.gradQuery[h].Add(m.gradQuery[h], &dQ)

			dK.Mul(dScores.T(), m.query[h])
			dK.Scale(rescale, &dK)
			m.gradKey[h].Add(m.gradKey[h], &dK)
		}
	}

	return totalLoss / batchSize, out, nil
}

func (m *Model) zeroGrad() {
	for h := range m.gradQuery {
		m.gradQuery[h].Zero()
		m.gradKey[h].Zero()
	}
	m.gradValue.Zero()
	m.gradOut.Zero()
	if m.gradBias != nil {
		m.gradBias.Zero()
	}
}

// softmaxBackward computes the row-wise softmax vector-Jacobian product:
// dS[i,j] = A[i,j] * (dA[i,j] - sum_k dA[i,k]*A[i,k]).
func softmaxBackward(dA, A *mat.Dense) *mat.Dense {
	rows, cols := A.Dims()
	dS := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		dot := 0.0
		for k := 0; k < cols; k++ {
			dot += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < cols; j++ {
			dS.Set(i, j, A.At(i, j)*(dA.At(i, j)-dot))
		}
	}
	return dS
}
