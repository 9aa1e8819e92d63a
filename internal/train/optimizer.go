package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Parameter couples a trainable matrix with its gradient buffer. The fit loop
// reads gradients after each loss evaluation and the optimizer mutates Value
// in place.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// Optimizer applies one update step to a fixed set of parameters.
type Optimizer interface {
	Name() string
	Step(params []*Parameter) error
}

// OptimizerKind enumerates the supported optimizer families.
type OptimizerKind int

const (
	OptimizerAdam OptimizerKind = iota
	OptimizerLamb
)

// ParseOptimizerKind maps a configuration string to its kind. Unrecognized
// names fail before any training step.
func ParseOptimizerKind(name string) (OptimizerKind, error) {
	switch name {
	case "", "adam":
		return OptimizerAdam, nil
	case "lamb":
		return OptimizerLamb, nil
	default:
		return 0, fmt.Errorf("unrecognized optimizer %q (supported: adam, lamb)", name)
	}
}

func (k OptimizerKind) String() string {
	switch k {
	case OptimizerAdam:
		return "adam"
	case OptimizerLamb:
		return "lamb"
	default:
		return fmt.Sprintf("optimizer(%d)", int(k))
	}
}

// NewOptimizer constructs the optimizer for a kind with a uniform decoupled
// weight decay coefficient applied to every parameter.
func NewOptimizer(kind OptimizerKind, learningRate, weightDecay float64) (Optimizer, error) {
	switch kind {
	case OptimizerAdam:
		return NewAdamW(learningRate, weightDecay), nil
	case OptimizerLamb:
		return NewLamb(learningRate, weightDecay), nil
	default:
		return nil, fmt.Errorf("unrecognized optimizer %s", kind)
	}
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

type moments struct {
	m, v *mat.Dense
}

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	lr          float64
	weightDecay float64
	t           int
	state       []moments
}

func NewAdamW(learningRate, weightDecay float64) *AdamW {
	return &AdamW{lr: learningRate, weightDecay: weightDecay}
}

func (o *AdamW) Name() string { return "adam" }

func (o *AdamW) Step(params []*Parameter) error {
	if err := ensureState(&o.state, params); err != nil {
		return err
	}
	o.t++
	c1 := 1.0 / (1.0 - math.Pow(adamBeta1, float64(o.t)))
	c2 := 1.0 / (1.0 - math.Pow(adamBeta2, float64(o.t)))

	for idx, p := range params {
		st := o.state[idx]
		rows, cols := p.Value.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.Grad.At(i, j)
				m := adamBeta1*st.m.At(i, j) + (1-adamBeta1)*g
				v := adamBeta2*st.v.At(i, j) + (1-adamBeta2)*g*g
				st.m.Set(i, j, m)
				st.v.Set(i, j, v)
				update := (m*c1)/(math.Sqrt(v*c2)+adamEps) + o.weightDecay*p.Value.At(i, j)
				p.Value.Set(i, j, p.Value.At(i, j)-o.lr*update)
			}
		}
	}
	return nil
}

// Lamb applies the Adam update direction scaled per parameter tensor by the
// trust ratio ||w|| / ||update||, which keeps large-batch steps proportionate
// to the layer's weight norm.
type Lamb struct {
	lr          float64
	weightDecay float64
	t           int
	state       []moments
}

func NewLamb(learningRate, weightDecay float64) *Lamb {
	return &Lamb{lr: learningRate, weightDecay: weightDecay}
}

func (o *Lamb) Name() string { return "lamb" }

func (o *Lamb) Step(params []*Parameter) error {
	if err := ensureState(&o.state, params); err != nil {
		return err
	}
	o.t++
	c1 := 1.0 / (1.0 - math.Pow(adamBeta1, float64(o.t)))
	c2 := 1.0 / (1.0 - math.Pow(adamBeta2, float64(o.t)))

	for idx, p := range params {
		st := o.state[idx]
		rows, cols := p.Value.Dims()
		update := mat.NewDense(rows, cols, nil)
		var weightNorm, updateNorm float64
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.Grad.At(i, j)
				m := adamBeta1*st.m.At(i, j) + (1-adamBeta1)*g
				v := adamBeta2*st.v.At(i, j) + (1-adamBeta2)*g*g
				st.m.Set(i, j, m)
				st.v.Set(i, j, v)
				w := p.Value.At(i, j)
				u := (m*c1)/(math.Sqrt(v*c2)+adamEps) + o.weightDecay*w
				update.Set(i, j, u)
				weightNorm += w * w
				updateNorm += u * u
			}
		}
		trust := 1.0
		if weightNorm > 0 && updateNorm > 0 {
			trust = math.Sqrt(weightNorm) / math.Sqrt(updateNorm)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.Value.Set(i, j, p.Value.At(i, j)-o.lr*trust*update.At(i, j))
			}
		}
	}
	return nil
}

func ensureState(state *[]moments, params []*Parameter) error {
	if *state == nil {
		*state = make([]moments, len(params))
		for i, p := range params {
			rows, cols := p.Value.Dims()
			(*state)[i] = moments{m: mat.NewDense(rows, cols, nil), v: mat.NewDense(rows, cols, nil)}
		}
		return nil
	}
	if len(*state) != len(params) {
		return fmt.Errorf("optimizer state tracks %d parameters, got %d", len(*state), len(params))
	}
	for _, p := range params {
		pr, pc := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if pr != gr || pc != gc {
			return fmt.Errorf("parameter %s: grad shape (%d,%d) does not match value (%d,%d)", p.Name, gr, gc, pr, pc)
		}
	}
	return nil
}
