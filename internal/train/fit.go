package train

import (
	"context"
	"fmt"
	"math"
)

// Model is the narrow contract the fit loop drives. LossAndGrad evaluates one
// batch, fills every parameter's gradient buffer and returns the batch loss.
type Model interface {
	LossAndGrad(batch [][]int) (float64, error)
	Parameters() []*Parameter
}

// BatchSource yields minibatches of integer-encoded fixed-length sequences.
type BatchSource interface {
	Next() [][]int
}

// FitConfig controls the optimization loop.
type FitConfig struct {
	MaxSteps int
	// Progress, when set, is called after every step with the running loss.
	Progress func(step int, loss float64)
}

// Fit runs gradient descent for MaxSteps steps and returns the per-step loss
// history. A non-finite loss aborts the run; there are no retries.
func Fit(ctx context.Context, m Model, batches BatchSource, opt Optimizer, cfg FitConfig) ([]float64, error) {
	if cfg.MaxSteps <= 0 {
		return nil, fmt.Errorf("train: max steps must be positive, got %d", cfg.MaxSteps)
	}

	history := make([]float64, 0, cfg.MaxSteps)
	for step := 1; step <= cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		loss, err := m.LossAndGrad(batches.Next())
		if err != nil {
			return history, fmt.Errorf("train: step %d: %w", step, err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return history, fmt.Errorf("train: step %d: non-finite loss %v", step, loss)
		}

		if err := opt.Step(m.Parameters()); err != nil {
			return history, fmt.Errorf("train: step %d: %w", step, err)
		}

		history = append(history, loss)
		if cfg.Progress != nil {
			cfg.Progress(step, loss)
		}
	}
	return history, nil
}
