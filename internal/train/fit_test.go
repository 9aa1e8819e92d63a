package train

import (
	"context"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

type fakeModel struct {
	losses []float64
	calls  int
	param  *Parameter
}

func newFakeModel(losses ...float64) *fakeModel {
	return &fakeModel{
		losses: losses,
		param: &Parameter{
			Name:  "w",
			Value: mat.NewDense(1, 1, []float64{1}),
			Grad:  mat.NewDense(1, 1, []float64{0.1}),
		},
	}
}

func (m *fakeModel) LossAndGrad(batch [][]int) (float64, error) {
	loss := m.losses[m.calls%len(m.losses)]
	m.calls++
	return loss, nil
}

func (m *fakeModel) Parameters() []*Parameter { return []*Parameter{m.param} }

type fakeBatches struct{}

func (fakeBatches) Next() [][]int { return [][]int{{0, 1}} }

func TestFitReturnsLossHistory(t *testing.T) {
	m := newFakeModel(3, 2, 1)
	var steps []int
	history, err := Fit(context.Background(), m, fakeBatches{}, NewAdamW(0.01, 0), FitConfig{
		MaxSteps: 3,
		Progress: func(step int, loss float64) { steps = append(steps, step) },
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(history) != 3 || history[0] != 3 || history[2] != 1 {
		t.Fatalf("unexpected history: %v", history)
	}
	if len(steps) != 3 || steps[0] != 1 || steps[2] != 3 {
		t.Fatalf("unexpected progress steps: %v", steps)
	}
}

func TestFitAbortsOnNonFiniteLoss(t *testing.T) {
	m := newFakeModel(2, math.NaN())
	history, err := Fit(context.Background(), m, fakeBatches{}, NewAdamW(0.01, 0), FitConfig{MaxSteps: 10})
	if err == nil {
		t.Fatal("expected error for NaN loss")
	}
	if !strings.Contains(err.Error(), "non-finite") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history should stop before the bad step, got %v", history)
	}
}

func TestFitHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newFakeModel(1)
	if _, err := Fit(ctx, m, fakeBatches{}, NewAdamW(0.01, 0), FitConfig{MaxSteps: 10}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFitRejectsNonPositiveSteps(t *testing.T) {
	m := newFakeModel(1)
	if _, err := Fit(context.Background(), m, fakeBatches{}, NewAdamW(0.01, 0), FitConfig{MaxSteps: 0}); err == nil {
		t.Fatal("expected error for zero max steps")
	}
}
