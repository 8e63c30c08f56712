package model

import (
	"errors"
	"math"
	"testing"
)

func smallConfig() Config {
	return Config{
		Arch:        ArchMLP,
		Version:     "mlp_v1",
		InputDim:    6,
		Hidden:      4,
		LR:          1e-2,
		WeightDecay: 1e-6,
		Seed:        42,
	}
}

func sample() []float64 {
	return []float64{0.5, -1.2, 0.3, 2.0, -0.7, 1.0}
}

func TestParseArch(t *testing.T) {
	tests := []struct {
		version string
		want    Arch
		wantErr bool
	}{
		{version: "mlp_v1", want: ArchMLP},
		{version: "mlp_v2", want: ArchMLP},
		{version: "mlp", want: ArchMLP},
		{version: "lstm_v1", wantErr: true},
		{version: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseArch(tt.version)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownArch) {
				t.Errorf("%q: expected ErrUnknownArch, got %v", tt.version, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: expected %s, got %s (%v)", tt.version, tt.want, got, err)
		}
	}
}

func TestSeededInitIsDeterministic(t *testing.T) {
	a, _ := New(smallConfig())
	b, _ := New(smallConfig())

	za, err := a.Logit(sample())
	if err != nil {
		t.Fatalf("Logit failed: %v", err)
	}
	zb, _ := b.Logit(sample())
	if za != zb {
		t.Errorf("expected identical logits for identical seeds, got %v and %v", za, zb)
	}

	cfg := smallConfig()
	cfg.Seed = 7
	c, _ := New(cfg)
	if zc, _ := c.Logit(sample()); zc == za {
		t.Errorf("expected a different seed to change the initialisation")
	}
}

func TestLogitRejectsWrongWidth(t *testing.T) {
	m, _ := New(smallConfig())
	if _, err := m.Logit([]float64{1, 2}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := m.TrainStep([]float64{1, 2}, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch from TrainStep, got %v", err)
	}
}

func TestInferenceDoesNotMutate(t *testing.T) {
	m, _ := New(smallConfig())
	before := m.Snapshot()
	for i := 0; i < 3; i++ {
		if _, err := m.Probability(sample()); err != nil {
			t.Fatalf("Probability failed: %v", err)
		}
	}
	after := m.Snapshot()
	if after.Optimizer.Steps != 0 {
		t.Errorf("expected no optimizer steps, got %d", after.Optimizer.Steps)
	}
	for i := range before.Weights {
		for j := range before.Weights[i] {
			if before.Weights[i][j] != after.Weights[i][j] {
				t.Fatalf("expected weights unchanged by inference")
			}
		}
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	m, _ := New(smallConfig())
	x := sample()

	first, err := m.TrainStep(x, 1)
	if err != nil {
		t.Fatalf("TrainStep failed: %v", err)
	}
	var last float64
	for i := 0; i < 50; i++ {
		last, _ = m.TrainStep(x, 1)
	}
	if last >= first {
		t.Errorf("expected loss to decrease, first %v last %v", first, last)
	}
	p, _ := m.Probability(x)
	if p <= 0.5 {
		t.Errorf("expected probability above 0.5 after fitting a positive label, got %v", p)
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	m, _ := New(smallConfig())
	x := sample()
	const label = 1.0

	if _, err := m.backward(x, label); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	lossAt := func() float64 {
		z, _ := m.Logit(x)
		return bceWithLogits(z, label)
	}

	const h = 1e-6
	for pi, p := range m.params() {
		for _, j := range []int{0, len(p.data) - 1} {
			analytic := p.grad[j]
			orig := p.data[j]

			p.data[j] = orig + h
			up := lossAt()
			p.data[j] = orig - h
			down := lossAt()
			p.data[j] = orig

			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-analytic) > 1e-5*math.Max(1, math.Abs(numeric)) {
				t.Errorf("param %d[%d]: analytic %v numeric %v", pi, j, analytic, numeric)
			}
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	trained, _ := New(smallConfig())
	for i := 0; i < 5; i++ {
		_, _ = trained.TrainStep(sample(), 0)
	}
	st := trained.Snapshot()

	cfg := smallConfig()
	cfg.Seed = 99
	fresh, _ := New(cfg)
	if err := fresh.Restore(st); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	want, _ := trained.Logit(sample())
	got, _ := fresh.Logit(sample())
	if want != got {
		t.Errorf("expected restored logit %v, got %v", want, got)
	}
	if fresh.Snapshot().Optimizer.Steps != 5 {
		t.Errorf("expected optimizer steps carried over")
	}

	// both continue identically from the same optimizer state
	a, _ := trained.TrainStep(sample(), 1)
	b, _ := fresh.TrainStep(sample(), 1)
	if a != b {
		t.Errorf("expected identical losses after restore, got %v and %v", a, b)
	}
}

func TestRestoreRejectsMismatchedState(t *testing.T) {
	m, _ := New(smallConfig())
	good := m.Snapshot()

	cfg := smallConfig()
	cfg.InputDim = 7
	other, _ := New(cfg)

	truncated := m.Snapshot()
	truncated.Weights[3] = truncated.Weights[3][:1]

	noOptimizer := m.Snapshot()
	noOptimizer.Optimizer.M = nil

	tests := []struct {
		name  string
		state *State
	}{
		{name: "nil", state: nil},
		{name: "other input width", state: other.Snapshot()},
		{name: "truncated tensor", state: truncated},
		{name: "missing optimizer", state: noOptimizer},
	}

	for _, tt := range tests {
		if err := m.Restore(tt.state); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%s: expected ErrShapeMismatch, got %v", tt.name, err)
		}
	}

	if err := m.Restore(good); err != nil {
		t.Errorf("expected own snapshot to restore, got %v", err)
	}
}
