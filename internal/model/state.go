package model

import (
	"fmt"
)

// OptimizerState holds the AdamW moments and step count.
type OptimizerState struct {
	Steps int
	M, V  [][]float64
}

// State is the durable form of a network and its optimizer.
type State struct {
	Version   string
	Arch      Arch
	InputDim  int
	Hidden    int
	Weights   [][]float64
	Optimizer OptimizerState
}

// Snapshot copies the current parameters and optimizer moments.
func (m *MLP) Snapshot() *State {
	ps := m.params()
	st := &State{
		Version:  m.cfg.Version,
		Arch:     m.cfg.Arch,
		InputDim: m.cfg.InputDim,
		Hidden:   m.cfg.Hidden,
		Weights:  make([][]float64, len(ps)),
		Optimizer: OptimizerState{
			Steps: m.opt.steps,
			M:     make([][]float64, len(ps)),
			V:     make([][]float64, len(ps)),
		},
	}
	for i, p := range ps {
		st.Weights[i] = append([]float64(nil), p.data...)
		st.Optimizer.M[i] = append([]float64(nil), m.opt.m[i]...)
		st.Optimizer.V[i] = append([]float64(nil), m.opt.v[i]...)
	}
	return st
}

// Validate checks that st can be restored into m without touching m.
func (m *MLP) Validate(st *State) error {
	if st == nil {
		return fmt.Errorf("%w: nil state", ErrShapeMismatch)
	}
	if st.Arch != m.cfg.Arch || st.InputDim != m.cfg.InputDim || st.Hidden != m.cfg.Hidden {
		return fmt.Errorf("%w: state is %s in=%d hidden=%d, network is %s in=%d hidden=%d",
			ErrShapeMismatch, st.Arch, st.InputDim, st.Hidden, m.cfg.Arch, m.cfg.InputDim, m.cfg.Hidden)
	}
	ps := m.params()
	if len(st.Weights) != len(ps) || len(st.Optimizer.M) != len(ps) || len(st.Optimizer.V) != len(ps) {
		return fmt.Errorf("%w: expected %d tensors", ErrShapeMismatch, len(ps))
	}
	for i, p := range ps {
		n := len(p.data)
		if len(st.Weights[i]) != n || len(st.Optimizer.M[i]) != n || len(st.Optimizer.V[i]) != n {
			return fmt.Errorf("%w: tensor %d expects %d values", ErrShapeMismatch, i, n)
		}
	}
	if st.Optimizer.Steps < 0 {
		return fmt.Errorf("%w: negative optimizer step count", ErrShapeMismatch)
	}
	return nil
}

// Restore loads st into m. On error m is left unchanged.
func (m *MLP) Restore(st *State) error {
	if err := m.Validate(st); err != nil {
		return err
	}
	for i, p := range m.params() {
		copy(p.data, st.Weights[i])
		copy(m.opt.m[i], st.Optimizer.M[i])
		copy(m.opt.v[i], st.Optimizer.V[i])
	}
	m.opt.steps = st.Optimizer.Steps
	return nil
}
