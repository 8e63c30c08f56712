package model

import (
	"math"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// adamW is Adam with decoupled weight decay and bias correction.
type adamW struct {
	lr, weightDecay float64
	params          []param
	steps           int
	m, v            [][]float64
}

func newAdamW(lr, weightDecay float64, params []param) *adamW {
	o := &adamW{
		lr:          lr,
		weightDecay: weightDecay,
		params:      params,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, len(p.data))
		o.v[i] = make([]float64, len(p.data))
	}
	return o
}

func (o *adamW) step() {
	o.steps++
	bc1 := 1 - math.Pow(adamBeta1, float64(o.steps))
	bc2 := 1 - math.Pow(adamBeta2, float64(o.steps))

	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j, g := range p.grad {
			p.data[j] -= o.lr * o.weightDecay * p.data[j]

			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g*g

			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.data[j] -= o.lr * mHat / (math.Sqrt(vHat) + adamEps)
		}
	}
}
