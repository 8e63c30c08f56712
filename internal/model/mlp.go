package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const layerNormEps = 1e-5

// Config describes the network and its optimizer.
type Config struct {
	Arch        Arch
	Version     string
	InputDim    int
	Hidden      int
	LR          float64
	WeightDecay float64
	Seed        uint64
}

// MLP maps a feature vector to a frost logit through two
// linear → layer norm → ReLU blocks and a linear head.
type MLP struct {
	cfg Config

	l1, l2, l3 *linear
	n1, n2     *layerNorm

	opt *adamW
}

type linear struct {
	w, gw *mat.Dense
	b, gb *mat.VecDense
}

func newLinear(in, out int, rng *rand.Rand) *linear {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (2*rng.Float64() - 1) * bound
	}
	return &linear{
		w:  mat.NewDense(out, in, w),
		gw: mat.NewDense(out, in, nil),
		b:  mat.NewVecDense(out, b),
		gb: mat.NewVecDense(out, nil),
	}
}

func (l *linear) forward(x *mat.VecDense) *mat.VecDense {
	out, _ := l.w.Dims()
	z := mat.NewVecDense(out, nil)
	z.MulVec(l.w, x)
	z.AddVec(z, l.b)
	return z
}

// backward accumulates parameter gradients and returns dL/dx.
func (l *linear) backward(x, dz *mat.VecDense) *mat.VecDense {
	l.gw.Outer(1, dz, x)
	l.gb.CopyVec(dz)
	_, in := l.w.Dims()
	dx := mat.NewVecDense(in, nil)
	dx.MulVec(l.w.T(), dz)
	return dx
}

type layerNorm struct {
	gamma, beta   []float64
	ggamma, gbeta []float64
}

func newLayerNorm(n int) *layerNorm {
	ln := &layerNorm{
		gamma:  make([]float64, n),
		beta:   make([]float64, n),
		ggamma: make([]float64, n),
		gbeta:  make([]float64, n),
	}
	for i := range ln.gamma {
		ln.gamma[i] = 1
	}
	return ln
}

type normTrace struct {
	xhat   []float64
	invStd float64
}

func (ln *layerNorm) forward(z *mat.VecDense) (*mat.VecDense, normTrace) {
	x := z.RawVector().Data
	n := float64(len(x))
	mean := floats.Sum(x) / n
	variance := 0.0
	for _, v := range x {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	invStd := 1 / math.Sqrt(variance+layerNormEps)

	xhat := make([]float64, len(x))
	out := make([]float64, len(x))
	for i, v := range x {
		xhat[i] = (v - mean) * invStd
		out[i] = ln.gamma[i]*xhat[i] + ln.beta[i]
	}
	return mat.NewVecDense(len(out), out), normTrace{xhat: xhat, invStd: invStd}
}

func (ln *layerNorm) backward(tr normTrace, dy []float64) *mat.VecDense {
	n := float64(len(dy))
	dxhat := make([]float64, len(dy))
	for i := range dy {
		ln.ggamma[i] = dy[i] * tr.xhat[i]
		ln.gbeta[i] = dy[i]
		dxhat[i] = dy[i] * ln.gamma[i]
	}
	sum := floats.Sum(dxhat)
	dot := floats.Dot(dxhat, tr.xhat)

	dx := make([]float64, len(dy))
	for i := range dx {
		dx[i] = tr.invStd / n * (n*dxhat[i] - sum - tr.xhat[i]*dot)
	}
	return mat.NewVecDense(len(dx), dx)
}

func relu(z *mat.VecDense) *mat.VecDense {
	src := z.RawVector().Data
	out := make([]float64, len(src))
	for i, v := range src {
		if v > 0 {
			out[i] = v
		}
	}
	return mat.NewVecDense(len(out), out)
}

// trace keeps the activations a backward pass needs.
type trace struct {
	x      *mat.VecDense
	n1, n2 *mat.VecDense
	t1, t2 normTrace
	a1, a2 *mat.VecDense
	logit  float64
}

// New builds a freshly initialised network from cfg.
func New(cfg Config) (*MLP, error) {
	if cfg.Arch != ArchMLP {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArch, cfg.Arch)
	}
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("%w: input dim %d", ErrShapeMismatch, cfg.InputDim)
	}
	if cfg.Hidden <= 0 {
		cfg.Hidden = 128
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	m := &MLP{
		cfg: cfg,
		l1:  newLinear(cfg.InputDim, 2*cfg.Hidden, rng),
		n1:  newLayerNorm(2 * cfg.Hidden),
		l2:  newLinear(2*cfg.Hidden, cfg.Hidden, rng),
		n2:  newLayerNorm(cfg.Hidden),
		l3:  newLinear(cfg.Hidden, 1, rng),
	}
	m.opt = newAdamW(cfg.LR, cfg.WeightDecay, m.params())
	return m, nil
}

// InputDim returns the expected feature vector length.
func (m *MLP) InputDim() int {
	return m.cfg.InputDim
}

func (m *MLP) forward(x []float64) (*trace, error) {
	if len(x) != m.cfg.InputDim {
		return nil, fmt.Errorf("%w: input has %d values, network expects %d", ErrShapeMismatch, len(x), m.cfg.InputDim)
	}
	tr := &trace{x: mat.NewVecDense(len(x), x)}

	tr.n1, tr.t1 = m.n1.forward(m.l1.forward(tr.x))
	tr.a1 = relu(tr.n1)
	tr.n2, tr.t2 = m.n2.forward(m.l2.forward(tr.a1))
	tr.a2 = relu(tr.n2)
	tr.logit = m.l3.forward(tr.a2).AtVec(0)
	return tr, nil
}

// Logit runs inference without touching gradients or optimizer state.
func (m *MLP) Logit(x []float64) (float64, error) {
	tr, err := m.forward(x)
	if err != nil {
		return 0, err
	}
	return tr.logit, nil
}

// Probability returns the sigmoid of the logit.
func (m *MLP) Probability(x []float64) (float64, error) {
	z, err := m.Logit(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(z), nil
}

// TrainStep performs one forward/backward pass against a 0/1 label and
// applies one optimizer step. It returns the binary cross-entropy loss.
func (m *MLP) TrainStep(x []float64, label float64) (float64, error) {
	loss, err := m.backward(x, label)
	if err != nil {
		return 0, err
	}
	m.opt.step()
	return loss, nil
}

// backward fills every parameter gradient for one sample.
func (m *MLP) backward(x []float64, label float64) (float64, error) {
	tr, err := m.forward(x)
	if err != nil {
		return 0, err
	}
	loss := bceWithLogits(tr.logit, label)

	dlogit := mat.NewVecDense(1, []float64{sigmoid(tr.logit) - label})
	da2 := m.l3.backward(tr.a2, dlogit)
	dz2 := m.n2.backward(tr.t2, reluGrad(tr.n2, da2))
	da1 := m.l2.backward(tr.a1, dz2)
	dz1 := m.n1.backward(tr.t1, reluGrad(tr.n1, da1))
	m.l1.backward(tr.x, dz1)
	return loss, nil
}

func reluGrad(pre, grad *mat.VecDense) []float64 {
	p := pre.RawVector().Data
	g := grad.RawVector().Data
	out := make([]float64, len(g))
	for i := range g {
		if p[i] > 0 {
			out[i] = g[i]
		}
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func bceWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}

type param struct {
	data, grad []float64
}

// params lists tensors in the order they are persisted.
func (m *MLP) params() []param {
	ps := make([]param, 0, 10)
	for i, l := range []*linear{m.l1, m.l2, m.l3} {
		ps = append(ps,
			param{data: l.w.RawMatrix().Data, grad: l.gw.RawMatrix().Data},
			param{data: l.b.RawVector().Data, grad: l.gb.RawVector().Data},
		)
		if i < 2 {
			ln := []*layerNorm{m.n1, m.n2}[i]
			ps = append(ps,
				param{data: ln.gamma, grad: ln.ggamma},
				param{data: ln.beta, grad: ln.gbeta},
			)
		}
	}
	return ps
}
