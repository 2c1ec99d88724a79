package acoustic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// DNNLayer holds weights and biases for a single fully-connected layer.
// W is [OutDim × InDim] row-major, B is [OutDim].
type DNNLayer struct {
	W      []float64
	B      []float64
	InDim  int
	OutDim int
}

// BatchNormParams holds parameters for one batch normalization layer.
type BatchNormParams struct {
	Gamma       []float64 // learnable scale [Dim]
	Beta        []float64 // learnable shift [Dim]
	RunningMean []float64 // EMA mean for inference [Dim]
	RunningVar  []float64 // EMA variance for inference [Dim]
	Dim         int
}

// DNN is a feedforward network scoring pdfs from a spliced window of frames.
// Architecture: input → hidden1 (ReLU) → ... → hiddenN (ReLU) → output (log-softmax).
// The input is 2*ContextLen+1 consecutive feature frames concatenated.
type DNN struct {
	Layers     []DNNLayer // hidden layers + output layer
	InputDim   int        // = Layers[0].InDim
	OutputDim  int        // = Layers[N-1].OutDim, one output per pdf
	ContextLen int        // frames on each side (e.g. 5 → 11-frame window)

	// Batch normalization (hidden layers only)
	UseBatchNorm bool
	BN           []BatchNormParams // len = nHidden (nil if !UseBatchNorm)

	// Log prior P(pdf) for converting posteriors to scaled likelihoods.
	LogPrior []float64 // [OutputDim]
}

// NewDNN assembles a network and checks that consecutive layers agree.
func NewDNN(layers []DNNLayer, contextLen int, logPrior []float64, bn []BatchNormParams) (*DNN, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("dnn has no layers")
	}
	for i, l := range layers {
		if len(l.W) != l.InDim*l.OutDim || len(l.B) != l.OutDim {
			return nil, fmt.Errorf("layer %d: weights %d/bias %d do not match %dx%d", i, len(l.W), len(l.B), l.OutDim, l.InDim)
		}
		if i > 0 && l.InDim != layers[i-1].OutDim {
			return nil, fmt.Errorf("layer %d: input dim %d, previous output %d", i, l.InDim, layers[i-1].OutDim)
		}
	}
	d := &DNN{
		Layers:     layers,
		InputDim:   layers[0].InDim,
		OutputDim:  layers[len(layers)-1].OutDim,
		ContextLen: contextLen,
		LogPrior:   logPrior,
	}
	if d.InputDim%(2*contextLen+1) != 0 {
		return nil, fmt.Errorf("input dim %d is not a multiple of the %d-frame window", d.InputDim, 2*contextLen+1)
	}
	if d.LogPrior == nil {
		d.LogPrior = make([]float64, d.OutputDim)
	}
	if len(d.LogPrior) != d.OutputDim {
		return nil, fmt.Errorf("prior has %d entries, want %d", len(d.LogPrior), d.OutputDim)
	}
	if len(bn) > 0 {
		if len(bn) != len(layers)-1 {
			return nil, fmt.Errorf("%d batch-norm layers for %d hidden layers", len(bn), len(layers)-1)
		}
		d.UseBatchNorm = true
		d.BN = bn
	}
	return d, nil
}

// FeatureDim returns the per-frame input dimension.
func (d *DNN) FeatureDim() int { return d.InputDim / (2*d.ContextLen + 1) }

// batchNormEps is the epsilon for numerical stability in batch normalization.
const batchNormEps = 1e-5

// Forward computes log-softmax outputs for a batch of input vectors with gonum's blas64.
// input: flat [batchSize × InputDim] row-major
// activations: per-hidden-layer buffers, each [batchSize × layer.OutDim]
// output: flat [batchSize × OutputDim] log-softmax values
func (d *DNN) Forward(input []float64, batchSize int, activations [][]float64, output []float64) {
	nLayers := len(d.Layers)
	prevAct := input
	prevDim := d.InputDim

	for i := range d.Layers {
		layer := &d.Layers[i]
		var dst []float64
		if i < nLayers-1 {
			dst = activations[i]
		} else {
			dst = output
		}

		blas64.Gemm(blas.NoTrans, blas.Trans, 1,
			blas64.General{Rows: batchSize, Cols: prevDim, Stride: prevDim, Data: prevAct},
			blas64.General{Rows: layer.OutDim, Cols: prevDim, Stride: prevDim, Data: layer.W},
			0, blas64.General{Rows: batchSize, Cols: layer.OutDim, Stride: layer.OutDim, Data: dst})

		if i < nLayers-1 {
			if d.UseBatchNorm {
				addBiasBNReLU(dst, layer.B, &d.BN[i], batchSize, layer.OutDim)
			} else {
				addBiasReLU(dst, layer.B, batchSize, layer.OutDim)
			}
		} else {
			addBiasLogSoftmax(dst, layer.B, batchSize, layer.OutDim)
		}

		prevAct = dst
		prevDim = layer.OutDim
	}
}

func addBiasReLU(z []float64, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		off := i * cols
		for j := 0; j < cols; j++ {
			z[off+j] = math.Max(0, z[off+j]+bias[j])
		}
	}
}

// addBiasBNReLU adds bias, applies batch normalization using running stats, then ReLU.
// Fused: z = gamma * (z + bias - runningMean) / sqrt(runningVar + eps) + beta → ReLU
func addBiasBNReLU(z []float64, bias []float64, bn *BatchNormParams, rows, cols int) {
	scale := make([]float64, cols)
	shift := make([]float64, cols)
	for j := 0; j < cols; j++ {
		invStd := 1.0 / math.Sqrt(bn.RunningVar[j]+batchNormEps)
		scale[j] = bn.Gamma[j] * invStd
		shift[j] = bn.Beta[j] - bn.Gamma[j]*invStd*(bn.RunningMean[j]-bias[j])
	}
	for i := 0; i < rows; i++ {
		off := i * cols
		for j := 0; j < cols; j++ {
			z[off+j] = math.Max(0, z[off+j]*scale[j]+shift[j])
		}
	}
}

// addBiasLogSoftmax adds bias and applies log-softmax per row.
func addBiasLogSoftmax(z []float64, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := z[i*cols : (i+1)*cols]
		maxVal := math.Inf(-1)
		for j := range row {
			row[j] += bias[j]
			if row[j] > maxVal {
				maxVal = row[j]
			}
		}
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxVal)
		}
		logSumExp := maxVal + math.Log(sumExp)
		for j := range row {
			row[j] -= logSumExp
		}
	}
}

// SubtractPrior converts log-posteriors to pseudo-log-likelihoods in place.
func (d *DNN) SubtractPrior(logPost []float64) {
	for i, lp := range d.LogPrior {
		logPost[i] -= lp
	}
}

// NeuralNet is the neural-network acoustic model.
type NeuralNet struct {
	dnn *DNN

	// scratch buffers reused across frames
	input       []float64
	activations [][]float64
}

// NewNeuralNet wraps a network as an acoustic model.
func NewNeuralNet(d *DNN) *NeuralNet {
	nn := &NeuralNet{dnn: d, input: make([]float64, d.InputDim)}
	nn.activations = make([][]float64, len(d.Layers)-1)
	for i := range nn.activations {
		nn.activations[i] = make([]float64, d.Layers[i].OutDim)
	}
	return nn
}

// DNN returns the underlying network.
func (nn *NeuralNet) DNN() *DNN { return nn.dnn }

func (nn *NeuralNet) Type() ModelType { return TypeNNet2 }

func (nn *NeuralNet) InputDim() int { return nn.dnn.FeatureDim() }

func (nn *NeuralNet) NumPdfs() int { return nn.dnn.OutputDim }

func (nn *NeuralNet) Context() (left, right int) { return nn.dnn.ContextLen, nn.dnn.ContextLen }

// Score runs the network on one spliced window. It reuses scratch buffers,
// so a NeuralNet must not be scored from two goroutines at once.
func (nn *NeuralNet) Score(window [][]float64) FrameScores {
	fd := nn.dnn.FeatureDim()
	for w, frame := range window {
		copy(nn.input[w*fd:(w+1)*fd], frame)
	}
	out := make([]float64, nn.dnn.OutputDim)
	nn.dnn.Forward(nn.input, 1, nn.activations, out)
	nn.dnn.SubtractPrior(out)
	return nnFrame(out)
}

type nnFrame []float64

func (f nnFrame) LogLikelihood(pdf int) float64 { return f[pdf] }

// --- Serialization ---

type serializedDNNLayer struct {
	W      []float64
	B      []float64
	InDim  int
	OutDim int
}

type serializedBNParams struct {
	Gamma       []float64
	Beta        []float64
	RunningMean []float64
	RunningVar  []float64
	Dim         int
}

// serializedDNN is version 3 of the network format; BN is empty for
// networks without batch normalization.
type serializedDNN struct {
	Version    int
	ContextLen int
	Layers     []serializedDNNLayer
	BN         []serializedBNParams
	LogPrior   []float64
}

const dnnFormatVersion = 3

func (d *DNN) serialize() serializedDNN {
	sd := serializedDNN{Version: dnnFormatVersion, ContextLen: d.ContextLen, LogPrior: d.LogPrior}
	sd.Layers = make([]serializedDNNLayer, len(d.Layers))
	for i, l := range d.Layers {
		sd.Layers[i] = serializedDNNLayer{W: l.W, B: l.B, InDim: l.InDim, OutDim: l.OutDim}
	}
	if d.UseBatchNorm {
		sd.BN = make([]serializedBNParams, len(d.BN))
		for i, bn := range d.BN {
			sd.BN[i] = serializedBNParams{
				Gamma: bn.Gamma, Beta: bn.Beta,
				RunningMean: bn.RunningMean, RunningVar: bn.RunningVar,
				Dim: bn.Dim,
			}
		}
	}
	return sd
}

func dnnFromSerialized(sd *serializedDNN) (*DNN, error) {
	if sd.Version != dnnFormatVersion {
		return nil, fmt.Errorf("unsupported network format version %d", sd.Version)
	}
	layers := make([]DNNLayer, len(sd.Layers))
	for i, sl := range sd.Layers {
		layers[i] = DNNLayer{W: sl.W, B: sl.B, InDim: sl.InDim, OutDim: sl.OutDim}
	}
	var bn []BatchNormParams
	for _, sbn := range sd.BN {
		bn = append(bn, BatchNormParams{
			Gamma: sbn.Gamma, Beta: sbn.Beta,
			RunningMean: sbn.RunningMean, RunningVar: sbn.RunningVar,
			Dim: sbn.Dim,
		})
	}
	return NewDNN(layers, sd.ContextLen, sd.LogPrior, bn)
}
