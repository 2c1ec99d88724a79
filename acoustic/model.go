// Package acoustic holds the transition model, the acoustic model variants
// and the decodable that scores feature frames for the search.
package acoustic

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/ieee0824/livedecode-go/asrerr"
)

// ModelType names an acoustic model variant.
type ModelType string

const (
	TypeGMM   ModelType = "gmm"
	TypeNNet2 ModelType = "nnet2"
)

// Model scores feature windows. Exactly one implementation is chosen per
// model file, by ReadModel.
type Model interface {
	Type() ModelType
	// InputDim is the per-frame feature dimension the model expects.
	InputDim() int
	NumPdfs() int
	// Context is the number of frames needed on each side of the scored frame.
	Context() (left, right int)
	// Score evaluates one frame given left+1+right frames centred on it.
	Score(window [][]float64) FrameScores
}

// FrameScores gives the log-likelihood of each pdf for one frame.
type FrameScores interface {
	LogLikelihood(pdf int) float64
}

// ParseModelType validates a model type name.
func ParseModelType(s string) (ModelType, error) {
	t := ModelType(s)
	if _, ok := payloadReaders[t]; !ok {
		return "", asrerr.New(asrerr.InvalidModelType, "model", "unknown model type %q (want %q or %q)", s, TypeGMM, TypeNNet2)
	}
	return t, nil
}

const modelMagic = "LDAM"

type modelHeader struct {
	Magic   string
	Version int
	Type    string
}

// payloadReaders is the single place where the model variant is chosen.
var payloadReaders = map[ModelType]func(*gob.Decoder) (Model, error){
	TypeGMM: func(dec *gob.Decoder) (Model, error) {
		var s serializedAmGMM
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode gmm: %w", err)
		}
		return amGMMFromSerialized(&s)
	},
	TypeNNet2: func(dec *gob.Decoder) (Model, error) {
		var s serializedDNN
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode network: %w", err)
		}
		d, err := dnnFromSerialized(&s)
		if err != nil {
			return nil, err
		}
		return NewNeuralNet(d), nil
	},
}

// ReadModel reads a transition model followed by the acoustic model of the
// given type. A type the package does not know, or a file holding a
// different type, fails with InvalidModelType; anything else that goes
// wrong fails with ResourceLoadError.
func ReadModel(modelType string, r io.Reader) (*TransitionModel, Model, error) {
	t, err := ParseModelType(modelType)
	if err != nil {
		return nil, nil, err
	}
	dec := gob.NewDecoder(r)
	var hdr modelHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, nil, asrerr.Wrap(asrerr.ResourceLoadError, "read model header", err)
	}
	if hdr.Magic != modelMagic {
		return nil, nil, asrerr.New(asrerr.ResourceLoadError, "read model", "bad magic %q", hdr.Magic)
	}
	if ModelType(hdr.Type) != t {
		return nil, nil, asrerr.New(asrerr.InvalidModelType, "read model", "file holds a %q model, configured %q", hdr.Type, t)
	}
	var stm serializedTransitionModel
	if err := dec.Decode(&stm); err != nil {
		return nil, nil, asrerr.Wrap(asrerr.ResourceLoadError, "read transition model", err)
	}
	tm, err := NewTransitionModel(stm.Transitions)
	if err != nil {
		return nil, nil, asrerr.Wrap(asrerr.ResourceLoadError, "read transition model", err)
	}
	m, err := payloadReaders[t](dec)
	if err != nil {
		return nil, nil, asrerr.Wrap(asrerr.ResourceLoadError, "read acoustic model", err)
	}
	if m.NumPdfs() != tm.NumPdfs() {
		return nil, nil, asrerr.New(asrerr.ResourceLoadError, "read model",
			"acoustic model has %d pdfs, transition model %d", m.NumPdfs(), tm.NumPdfs())
	}
	return tm, m, nil
}

// WriteModel writes tm and m in the format ReadModel reads.
func WriteModel(w io.Writer, tm *TransitionModel, m Model) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(modelHeader{Magic: modelMagic, Version: 1, Type: string(m.Type())}); err != nil {
		return err
	}
	if err := enc.Encode(tm.serialize()); err != nil {
		return err
	}
	switch m := m.(type) {
	case *AmDiagGMM:
		return enc.Encode(m.serialize())
	case *NeuralNet:
		return enc.Encode(m.dnn.serialize())
	default:
		return fmt.Errorf("cannot write model of type %T", m)
	}
}
