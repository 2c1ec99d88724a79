// Package feature implements the streaming feature front end: MFCC
// extraction, online mean/variance normalization, frame splicing, linear
// and affine transforms, pitch, utterance embeddings, and the Pipeline
// that chains them.
//
// Every stage produces frames in order and looks ahead at most a fixed
// number of input frames, so features are available while audio is still
// arriving.
package feature

// Online is a streaming source of feature frames.
type Online interface {
	// Dim is the dimension of every frame.
	Dim() int
	// NumFramesReady is the number of frames that can be read now. It
	// never decreases.
	NumFramesReady() int
	// IsLastFrame reports whether frame is the final frame of the input.
	IsLastFrame(frame int) bool
	// GetFrame copies frame into out, which must have length Dim().
	GetFrame(frame int, out []float64)
}
