package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// pcm16Scale maps 16-bit sample values to [-1, 1] for the resampler.
const pcm16Scale = 32768.0

// Resampler converts a mono stream between sample rates chunk by chunk.
// The filter keeps state across calls, so one Resampler serves one stream.
type Resampler struct {
	from, to int
	r        resampling.Resampler
	buf      []float64
}

// NewResampler returns a resampler from rate from to rate to. Equal rates
// give a pass-through resampler.
func NewResampler(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", from, to)
	}
	rs := &Resampler{from: from, to: to}
	if from == to {
		return rs, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: create resampler: %w", err)
	}
	rs.r = r
	return rs, nil
}

// Process resamples one chunk. The output may lag the input by the filter
// delay.
func (rs *Resampler) Process(samples []float64) ([]float64, error) {
	if rs.r == nil {
		return append([]float64(nil), samples...), nil
	}
	rs.buf = rs.buf[:0]
	for _, s := range samples {
		rs.buf = append(rs.buf, s/pcm16Scale)
	}
	out, err := rs.r.Process(rs.buf)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	res := make([]float64, len(out))
	for i, s := range out {
		res[i] = s * pcm16Scale
	}
	return res, nil
}

// Resample converts a whole signal from rate from to rate to.
func Resample(samples []float64, from, to int) ([]float64, error) {
	rs, err := NewResampler(from, to)
	if err != nil {
		return nil, err
	}
	return rs.Process(samples)
}
