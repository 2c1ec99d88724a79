package audio

import (
	"encoding/binary"

	"github.com/ieee0824/livedecode-go/asrerr"
)

// CheckBitsPerSample fails with UnsupportedSampleFormat unless bits is 8 or
// 16.
func CheckBitsPerSample(bits int) error {
	if bits != 8 && bits != 16 {
		return asrerr.New(asrerr.UnsupportedSampleFormat, "pcm",
			"%d bits per sample, only 8 and 16 are supported", bits)
	}
	return nil
}

// DecodePCM converts packed little-endian PCM to float samples without
// rescaling: 8-bit samples are unsigned bytes (0 to 255) and 16-bit samples
// are signed (-32768 to 32767). A trailing partial sample is dropped.
func DecodePCM(buf []byte, bits int) ([]float64, error) {
	if err := CheckBitsPerSample(bits); err != nil {
		return nil, err
	}
	if bits == 8 {
		out := make([]float64, len(buf))
		for i, b := range buf {
			out[i] = float64(b)
		}
		return out, nil
	}
	out := make([]float64, len(buf)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(buf[2*i:])))
	}
	return out, nil
}

// EncodePCM16 packs samples as 16-bit little-endian PCM, clipping values
// outside the int16 range.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := max(-32768, min(32767, s))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// PCMDecoder decodes a stream of PCM chunks whose boundaries need not fall
// on sample boundaries. A partial sample at the end of a chunk is held
// until the next one.
type PCMDecoder struct {
	Bits  int
	carry []byte
}

// Decode converts buf, prefixed by any bytes held from the previous call.
func (p *PCMDecoder) Decode(buf []byte) ([]float64, error) {
	if err := CheckBitsPerSample(p.Bits); err != nil {
		return nil, err
	}
	if len(p.carry) > 0 {
		buf = append(p.carry, buf...)
		p.carry = nil
	}
	if rem := len(buf) % (p.Bits / 8); rem > 0 {
		p.carry = append([]byte(nil), buf[len(buf)-rem:]...)
		buf = buf[:len(buf)-rem]
	}
	return DecodePCM(buf, p.Bits)
}

// Reset drops a held partial sample.
func (p *PCMDecoder) Reset() { p.carry = nil }
