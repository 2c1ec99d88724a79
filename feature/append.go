package feature

// Append concatenates the frames of several sources.
type Append struct {
	srcs []Online
	dim  int
}

func NewAppend(srcs ...Online) *Append {
	a := &Append{srcs: srcs}
	for _, s := range srcs {
		a.dim += s.Dim()
	}
	return a
}

func (a *Append) Dim() int { return a.dim }

// NumFramesReady is the smallest count among the sources.
func (a *Append) NumFramesReady() int {
	n := a.srcs[0].NumFramesReady()
	for _, s := range a.srcs[1:] {
		n = min(n, s.NumFramesReady())
	}
	return n
}

func (a *Append) IsLastFrame(frame int) bool {
	for _, s := range a.srcs {
		if !s.IsLastFrame(frame) {
			return false
		}
	}
	return true
}

func (a *Append) GetFrame(frame int, out []float64) {
	off := 0
	for _, s := range a.srcs {
		d := s.Dim()
		s.GetFrame(frame, out[off:off+d])
		off += d
	}
}
