package audio

import (
	"log/slog"
	"sync"
)

// sample is the set of PCM sample types the resamplers accept.
type sample interface {
	~int16 | ~float32
}

// ResampleMono16 resamples int16 mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive, the input is
// returned unchanged.
func ResampleMono16(pcm []int16, srcRate, dstRate int) []int16 {
	return resampleLinear(pcm, srcRate, dstRate)
}

// ResampleMono resamples float32 mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive, the input is
// returned unchanged.
func ResampleMono(pcm []float32, srcRate, dstRate int) []float32 {
	return resampleLinear(pcm, srcRate, dstRate)
}

func resampleLinear[T sample](src []T, srcRate, dstRate int) []T {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(src) == 0 {
		return src
	}
	dstLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]T, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := float64(src[idx])
		s1 := s0
		if idx+1 < len(src) {
			s1 = float64(src[idx+1])
		}
		out[i] = T(s0*(1-frac) + s1*frac)
	}
	return out
}

// Resampler converts a stream of frames to a fixed rate. It logs once on the
// first mismatch. Create one per stream; it is not safe for concurrent use.
type Resampler struct {
	Target int
	warned sync.Once
}

// Frame resamples f to the target rate, adjusting nothing else. Frames already
// at the target rate are returned unchanged.
func (r *Resampler) Frame(f Frame) Frame {
	if r.Target <= 0 || f.SampleRate == r.Target {
		return f
	}
	r.warned.Do(func() {
		slog.Warn("audio: sample rate mismatch, resampling",
			"from", f.SampleRate,
			"to", r.Target,
		)
	})
	return Frame{
		Samples:    ResampleMono(f.Samples, f.SampleRate, r.Target),
		SampleRate: r.Target,
		Timestamp:  f.Timestamp,
	}
}
