package audio

import (
	"slices"
	"sync"
	"time"
)

// Compile-time assertion that Timeline satisfies Output.
var _ Output = (*Timeline)(nil)

// Timeline is a software playback clock. Its position advances only when a
// renderer pulls samples through [Timeline.Render], so device callbacks and
// tests drive it the same way.
//
// All methods are safe for concurrent use. End callbacks run on the rendering
// goroutine after the internal lock is released.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*timelineVoice
	closed bool
}

type timelineVoice struct {
	t       *Timeline
	start   int64
	samples []float32
	onEnded func()
}

// NewTimeline returns a clock at position zero running at rate Hz.
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// SampleRate returns the clock rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the clock position: the number of rendered samples as a duration.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationOf(t.pos)
}

// Schedule queues samples at clock position at. Positions before Now start
// at Now. After Close the returned voice never plays.
func (t *Timeline) Schedule(samples []float32, at time.Duration, onEnded func()) Voice {
	v := &timelineVoice{t: t, start: t.indexOf(at), samples: samples, onEnded: onEnded}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return v
	}
	v.start = max(v.start, t.pos)
	t.voices = append(t.voices, v)
	return v
}

// Active returns the number of scheduled voices that have not finished.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Render mixes every voice overlapping the next len(out) samples into out and
// advances the clock by len(out). The mix is clamped to [-1, 1].
func (t *Timeline) Render(out []float32) {
	t.mu.Lock()
	clear(out)
	begin := t.pos
	end := begin + int64(len(out))

	var ended []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		vEnd := v.start + int64(len(v.samples))
		if v.start < end && vEnd > begin {
			for i := max(v.start, begin); i < min(vEnd, end); i++ {
				out[i-begin] += v.samples[i-v.start]
			}
		}
		if vEnd <= end {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.pos = end
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	for _, fn := range ended {
		fn()
	}
}

// Advance renders d of audio and discards it.
func (t *Timeline) Advance(d time.Duration) {
	if n := t.indexOf(d); n > 0 {
		t.Render(make([]float32, n))
	}
}

// Close silences every voice. Later schedules are ignored.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	clear(t.voices)
	t.voices = nil
	return nil
}

func (t *Timeline) indexOf(d time.Duration) int64 {
	if t.rate <= 0 || d <= 0 {
		return 0
	}
	// Round to the nearest sample so that abutting durations map onto
	// abutting sample ranges.
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) durationOf(n int64) time.Duration {
	if t.rate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(t.rate))
}

// Stop removes the voice from its timeline.
func (v *timelineVoice) Stop() {
	t := v.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.voices, v); i >= 0 {
		t.voices = slices.Delete(t.voices, i, i+1)
	}
}
