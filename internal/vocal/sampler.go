// Package vocal derives live delivery metrics from microphone frames: an
// energy level from the spectrum of the latest frame, and a speaking-pace
// counter from amplitude peaks.
package vocal

import (
	"math"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Config tunes a Sampler. Zero fields take the defaults of [DefaultConfig].
type Config struct {
	// FFTSize is the analysis window length. It is rounded up to a power of two.
	FFTSize int

	// Smoothing averages each bin with its previous value, in [0, 1).
	Smoothing float64

	// MinDecibels and MaxDecibels map bin magnitudes onto [0, 1].
	MinDecibels float64
	MaxDecibels float64

	// PeakThreshold is the absolute sample amplitude a peak must exceed.
	PeakThreshold float64

	// Refractory is the minimum spacing between two counted peaks.
	Refractory time.Duration
}

// DefaultConfig returns the analyser settings used for live sessions.
func DefaultConfig() Config {
	return Config{
		FFTSize:       1024,
		Smoothing:     0.8,
		MinDecibels:   -100,
		MaxDecibels:   -30,
		PeakThreshold: 0.3,
		Refractory:    200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FFTSize <= 0 {
		c.FFTSize = d.FFTSize
	}
	c.FFTSize = nextPow2(c.FFTSize)
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		c.Smoothing = d.Smoothing
	}
	if c.MinDecibels == 0 && c.MaxDecibels == 0 {
		c.MinDecibels, c.MaxDecibels = d.MinDecibels, d.MaxDecibels
	}
	if c.PeakThreshold <= 0 {
		c.PeakThreshold = d.PeakThreshold
	}
	if c.Refractory <= 0 {
		c.Refractory = d.Refractory
	}
	return c
}

// Metrics is a point-in-time reading.
type Metrics struct {
	// Energy is the mean normalised spectral magnitude of the latest frame, in [0, 1].
	Energy float64

	// Pace is the number of peaks counted since the last reset.
	Pace int

	// Elapsed is the capture time observed since the last reset.
	Elapsed time.Duration
}

// PerMinute converts Pace into peaks per minute of observed audio.
func (m Metrics) PerMinute() float64 {
	if m.Elapsed <= 0 {
		return 0
	}
	return float64(m.Pace) / m.Elapsed.Minutes()
}

// Sampler accumulates metrics over a capture stream. Observe is called from
// the session run loop; Snapshot may be called from any goroutine.
type Sampler struct {
	cfg    Config
	window []float64
	re, im []float64

	mu       sync.Mutex
	smoothed []float64
	energy   float64
	pace     int
	lastPeak time.Duration
	havePeak bool
	elapsed  time.Duration
}

// NewSampler returns a Sampler with cfg applied over the defaults.
func NewSampler(cfg Config) *Sampler {
	cfg = cfg.withDefaults()
	return &Sampler{
		cfg:      cfg,
		window:   blackman(cfg.FFTSize),
		re:       make([]float64, cfg.FFTSize),
		im:       make([]float64, cfg.FFTSize),
		smoothed: make([]float64, cfg.FFTSize/2),
	}
}

// Observe folds one capture frame into the metrics.
func (s *Sampler) Observe(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.energy = s.analyse(f.Samples)
	s.countPeaks(f)
	if end := f.Timestamp + f.Duration(); end > s.elapsed {
		s.elapsed = end
	}
}

// analyse runs the windowed FFT over the newest FFTSize samples, zero
// padding shorter frames.
func (s *Sampler) analyse(samples []float32) float64 {
	n := s.cfg.FFTSize
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	for i := range n {
		s.im[i] = 0
		if i < len(samples) {
			s.re[i] = float64(samples[i]) * s.window[i]
		} else {
			s.re[i] = 0
		}
	}
	fft(s.re, s.im)

	span := s.cfg.MaxDecibels - s.cfg.MinDecibels
	tau := s.cfg.Smoothing
	var sum float64
	for k := range s.smoothed {
		mag := math.Hypot(s.re[k], s.im[k]) / float64(n)
		s.smoothed[k] = tau*s.smoothed[k] + (1-tau)*mag
		if s.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(s.smoothed[k])
		sum += min(1, max(0, (db-s.cfg.MinDecibels)/span))
	}
	return sum / float64(len(s.smoothed))
}

// countPeaks counts a peak whenever a sample exceeds the threshold at least
// Refractory after the previous counted peak.
func (s *Sampler) countPeaks(f audio.Frame) {
	if f.SampleRate <= 0 {
		return
	}
	threshold := float32(s.cfg.PeakThreshold)
	for i, x := range f.Samples {
		if x <= threshold && x >= -threshold {
			continue
		}
		at := f.Timestamp + audio.SamplesDuration(i, f.SampleRate)
		if s.havePeak && at-s.lastPeak < s.cfg.Refractory {
			continue
		}
		s.pace++
		s.lastPeak = at
		s.havePeak = true
	}
}

// Snapshot returns the current metrics.
func (s *Sampler) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{Energy: s.energy, Pace: s.pace, Elapsed: s.elapsed}
}

// Reset clears all accumulated state for a new session.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.smoothed)
	s.energy = 0
	s.pace = 0
	s.lastPeak = 0
	s.havePeak = false
	s.elapsed = 0
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
