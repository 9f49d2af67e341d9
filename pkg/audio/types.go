package audio

import "time"

// Frame is one block of captured microphone audio. Samples are mono float32
// in [-1, 1] at SampleRate Hz.
type Frame struct {
	// Samples holds the mono PCM samples of the frame.
	Samples []float32

	// SampleRate in Hz (16000 for the live transport).
	SampleRate int

	// Timestamp marks the position of the first sample, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration returns how long n samples last at rate Hz. It returns 0
// for a non-positive rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
