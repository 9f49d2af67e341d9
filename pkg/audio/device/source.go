package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time assertions.
var (
	_ audio.Source  = (*Source)(nil)
	_ audio.Capture = (*capture)(nil)
)

// Source opens microphones through PortAudio.
type Source struct{}

// NewSource returns a PortAudio-backed [audio.Source].
func NewSource() *Source { return &Source{} }

// Open starts a mono input stream. If the device rejects cfg.SampleRate the
// stream runs at the device's default rate and frames are resampled.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}
	dev, err := findDevice(cfg.Device, true)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	c := &capture{
		rate:      cfg.SampleRate,
		frames:    make(chan audio.Frame, 1),
		resampler: audio.Resampler{Target: cfg.SampleRate},
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize
	c.deviceRate = cfg.SampleRate

	stream, err := portaudio.OpenStream(params, c.process)
	if errors.Is(err, portaudio.InvalidSampleRate) && dev.DefaultSampleRate > 0 {
		c.deviceRate = int(dev.DefaultSampleRate)
		params.SampleRate = dev.DefaultSampleRate
		params.FramesPerBuffer = cfg.FrameSize * c.deviceRate / cfg.SampleRate
		stream, err = portaudio.OpenStream(params, c.process)
	}
	if err != nil {
		portaudio.Terminate()
		return nil, classify("open input", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classify("start input", err)
	}
	c.stream = stream

	slog.Info("device: capture started",
		"device", dev.Name,
		"deviceRate", c.deviceRate,
		"rate", c.rate,
		"frameSize", cfg.FrameSize,
	)
	return c, nil
}

// capture is a running PortAudio input stream.
type capture struct {
	rate       int
	deviceRate int
	stream     *portaudio.Stream
	resampler  audio.Resampler

	frames  chan audio.Frame
	emitted int

	mu      sync.Mutex
	closed  bool
	dropped int
}

// process runs on the PortAudio callback thread. in is reused by PortAudio
// after return, so it is copied. Frames are dropped rather than queued when
// the consumer falls behind.
func (c *capture) process(in []float32) {
	samples := make([]float32, len(in))
	copy(samples, in)
	f := c.resampler.Frame(audio.Frame{Samples: samples, SampleRate: c.deviceRate})
	f.Timestamp = audio.SamplesDuration(c.emitted, c.rate)
	c.emitted += len(f.Samples)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.frames <- f:
	default:
		c.dropped++
		if c.dropped == 1 || c.dropped%100 == 0 {
			slog.Warn("device: capture consumer behind, dropping frames", "dropped", c.dropped)
		}
	}
}

func (c *capture) Frames() <-chan audio.Frame { return c.frames }

func (c *capture) SampleRate() int { return c.rate }

// Close stops the stream, waits for the in-flight callback, and closes Frames.
func (c *capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.frames)
	c.mu.Unlock()

	err := c.stream.Stop()
	if cerr := c.stream.Close(); err == nil {
		err = cerr
	}
	portaudio.Terminate()
	if err != nil {
		return classify("close input", err)
	}
	return nil
}
