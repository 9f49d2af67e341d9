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
	_ audio.Sink   = (*Sink)(nil)
	_ audio.Output = (*output)(nil)
)

// Sink opens speakers through PortAudio.
type Sink struct {
	// Device selects an output device by name. Empty means the system default.
	Device string
}

// NewSink returns a PortAudio-backed [audio.Sink] playing on the named device.
func NewSink(device string) *Sink { return &Sink{Device: device} }

// Open starts a mono output stream whose callback renders an [audio.Timeline]
// running at rate Hz. Devices that reject rate play at their default rate
// through a resampling renderer.
func (s *Sink) Open(ctx context.Context, rate int) (audio.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}
	dev, err := findDevice(s.Device, false)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	o := &output{Timeline: audio.NewTimeline(rate)}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	deviceRate := rate
	stream, err := portaudio.OpenStream(params, o.Timeline.Render)
	if errors.Is(err, portaudio.InvalidSampleRate) && dev.DefaultSampleRate > 0 {
		deviceRate = int(dev.DefaultSampleRate)
		params.SampleRate = dev.DefaultSampleRate
		stream, err = portaudio.OpenStream(params, resamplingRenderer(o.Timeline, rate, deviceRate))
	}
	if err != nil {
		portaudio.Terminate()
		return nil, classify("open output", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classify("start output", err)
	}
	o.stream = stream

	slog.Info("device: playback started", "device", dev.Name, "deviceRate", deviceRate, "rate", rate)
	return o, nil
}

// resamplingRenderer pulls audio from tl at its own rate and stretches it to
// fill device buffers at deviceRate.
func resamplingRenderer(tl *audio.Timeline, rate, deviceRate int) func([]float32) {
	var buf []float32
	return func(out []float32) {
		n := max(1, len(out)*rate/deviceRate)
		if cap(buf) < n {
			buf = make([]float32, n)
		}
		buf = buf[:n]
		tl.Render(buf)
		m := copy(out, audio.ResampleMono(buf, rate, deviceRate))
		clear(out[m:])
	}
}

// output is a playing PortAudio stream driving a software timeline.
type output struct {
	*audio.Timeline
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

// Close silences the timeline and releases the stream. Idempotent.
func (o *output) Close() error {
	o.once.Do(func() {
		o.Timeline.Close()
		err := o.stream.Stop()
		if cerr := o.stream.Close(); err == nil {
			err = cerr
		}
		portaudio.Terminate()
		if err != nil {
			o.err = classify("close output", err)
		}
	})
	return o.err
}
