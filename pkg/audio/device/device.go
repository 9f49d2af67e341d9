// Package device implements [audio.Source] and [audio.Sink] on top of the
// host's sound hardware via PortAudio.
//
// Each opened capture or output holds its own PortAudio initialisation, so
// the package needs no global setup. Streams are mono float32.
package device

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

// Info describes one host audio device.
type Info struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// List enumerates the host's audio devices.
func List() ([]Info, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	// A missing default is reported per device below, not as an error.
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]Info, 0, len(devices))
	for _, d := range devices {
		info := Info{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && d == defIn,
			DefaultOutput:     defOut != nil && d == defOut,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// findDevice resolves name to a device with channels in the wanted direction.
// An empty name selects the host default.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		var (
			d   *portaudio.DeviceInfo
			err error
		)
		if input {
			d, err = portaudio.DefaultInputDevice()
		} else {
			d, err = portaudio.DefaultOutputDevice()
		}
		if err != nil || d == nil {
			return nil, fmt.Errorf("device: no default %s device: %w", direction(input), audio.ErrDeviceUnavailable)
		}
		return d, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 || !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device: %s device %q not found: %w", direction(input), name, audio.ErrDeviceUnavailable)
}

// classify maps a PortAudio stream error onto the audio error taxonomy.
func classify(op string, err error) error {
	// PortAudio surfaces OS privacy refusals only as host error text.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"permission", "denied", "not authorized"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("device: %s: %w: %w", op, audio.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("device: %s: %w: %w", op, audio.ErrDeviceUnavailable, err)
}

func direction(input bool) string {
	if input {
		return "input"
	}
	return "output"
}
