package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// pcm16Scale maps [-1, 1] floats onto the int16 range.
const pcm16Scale = 0x7FFF

// pcmMIMEPrefix is the MIME type of raw 16-bit little-endian PCM, completed
// by the sample rate.
const pcmMIMEPrefix = "audio/pcm;rate="

// TransportChunk is a PCM16 buffer ready for the live session wire format.
type TransportChunk struct {
	// Data is the base64 encoding of little-endian int16 samples.
	Data string

	// MIMEType is "audio/pcm;rate=<SampleRate>".
	MIMEType string
}

// FloatToPCM16 clamps every sample to [-1, 1] and scales it by 32767.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		out[i] = int16(s * pcm16Scale)
	}
	return out
}

// PCM16ToFloat converts int16 samples to float32 in [-1, 1) by dividing by 32768.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// PCM16Bytes serialises samples as little-endian int16.
func PCM16Bytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToPCM16 parses little-endian int16 samples. An odd byte count is an
// [ErrDecode].
func BytesToPCM16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 byte count %d", ErrDecode, len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples, nil
}

// PCMMIMEType returns the transport MIME type for raw PCM16 at rate Hz.
func PCMMIMEType(rate int) string {
	return pcmMIMEPrefix + strconv.Itoa(rate)
}

// RateFromMIME extracts the rate parameter of a PCM MIME type such as
// "audio/pcm;rate=24000". It returns 0 if the type carries no rate.
func RateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0
		}
		return rate
	}
	return 0
}

// EncodeTransport packages samples recorded at rate Hz for the live session.
func EncodeTransport(samples []int16, rate int) TransportChunk {
	return TransportChunk{
		Data:     base64.StdEncoding.EncodeToString(PCM16Bytes(samples)),
		MIMEType: PCMMIMEType(rate),
	}
}

// DecodeTransport reverses [EncodeTransport] on a base64 payload. Errors wrap
// [ErrDecode].
func DecodeTransport(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrDecode, err)
	}
	return BytesToPCM16(raw)
}
