package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	wavHeaderSize    = 44
	wavFormatPCM     = 1
	wavBitsPerSample = 16
)

// Clip is an encoded mono 16-bit PCM WAV recording.
type Clip struct {
	data    []byte
	rate    int
	samples int
}

// EncodeWAV encodes samples as a canonical 44-byte-header RIFF/WAVE clip.
func EncodeWAV(samples []int16, rate int) *Clip {
	return encodeWAVBlocks([][]int16{samples}, len(samples), rate)
}

func encodeWAVBlocks(blocks [][]int16, n, rate int) *Clip {
	dataSize := n * 2
	buf := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(buf[0:], "RIFF")
	le.PutUint32(buf[4:], uint32(36+dataSize))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	le.PutUint32(buf[16:], 16)
	le.PutUint16(buf[20:], wavFormatPCM)
	le.PutUint16(buf[22:], 1)
	le.PutUint32(buf[24:], uint32(rate))
	le.PutUint32(buf[28:], uint32(rate*2))
	le.PutUint16(buf[32:], 2)
	le.PutUint16(buf[34:], wavBitsPerSample)
	copy(buf[36:], "data")
	le.PutUint32(buf[40:], uint32(dataSize))

	off := wavHeaderSize
	for _, b := range blocks {
		for _, s := range b {
			le.PutUint16(buf[off:], uint16(s))
			off += 2
		}
	}
	return &Clip{data: buf, rate: rate, samples: n}
}

// Bytes returns the encoded WAV file. It returns nil after [Clip.Release].
func (c *Clip) Bytes() []byte { return c.data }

// SampleRate returns the clip's rate in Hz.
func (c *Clip) SampleRate() int { return c.rate }

// Len returns the number of samples in the clip.
func (c *Clip) Len() int { return c.samples }

// Duration returns the clip's playback length.
func (c *Clip) Duration() time.Duration { return SamplesDuration(c.samples, c.rate) }

// Release drops the encoded bytes so the clip no longer pins its memory.
// Metadata stays readable.
func (c *Clip) Release() { c.data = nil }

// Released reports whether [Clip.Release] has been called.
func (c *Clip) Released() bool { return c.data == nil }

// DecodeWAV parses a mono or multi-channel 16-bit PCM WAV file. Unknown chunks
// are skipped. Errors wrap [ErrDecode].
func DecodeWAV(data []byte) ([]int16, Format, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, Format{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}
	le := binary.LittleEndian

	var (
		format  Format
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(le.Uint32(data[off+4:]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, Format{}, fmt.Errorf("%w: chunk %q overruns file", ErrDecode, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			if tag := le.Uint16(data[body:]); tag != wavFormatPCM {
				return nil, Format{}, fmt.Errorf("%w: unsupported format tag %d", ErrDecode, tag)
			}
			if bits := le.Uint16(data[body+14:]); bits != wavBitsPerSample {
				return nil, Format{}, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, bits)
			}
			format = Format{
				Channels:   int(le.Uint16(data[body+2:])),
				SampleRate: int(le.Uint32(data[body+4:])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			samples, err := BytesToPCM16(data[body : body+size])
			if err != nil {
				return nil, Format{}, err
			}
			return samples, format, nil
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrDecode)
}

// ParseClip decodes a stored mono WAV file back into a Clip.
func ParseClip(data []byte) (*Clip, error) {
	samples, f, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if f.Channels != 1 {
		return nil, fmt.Errorf("%w: clip has %d channels, want 1", ErrDecode, f.Channels)
	}
	return EncodeWAV(samples, f.SampleRate), nil
}
