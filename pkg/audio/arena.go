package audio

// DefaultBlockSize is the number of samples per [Arena] block.
const DefaultBlockSize = 16384

// maxFreeBlocks bounds how many blocks a reset Arena keeps for reuse.
const maxFreeBlocks = 64

// Arena accumulates int16 samples in fixed-size blocks so that long turns
// grow without reallocating and copying what was already recorded.
//
// An Arena is not safe for concurrent use.
type Arena struct {
	blockSize int
	blocks    [][]int16
	free      [][]int16
	n         int
}

// NewArena returns an empty Arena. A non-positive blockSize selects
// [DefaultBlockSize].
func NewArena(blockSize int) *Arena {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Arena{blockSize: blockSize}
}

// Append copies samples onto the end of the arena.
func (a *Arena) Append(samples []int16) {
	for len(samples) > 0 {
		if len(a.blocks) == 0 || len(a.blocks[len(a.blocks)-1]) == a.blockSize {
			a.blocks = append(a.blocks, a.newBlock())
		}
		last := len(a.blocks) - 1
		block := a.blocks[last]
		k := min(a.blockSize-len(block), len(samples))
		a.blocks[last] = append(block, samples[:k]...)
		samples = samples[k:]
		a.n += k
	}
}

// Len returns the number of samples stored.
func (a *Arena) Len() int { return a.n }

// Samples returns a contiguous copy of every stored sample.
func (a *Arena) Samples() []int16 {
	out := make([]int16, 0, a.n)
	for _, b := range a.blocks {
		out = append(out, b...)
	}
	return out
}

// Clip encodes the stored samples as a mono 16-bit WAV clip at rate Hz
// without an intermediate contiguous copy.
func (a *Arena) Clip(rate int) *Clip {
	return encodeWAVBlocks(a.blocks, a.n, rate)
}

// Reset empties the arena and keeps up to a bounded number of blocks for reuse.
func (a *Arena) Reset() {
	for _, b := range a.blocks {
		if len(a.free) >= maxFreeBlocks {
			break
		}
		a.free = append(a.free, b[:0])
	}
	clear(a.blocks)
	a.blocks = a.blocks[:0]
	a.n = 0
}

func (a *Arena) newBlock() []int16 {
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		return b
	}
	return make([]int16, 0, a.blockSize)
}
