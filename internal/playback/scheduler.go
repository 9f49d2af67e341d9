// Package playback queues decoded model speech on an audio output so that
// consecutive chunks play back to back, and cuts all of it off at once when
// the user barges in.
package playback

import (
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Scheduler places chunks on an [audio.Output] clock.
//
// The cursor is the output sample at which the next chunk starts. Enqueue
// starts each chunk at max(cursor, now), so chunks never overlap, never start
// in the past, and abut exactly when audio arrives faster than it plays.
// Counting samples rather than durations keeps long runs of odd-sized
// chunks from drifting.
//
// A Scheduler is safe for concurrent use; voice end callbacks arrive on the
// output's rendering goroutine.
type Scheduler struct {
	out audio.Output

	mu     sync.Mutex
	cursor int64
	active map[uint64]audio.Voice
	next   uint64
}

// New returns a Scheduler for out with an empty queue.
func New(out audio.Output) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[uint64]audio.Voice),
	}
}

// Enqueue schedules samples after everything already queued and returns the
// clock position the chunk starts at. Empty chunks are ignored.
func (s *Scheduler) Enqueue(samples []float32) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.cursor, s.index(s.out.Now()))
	startAt := s.at(start)
	if len(samples) == 0 {
		return startAt
	}

	id := s.next
	s.next++
	s.active[id] = s.out.Schedule(samples, startAt, func() { s.ended(id) })
	s.cursor = start + int64(len(samples))
	return startAt
}

// Interrupt stops every queued or playing chunk and rewinds the cursor, so
// the next chunk starts immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.active {
		v.Stop()
		delete(s.active, id)
	}
	s.cursor = 0
}

// Active returns the number of chunks that are queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the clock position at which the next chunk would start if
// the clock stood still.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at(s.cursor)
}

// Pending returns how much queued audio has not played yet.
func (s *Scheduler) Pending() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(0, s.at(s.cursor)-s.out.Now())
}

// Close stops all chunks. The output itself is left open.
func (s *Scheduler) Close() {
	s.Interrupt()
}

// index rounds d to the nearest output sample, the way the output clock does.
func (s *Scheduler) index(d time.Duration) int64 {
	rate := int64(s.out.SampleRate())
	if rate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*rate + int64(time.Second)/2) / int64(time.Second)
}

func (s *Scheduler) at(n int64) time.Duration {
	rate := int64(s.out.SampleRate())
	if rate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / rate)
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
