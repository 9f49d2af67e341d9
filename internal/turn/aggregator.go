package turn

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// seq disambiguates turn IDs created within the same nanosecond.
var seq atomic.Uint64

// pending is the open turn of one role.
type pending struct {
	samples *audio.Arena
	text    strings.Builder
	rate    int
	// opened orders roles by first arrival; 0 means the turn is empty.
	opened uint64
}

func (p *pending) empty() bool {
	return p.samples.Len() == 0 && p.text.Len() == 0
}

func (p *pending) reset() {
	p.samples.Reset()
	p.text.Reset()
	p.opened = 0
}

// Aggregator accumulates fragments per role between turn boundaries. It holds
// at most one open turn per role.
//
// An Aggregator is not safe for concurrent use; the session run loop owns it.
type Aggregator struct {
	user  pending
	model pending
	clock uint64
	now   func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used for turn IDs and timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithBlockSize sets the arena block size in samples.
func WithBlockSize(n int) Option {
	return func(a *Aggregator) {
		a.user.samples = audio.NewArena(n)
		a.model.samples = audio.NewArena(n)
	}
}

// NewAggregator returns an Aggregator that records user audio at userRate and
// model audio at modelRate.
func NewAggregator(userRate, modelRate int, opts ...Option) *Aggregator {
	a := &Aggregator{
		user:  pending{samples: audio.NewArena(0), rate: userRate},
		model: pending{samples: audio.NewArena(0), rate: modelRate},
		now:   time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Aggregator) turn(role Role) *pending {
	if role == RoleModel {
		return &a.model
	}
	return &a.user
}

func (a *Aggregator) touch(p *pending) {
	if p.opened == 0 {
		a.clock++
		p.opened = a.clock
	}
}

// AppendAudio adds samples to role's open turn.
func (a *Aggregator) AppendAudio(role Role, samples []int16) {
	if len(samples) == 0 {
		return
	}
	p := a.turn(role)
	a.touch(p)
	p.samples.Append(samples)
}

// AppendText adds a transcript fragment to role's open turn.
func (a *Aggregator) AppendText(role Role, delta string) {
	if delta == "" {
		return
	}
	p := a.turn(role)
	a.touch(p)
	p.text.WriteString(delta)
}

// Pending reports the buffered sample count and text of role's open turn.
func (a *Aggregator) Pending(role Role) (samples int, text string) {
	p := a.turn(role)
	return p.samples.Len(), p.text.String()
}

// Complete closes the open turns at a model turn boundary. Only roles with
// transcript text produce a turn; a role with audio but no text keeps
// accumulating. Turns are returned in the order their roles started speaking.
// A boundary with nothing to emit returns nil.
func (a *Aggregator) Complete() []Turn {
	return a.emit(func(p *pending) bool { return p.text.Len() > 0 })
}

// Flush closes every open turn that has text or audio, for use at session end.
func (a *Aggregator) Flush() []Turn {
	return a.emit(func(p *pending) bool { return !p.empty() })
}

// Reset discards all open turns.
func (a *Aggregator) Reset() {
	a.user.reset()
	a.model.reset()
}

func (a *Aggregator) emit(ready func(*pending) bool) []Turn {
	type candidate struct {
		role Role
		p    *pending
	}
	order := []candidate{{RoleUser, &a.user}, {RoleModel, &a.model}}
	if a.model.opened != 0 && (a.user.opened == 0 || a.model.opened < a.user.opened) {
		order[0], order[1] = order[1], order[0]
	}

	var turns []Turn
	for _, c := range order {
		if !ready(c.p) {
			continue
		}
		turns = append(turns, a.close(c.role, c.p))
	}
	return turns
}

func (a *Aggregator) close(role Role, p *pending) Turn {
	now := a.now()
	t := Turn{
		ID:   fmt.Sprintf("%s-%d-%d", role, now.UnixNano(), seq.Add(1)),
		Role: role,
		Text: p.text.String(),
		At:   now,
	}
	if p.samples.Len() > 0 {
		t.Audio = p.samples.Clip(p.rate)
	}
	p.reset()
	return t
}
