// Package session runs one live practice conversation at a time: it wires a
// microphone to a live provider, plays the model's speech back, tracks vocal
// delivery metrics, and collects the finished turns.
//
// A [Controller] owns every resource of the session it runs. Starting a new
// session tears the previous one down first, and [Controller.Stop] is the
// single place where cleanup is guaranteed, however the session ended.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/vocal"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

const (
	defaultCaptureRate  = 16000
	defaultPlaybackRate = 24000
	defaultFrameSize    = 2048

	// defaultSendTimeout bounds a single outbound frame write.
	defaultSendTimeout = 2 * time.Second
)

// State is the controller state.
type State int

const (
	// StateIdle means no session is running and no result is waiting.
	StateIdle State = iota
	// StateActive means a session is running.
	StateActive
	// StateEnded means the connection is gone and a result waits for Stop.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Deps are the collaborators a Controller drives. Metrics may be nil, in
// which case [observe.DefaultMetrics] is used.
type Deps struct {
	Source   audio.Source
	Sink     audio.Sink
	Provider live.Provider
	Prompt   prompt.Builder
	Metrics  *observe.Metrics
}

// Config describes one session.
type Config struct {
	Persona prompt.Persona

	// Voice selects a provider voice. Empty uses the provider default.
	Voice string

	// CaptureRate is the microphone rate in Hz. Default 16000.
	CaptureRate int

	// PlaybackRate is the speaker rate in Hz. Default 24000.
	PlaybackRate int

	// FrameSize is the number of samples per capture frame. Default 2048.
	FrameSize int

	// InputDevice names the capture device. Empty selects the default.
	InputDevice string

	// SetupTimeout bounds the provider handshake. Zero uses the provider
	// default.
	SetupTimeout time.Duration

	// Vocal tunes the energy and pace analysis.
	Vocal vocal.Config
}

func (c Config) withDefaults() Config {
	if c.CaptureRate <= 0 {
		c.CaptureRate = defaultCaptureRate
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = defaultPlaybackRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = defaultFrameSize
	}
	return c
}

// Callbacks receive live notifications. All callbacks run on the session's
// run loop in event arrival order and must return promptly. They must not
// call [Controller.Start] or [Controller.Stop]; signal another goroutine
// instead. Nil callbacks are skipped.
type Callbacks struct {
	// OnTranscript receives every transcription delta.
	OnTranscript func(role turn.Role, delta string)

	// OnInterrupted fires when the user barges in on the model.
	OnInterrupted func()

	// OnClosed fires when the remote side ends the session cleanly.
	OnClosed func()

	// OnError fires once when the session fails. Resources are already
	// released when it runs.
	OnError func(err error)
}

// Result is what a finished session leaves behind.
type Result struct {
	// Transcript is the conversation as "Role: text" lines.
	Transcript string

	// Turns are the finalised turns in completion order.
	Turns []turn.Turn

	// Provider names the live backend the session ran against.
	Provider string
}

// Option configures a Controller.
type Option func(*Controller)

// WithSendTimeout bounds each outbound frame write. Default 2s.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Controller) { c.sendTimeout = d }
}

// WithClock sets the clock used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller runs one session at a time. It is safe for concurrent use.
type Controller struct {
	deps        Deps
	metrics     *observe.Metrics
	sendTimeout time.Duration
	now         func() time.Time

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	current *run
	sampler *vocal.Sampler
}

// New returns an idle Controller.
func New(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:        deps,
		metrics:     deps.Metrics,
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
		sampler:     vocal.NewSampler(vocal.Config{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// run holds the resources of one session.
type run struct {
	provider string
	cb       Callbacks
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	capture   audio.Capture
	output    audio.Output
	sess      live.Session
	sched     *playback.Scheduler
	agg       *turn.Aggregator
	resampler *audio.Resampler

	sendFailures int

	once  sync.Once
	turns []turn.Turn
}

// Start releases any previous session, opens the microphone and the speaker,
// connects to the live provider with the persona's instruction, and starts
// the run loop. On failure every resource acquired so far is released and
// the returned error is an [*Error].
func (c *Controller) Start(ctx context.Context, cfg Config, cb Callbacks) (err error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopLocked()

	cfg = cfg.withDefaults()
	ctx, span := observe.StartSpan(ctx, "session.start",
		trace.WithAttributes(attribute.String("provider", c.deps.Provider.Name())))
	defer span.End()

	sampler := vocal.NewSampler(cfg.Vocal)
	c.mu.Lock()
	c.sampler = sampler
	c.mu.Unlock()

	r := &run{
		provider:  c.deps.Provider.Name(),
		cb:        cb,
		done:      make(chan struct{}),
		resampler: &audio.Resampler{Target: cfg.CaptureRate},
	}
	defer func() {
		if err == nil {
			return
		}
		c.teardown(r)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordSessionError(ctx, KindOf(err).String())
	}()

	r.capture, err = c.deps.Source.Open(ctx, audio.CaptureConfig{
		SampleRate: cfg.CaptureRate,
		FrameSize:  cfg.FrameSize,
		Device:     cfg.InputDevice,
	})
	if err != nil {
		return classify("open capture", err)
	}
	r.output, err = c.deps.Sink.Open(ctx, cfg.PlaybackRate)
	if err != nil {
		return classify("open playback", err)
	}

	instructions, err := c.deps.Prompt.Build(cfg.Persona)
	if err != nil {
		return &Error{Kind: KindConfig, Op: "build instruction", Err: err}
	}

	connectStart := time.Now()
	r.sess, err = c.deps.Provider.Connect(ctx, live.Config{
		Instructions: instructions,
		Voice:        cfg.Voice,
		InputRate:    cfg.CaptureRate,
		OutputRate:   r.output.SampleRate(),
		SetupTimeout: cfg.SetupTimeout,
	})
	if err != nil {
		return classify("connect", err)
	}
	r.provider = live.ServedBy(c.deps.Provider, r.sess)
	span.SetAttributes(attribute.String("provider.served", r.provider))
	c.metrics.RecordConnect(ctx, r.provider, time.Since(connectStart))

	r.sched = playback.New(r.output)
	r.agg = turn.NewAggregator(cfg.CaptureRate, r.output.SampleRate(), turn.WithClock(c.now))
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.current = r
	c.state = StateActive
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("session started",
		"provider", r.provider,
		"capture_rate", cfg.CaptureRate,
		"playback_rate", r.output.SampleRate(),
	)
	go c.loop(r)
	return nil
}

// Stop ends the current session, if any, and returns its transcript and
// turns. Partial turns are flushed. Stop is safe in every state and from any
// goroutine except a callback.
func (c *Controller) Stop() Result {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() Result {
	c.mu.Lock()
	r := c.current
	c.current = nil
	c.mu.Unlock()
	if r == nil {
		c.setState(StateIdle)
		return Result{}
	}

	r.cancel()
	<-r.done
	c.teardown(r)

	c.mu.Lock()
	c.state = StateIdle
	c.sampler.Reset()
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("session stopped", "provider", r.provider, "turns", len(r.turns))
	return Result{
		Transcript: turn.FormatTranscript(r.turns),
		Turns:      r.turns,
		Provider:   r.provider,
	}
}

// State reports the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metrics returns the current energy and pace readings.
func (c *Controller) Metrics() vocal.Metrics {
	c.mu.Lock()
	s := c.sampler
	c.mu.Unlock()
	return s.Snapshot()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// teardown releases every resource of r and flushes its open turns. Only
// the first call has any effect.
func (c *Controller) teardown(r *run) {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.sess != nil {
			if err := r.sess.Close(); err != nil {
				slog.Warn("session: close live session", "err", err)
			}
		}
		if r.sched != nil {
			r.sched.Close()
		}
		if r.output != nil {
			if err := r.output.Close(); err != nil {
				slog.Warn("session: close playback", "err", err)
			}
		}
		if r.capture != nil {
			if err := r.capture.Close(); err != nil {
				slog.Warn("session: close capture", "err", err)
			}
		}
		if r.agg != nil {
			flushed := r.agg.Flush()
			c.recordTurns(flushed)
			r.turns = append(r.turns, flushed...)
		}
	})
}

// ── Run loop ──────────────────────────────────────────────────────────────────

// loop is the only goroutine that touches r's aggregator and scheduler
// queue while the session is active.
func (c *Controller) loop(r *run) {
	defer close(r.done)

	frames := r.capture.Frames()
	events := r.sess.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.fail(r, &Error{Kind: KindDeviceUnavailable, Op: "capture", Err: audio.ErrDeviceUnavailable})
				return
			}
			c.handleFrame(r, f)
		case ev, ok := <-events:
			if !ok {
				ev = live.Event{Kind: live.KindClosed}
			}
			if c.handleEvent(r, ev) {
				return
			}
		}
	}
}

func (c *Controller) handleFrame(r *run, f audio.Frame) {
	f = r.resampler.Frame(f)

	c.mu.Lock()
	sampler := c.sampler
	c.mu.Unlock()
	sampler.Observe(f)

	pcm := audio.FloatToPCM16(f.Samples)
	r.agg.AppendAudio(turn.RoleUser, pcm)

	ctx, cancel := context.WithTimeout(r.ctx, c.sendTimeout)
	err := r.sess.Send(ctx, audio.EncodeTransport(pcm, f.SampleRate))
	cancel()
	if err == nil || r.ctx.Err() != nil {
		return
	}
	r.sendFailures++
	c.metrics.SendFailures.Add(r.ctx, 1)
	if r.sendFailures == 1 || errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("session: send frame", "err", err, "failures", r.sendFailures)
	} else {
		slog.Debug("session: send frame", "err", err, "failures", r.sendFailures)
	}
}

// handleEvent dispatches one inbound event and reports whether the session
// has ended.
func (c *Controller) handleEvent(r *run, ev live.Event) bool {
	c.metrics.RecordLiveEvent(r.ctx, ev.Kind.String())

	switch ev.Kind {
	case live.KindAudio:
		c.handleAudio(r, ev)

	case live.KindInputTranscript:
		r.agg.AppendText(turn.RoleUser, ev.Text)
		if r.cb.OnTranscript != nil && ev.Text != "" {
			r.cb.OnTranscript(turn.RoleUser, ev.Text)
		}

	case live.KindOutputTranscript:
		r.agg.AppendText(turn.RoleModel, ev.Text)
		if r.cb.OnTranscript != nil && ev.Text != "" {
			r.cb.OnTranscript(turn.RoleModel, ev.Text)
		}

	case live.KindTurnComplete:
		completed := r.agg.Complete()
		c.recordTurns(completed)
		r.turns = append(r.turns, completed...)

	case live.KindInterrupted:
		r.sched.Interrupt()
		c.metrics.Interruptions.Add(r.ctx, 1)
		if r.cb.OnInterrupted != nil {
			r.cb.OnInterrupted()
		}

	case live.KindClosed:
		c.end(r)
		slog.Info("session closed by remote", "provider", r.provider)
		if r.cb.OnClosed != nil {
			r.cb.OnClosed()
		}
		return true

	case live.KindError:
		c.fail(r, classify("receive", ev.Err))
		return true

	default:
		slog.Debug("session: ignoring event", "kind", ev.Kind.String())
	}
	return false
}

func (c *Controller) handleAudio(r *run, ev live.Event) {
	pcm, err := audio.DecodeTransport(ev.Audio)
	if err != nil {
		c.metrics.DecodeErrors.Add(r.ctx, 1)
		slog.Warn("session: dropping model audio", "err", err)
		return
	}
	rate := r.output.SampleRate()
	if ev.SampleRate > 0 && ev.SampleRate != rate {
		pcm = audio.ResampleMono16(pcm, ev.SampleRate, rate)
	}
	r.agg.AppendAudio(turn.RoleModel, pcm)
	r.sched.Enqueue(audio.PCM16ToFloat(pcm))
}

// end releases r's resources and marks the session Ended. The result stays
// with r until Stop collects it.
func (c *Controller) end(r *run) {
	c.teardown(r)
	c.mu.Lock()
	if c.current == r {
		c.state = StateEnded
	}
	c.mu.Unlock()
}

// fail ends the session and reports err.
func (c *Controller) fail(r *run, err *Error) {
	c.end(r)
	c.metrics.RecordSessionError(context.Background(), err.Kind.String())
	slog.Error("session failed", "provider", r.provider, "kind", err.Kind.String(), "err", err)
	if r.cb.OnError != nil {
		r.cb.OnError(err)
	}
}

func (c *Controller) recordTurns(turns []turn.Turn) {
	for _, t := range turns {
		c.metrics.RecordTurn(context.Background(), string(t.Role))
	}
}
