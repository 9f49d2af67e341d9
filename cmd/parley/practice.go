package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/history"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/vocal"
	"github.com/MrWong99/parley/pkg/audio/device"
)

const saveTimeout = 30 * time.Second

type practiceOpts struct {
	repeat        bool
	duration      time.Duration
	noCritique    bool
	meterInterval time.Duration
}

func newPracticeCmd(g *globals) *cobra.Command {
	opts := practiceOpts{}
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Run a live practice session against the configured persona",
		Long: `Connects the microphone and speaker to the live voice model, plays the
configured persona, and prints the transcript as it happens. Press Enter to
finish the session. The conversation is then critiqued and stored in history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load(); err != nil {
				return err
			}
			return runPractice(cmd.Context(), g, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.repeat, "repeat", false, "offer another round after each session; config edits apply between rounds")
	f.DurationVar(&opts.duration, "duration", 0, "end each session after this long (0 waits for Enter)")
	f.BoolVar(&opts.noCritique, "no-critique", false, "skip the critique after the session")
	f.DurationVar(&opts.meterInterval, "meter-interval", 5*time.Second, "how often to log energy and pace (0 disables)")
	return cmd
}

// practice holds what outlives a single round.
type practice struct {
	g       *globals
	opts    practiceOpts
	tel     *observe.Telemetry
	reg     *config.Registry
	store   history.Store
	console *console
	lines   <-chan string

	current atomic.Pointer[session.Controller]
}

// sessionStatus is the /status payload.
type sessionStatus struct {
	State     string  `json:"state"`
	Energy    float64 `json:"energy"`
	Pace      int     `json:"pace"`
	PerMinute float64 `json:"pace_per_minute"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

func (p *practice) status() any {
	c := p.current.Load()
	if c == nil {
		return sessionStatus{State: session.StateIdle.String()}
	}
	m := c.Metrics()
	return sessionStatus{
		State:     c.State().String(),
		Energy:    m.Energy,
		Pace:      m.Pace,
		PerMinute: m.PerMinute(),
		ElapsedMS: m.Elapsed.Milliseconds(),
	}
}

func runPractice(ctx context.Context, g *globals, opts practiceOpts, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second Ctrl+C terminates immediately.
		<-ctx.Done()
		stop()
	}()

	tel, err := observe.Init(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	p := &practice{
		g:       g,
		opts:    opts,
		tel:     tel,
		reg:     config.NewRegistry(),
		console: newConsole(out),
		lines:   readLines(in),
	}
	registerBuiltinProviders(p.reg, tel.Metrics)

	p.store, err = openHistory(ctx, g.cfg.History)
	if err != nil {
		return err
	}
	if p.store != nil {
		defer p.store.Close()
	}

	watcher, err := config.NewWatcher(g.configPath, config.WithOnChange(func(_, _ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged && g.logLevel == "" {
			g.level.Set(slogLevel(d.NewLogLevel))
		}
		if d.PersonaChanged || d.LiveChanged || d.AudioChanged || d.MetricsChanged {
			slog.Info("config changed; applies to the next session")
		}
	}))
	if err != nil {
		return err
	}

	bg, bgCancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(bg)
	if opts.repeat {
		eg.Go(func() error { return watcher.Run(egCtx) })
	}
	if addr := g.cfg.Server.ListenAddr; addr != "" {
		srv, err := newStatusServer(addr, tel, p.healthHandler())
		if err != nil {
			bgCancel()
			return err
		}
		eg.Go(func() error { return srv.Run(egCtx) })
	}

	runErr := p.rounds(ctx, watcher)

	bgCancel()
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("background task failed", "err", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (p *practice) healthHandler() *health.Handler {
	opts := []health.Option{health.WithStatus(p.status)}
	if pg, ok := p.store.(*history.Postgres); ok {
		opts = append(opts, health.WithChecker("postgres", pg.Ping))
	}
	return health.New(opts...)
}

// rounds runs sessions until the user declines another one.
func (p *practice) rounds(ctx context.Context, watcher *config.Watcher) error {
	cfg := p.g.cfg
	for {
		if err := p.round(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !p.opts.repeat {
				return err
			}
			p.console.printf("Session failed (%s): %v\n", session.KindOf(err), err)
		}
		if !p.opts.repeat || ctx.Err() != nil {
			return nil
		}

		p.console.printf("Press Enter for another round, or type q to quit.\n")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-p.lines:
			if !ok || strings.EqualFold(strings.TrimSpace(line), "q") {
				return nil
			}
		}
		cfg = watcher.Current()
	}
}

// round runs one session from connect to stored critique.
func (p *practice) round(ctx context.Context, cfg *config.Config) error {
	provider, err := buildLive(cfg, p.reg)
	if err != nil {
		return err
	}
	builder, err := prompt.NewTemplateBuilder(cfg.Practice.Template)
	if err != nil {
		return err
	}

	ctrl := session.New(session.Deps{
		Source:   device.NewSource(),
		Sink:     device.NewSink(cfg.Audio.OutputDevice),
		Provider: provider,
		Prompt:   builder,
		Metrics:  p.tel.Metrics,
	})
	p.current.Store(ctrl)
	defer p.current.Store(nil)

	ended := make(chan error, 1)
	notify := func(err error) {
		select {
		case ended <- err:
		default:
		}
	}
	cb := session.Callbacks{
		OnTranscript:  p.console.transcript,
		OnInterrupted: p.console.interrupted,
		OnClosed:      func() { notify(nil) },
		OnError:       notify,
	}

	persona := cfg.Practice.Persona
	p.console.printf("Connecting to %s...\n", provider.Name())
	startedAt := time.Now()
	if err := ctrl.Start(ctx, sessionConfig(cfg), cb); err != nil {
		return err
	}
	p.console.printf("You are talking to %s, %s. Press Enter to finish.\n", persona.Name, persona.Role)

	sessErr := p.await(ctx, ctrl, ended)

	// Stop resets the sampler, so read the metrics first.
	metrics := ctrl.Metrics()
	res := ctrl.Stop()
	endedAt := time.Now()
	p.console.printf("Session ended after %s.\n", endedAt.Sub(startedAt).Round(time.Second))

	rec := history.NewRecord(startedAt, endedAt)
	rec.Provider = res.Provider
	rec.Persona = persona
	rec.Transcript = res.Transcript
	rec.Turns = res.Turns
	rec.Vocal = metrics

	// Ctrl+C ends the session; the critique and save still run.
	after := context.WithoutCancel(ctx)
	if !p.opts.noCritique {
		rec.Critique = p.critique(after, cfg, res.Transcript)
	}
	p.console.report(metrics, rec.Critique)

	if p.store != nil && len(rec.Turns) > 0 {
		saveCtx, cancel := context.WithTimeout(after, saveTimeout)
		defer cancel()
		if err := p.store.Save(saveCtx, rec); err != nil {
			slog.Error("failed to save session", "id", rec.ID, "err", err)
		} else {
			p.console.printf("Saved as %s\n", rec.ID)
		}
	}
	return sessErr
}

// await blocks until the user finishes the session, the session ends on its
// own, the duration elapses, or ctx is cancelled.
func (p *practice) await(ctx context.Context, ctrl *session.Controller, ended <-chan error) error {
	var deadline <-chan time.Time
	if p.opts.duration > 0 {
		t := time.NewTimer(p.opts.duration)
		defer t.Stop()
		deadline = t.C
	}
	var meter <-chan time.Time
	if p.opts.meterInterval > 0 {
		t := time.NewTicker(p.opts.meterInterval)
		defer t.Stop()
		meter = t.C
	}

	lines := p.lines
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ended:
			return err
		case <-deadline:
			return nil
		case _, ok := <-lines:
			if ok {
				return nil
			}
			// Stdin closed; only a signal or the session itself can end it now.
			lines = nil
		case <-meter:
			m := ctrl.Metrics()
			slog.Info("delivery",
				"energy", fmt.Sprintf("%.2f", m.Energy),
				"pace", m.Pace,
				"per_minute", fmt.Sprintf("%.0f", m.PerMinute()),
			)
		}
	}
}

func (p *practice) critique(ctx context.Context, cfg *config.Config, transcript string) *critique.Critique {
	if strings.TrimSpace(transcript) == "" {
		p.console.printf("Nothing was said, so there is nothing to critique.\n")
		return nil
	}
	critic, err := buildCritic(cfg, p.reg)
	if err != nil {
		slog.Warn("critic unavailable", "err", err)
		return nil
	}
	timeout := cfg.Critique.Timeout
	if timeout <= 0 {
		timeout = defaultCritiqueTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.console.printf("Critiquing...\n")
	c, err := critic.Critique(ctx, transcript)
	if err != nil {
		slog.Warn("critique failed", "err", err)
		return nil
	}
	return c
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Persona:      cfg.Practice.Persona,
		Voice:        cfg.Live.Voice,
		CaptureRate:  cfg.Audio.CaptureRate,
		PlaybackRate: cfg.Audio.PlaybackRate,
		FrameSize:    cfg.Audio.FrameSize,
		InputDevice:  cfg.Audio.InputDevice,
		SetupTimeout: cfg.Live.SetupTimeout,
		Vocal: vocal.Config{
			FFTSize:       cfg.Metrics.FFTSize,
			PeakThreshold: cfg.Metrics.PeakThreshold,
			Refractory:    cfg.Metrics.Refractory,
		},
	}
}

// readLines forwards stdin lines until EOF, then closes the channel.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
