// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16 at 24 kHz in both directions; input
// chunks at other rates are resampled before they are appended.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	// Name is the registry name of this provider.
	Name = "openai-realtime"

	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// wireRate is the only PCM16 rate the Realtime API accepts and emits.
	wireRate = 24000

	transcriptionModel = "whisper-1"

	eventBuffer = 64
	readLimit   = 8 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "openai-realtime".
func (p *Provider) Name() string { return Name }

// Connect dials the Realtime endpoint, sends session.update, and waits for
// the matching session.updated before returning an Open session.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	stream := live.NewStream(eventBuffer)
	stream.SetState(live.StateConnecting)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w: %w", live.ErrConnection, err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		stream: stream,
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(ctx, cfg); err != nil {
		sess.shutdown(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w: %w", live.ErrConnection, err)
	}

	setupCtx, cancelSetup := context.WithTimeout(ctx, cfg.EffectiveSetupTimeout())
	defer cancelSetup()
	if err := sess.awaitSessionUpdated(setupCtx); err != nil {
		sess.shutdown(websocket.StatusPolicyViolation, "session update not acknowledged")
		return nil, err
	}

	stream.SetState(live.StateOpen)
	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection `json:"turn_detection,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

func (d *serverErrorDetail) remote() *live.RemoteError {
	status := d.Code
	if status == "" {
		status = d.Type
	}
	msg := d.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &live.RemoteError{Status: status, Message: msg}
}

// fatal reports whether an error event ends the session. Invalid requests,
// such as cancelling a response that already finished, are recoverable.
func (d *serverErrorDetail) fatal() bool {
	return d.Type != "invalid_request_error"
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	stream *live.Stream

	// responding is set between response.created and response.done and
	// distinguishes a barge-in from the user simply starting to speak.
	responding atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, transcription and audio
// formats.
func (s *session) sendSessionUpdate(ctx context.Context, cfg live.Config) error {
	params := sessionParams{
		Modalities:              []string{"audio", "text"},
		Voice:                   cfg.Voice,
		Instructions:            cfg.Instructions,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcription{Model: transcriptionModel},
		TurnDetection:           &turnDetection{Type: "server_vad"},
	}
	return s.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params})
}

// awaitSessionUpdated reads until session.updated. session.created, which
// the server sends on connect, is skipped.
func (s *session) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return live.SetupFailure("openai", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed setup event", "err", err)
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			if evt.Error == nil {
				return &live.RemoteError{Message: "unknown error"}
			}
			return evt.Error.remote()
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and emits them. It is the only
// goroutine that emits, and it always delivers the terminal event.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.stream.Finish(s.ctx, live.ReadFailure("openai", s.ctx.Err() != nil, err))
			s.shutdown(websocket.StatusNormalClosure, "")
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed event", "err", err)
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent translates one Realtime event. It returns false once the
// stream has ended.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.created":
		s.responding.Store(true)

	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.stream.Emit(s.ctx, live.Event{Kind: live.KindAudio, Audio: evt.Delta, SampleRate: wireRate})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return true
		}
		return s.stream.Emit(s.ctx, live.Event{Kind: live.KindOutputTranscript, Text: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		return s.stream.Emit(s.ctx, live.Event{Kind: live.KindInputTranscript, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		// Server VAD cancels the in-flight response on its own.
		if s.responding.Swap(false) {
			return s.stream.Emit(s.ctx, live.Event{Kind: live.KindInterrupted})
		}

	case "response.done":
		s.responding.Store(false)
		return s.stream.Emit(s.ctx, live.Event{Kind: live.KindTurnComplete})

	case "error":
		detail := evt.Error
		if detail == nil {
			detail = &serverErrorDetail{}
		}
		if !detail.fatal() {
			slog.Warn("openai: request rejected", "code", detail.Code, "message", detail.Message)
			return true
		}
		s.stream.Finish(s.ctx, live.Event{Kind: live.KindError, Err: detail.remote()})
		s.shutdown(websocket.StatusNormalClosure, "remote error")
		return false
	}
	return true
}

// shutdown cancels the session context and closes the socket. Idempotent.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.stream.SetState(live.StateClosed)
		s.cancel()
		s.conn.Close(code, reason)
	})
}

// ── live.Session methods ───────────────────────────────────────────────────────

// Send appends one chunk to the input audio buffer, resampling to 24 kHz
// when the chunk was recorded at another rate.
func (s *session) Send(ctx context.Context, chunk audio.TransportChunk) error {
	if s.stream.State() != live.StateOpen {
		return fmt.Errorf("openai: send: %w", live.ErrClosed)
	}

	payload := chunk.Data
	if rate := audio.RateFromMIME(chunk.MIMEType); rate != 0 && rate != wireRate {
		pcm, err := audio.DecodeTransport(chunk.Data)
		if err != nil {
			return fmt.Errorf("openai: send: %w", err)
		}
		payload = audio.EncodeTransport(audio.ResampleMono16(pcm, rate, wireRate), wireRate).Data
	}

	if err := s.writeJSON(ctx, appendAudioMessage{Type: "input_audio_buffer.append", Audio: payload}); err != nil {
		if s.stream.State() != live.StateOpen {
			return fmt.Errorf("openai: send: %w", live.ErrClosed)
		}
		return fmt.Errorf("openai: send: %w: %w", live.ErrConnection, err)
	}
	return nil
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan live.Event { return s.stream.Events() }

// State reports the connection state.
func (s *session) State() live.State { return s.stream.State() }

// Close terminates the session. The receive loop emits KindClosed. Idempotent.
func (s *session) Close() error {
	s.shutdown(websocket.StatusNormalClosure, "session closed")
	return nil
}
