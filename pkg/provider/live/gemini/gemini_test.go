package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup reads the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// collect drains the session's events until the channel closes.
func collect(t *testing.T, sess live.Session) []live.Event {
	t.Helper()
	var events []live.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timeout waiting for event stream to close; got %d events", len(events))
		}
	}
}

// ── Setup ─────────────────────────────────────────────────────────────────────

func TestConnect_SetupMessage(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	setupCh := make(chan setupMsg, 1)
	keyCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		setupCh <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.Config{
		Instructions: "You are a tough negotiator.",
		Voice:        "Kore",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if got := sess.State(); got != live.StateOpen {
		t.Errorf("State after Connect = %v, want open", got)
	}
	if key := <-keyCh; key != "secret" {
		t.Errorf("api key = %q, want secret", key)
	}

	msg := <-setupCh
	if msg.Setup.Model != "models/custom-model" {
		t.Errorf("model = %q, want models/custom-model", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
		t.Errorf("responseModalities = %v, want [audio]", got)
	}
	if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Kore" {
		t.Errorf("voice = %q, want Kore", got)
	}
	if parts := msg.Setup.SystemInstruction.Parts; len(parts) != 1 || parts[0].Text != "You are a tough negotiator." {
		t.Errorf("systemInstruction parts = %+v", parts)
	}
	if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
		t.Error("audio transcription not enabled in setup")
	}
}

func TestConnect_RemoteErrorBeforeSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code":    401,
			"message": "API key not valid",
			"status":  "UNAUTHENTICATED",
		}})
	})

	_, err := newProvider(srv).Connect(context.Background(), live.Config{})
	var remote *live.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Connect error = %v, want *live.RemoteError", err)
	}
	if remote.Code != 401 || remote.Status != "UNAUTHENTICATED" {
		t.Errorf("remote error = %+v", remote)
	}
}

func TestConnect_CloseBeforeSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusPolicyViolation, "quota exceeded")
	})

	_, err := newProvider(srv).Connect(context.Background(), live.Config{})
	var remote *live.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Connect error = %v, want *live.RemoteError", err)
	}
	if remote.Code != int(websocket.StatusPolicyViolation) || remote.Message != "quota exceeded" {
		t.Errorf("remote error = %+v", remote)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := gemini.New("key", gemini.WithBaseURL(url)).Connect(context.Background(), live.Config{})
	if !errors.Is(err, live.ErrConnection) {
		t.Fatalf("Connect error = %v, want ErrConnection", err)
	}
}

func TestConnect_SetupTimeout(t *testing.T) {
	t.Parallel()

	gotSetup := make(chan struct{}, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		// Read the setup frame but never acknowledge it. The next read
		// returns once the client gives up and closes.
		var setup map[string]any
		readJSON(t, conn, &setup)
		gotSetup <- struct{}{}
		_, _, _ = conn.Read(r.Context())
	})

	start := time.Now()
	_, err := newProvider(srv).Connect(context.Background(), live.Config{SetupTimeout: 100 * time.Millisecond})
	if !errors.Is(err, live.ErrConnection) {
		t.Fatalf("Connect error = %v, want ErrConnection", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect returned after %v, want close to the setup timeout", elapsed)
	}
	select {
	case <-gotSetup:
	default:
		t.Error("server never received the setup frame")
	}
}

// ── Outbound audio ────────────────────────────────────────────────────────────

func TestSend_RealtimeInput(t *testing.T) {
	t.Parallel()

	type realtimeMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	got := make(chan realtimeMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg realtimeMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newProvider(srv).Connect(context.Background(), live.Config{InputRate: 16000})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	chunk := audio.EncodeTransport([]int16{1, -1, 300}, 16000)
	if err := sess.Send(context.Background(), chunk); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-got:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("mediaChunks = %d, want 1", len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q", chunks[0].MIMEType)
		}
		if chunks[0].Data != chunk.Data {
			t.Errorf("data = %q, want %q", chunks[0].Data, chunk.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for realtimeInput")
	}
}

// ── Inbound events ────────────────────────────────────────────────────────────

func TestEvents_ServerContentOrder(t *testing.T) {
	t.Parallel()

	pcm := audio.EncodeTransport([]int16{5, 6, 7}, 24000)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "Hello there"},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcm.Data}},
			}},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Hi."},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeJSON(t, conn, map[string]any{"goAway": map[string]any{"timeLeft": "10s"}})
		// returning closes the socket normally
	})

	sess, err := newProvider(srv).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	events := collect(t, sess)
	want := []live.Kind{
		live.KindInputTranscript,
		live.KindAudio,
		live.KindOutputTranscript,
		live.KindInterrupted,
		live.KindTurnComplete,
		live.KindClosed,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(events), events, len(want))
	}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("event %d: kind %v, want %v", i, events[i].Kind, k)
		}
	}
	if events[0].Text != "Hello there" {
		t.Errorf("input transcript = %q", events[0].Text)
	}
	if events[1].Audio != pcm.Data || events[1].SampleRate != 24000 {
		t.Errorf("audio event = %+v", events[1])
	}
	if events[2].Text != "Hi." {
		t.Errorf("output transcript = %q", events[2].Text)
	}
	if sess.State() != live.StateClosed {
		t.Errorf("State = %v, want closed", sess.State())
	}
}

func TestEvents_RemoteErrorIsTerminal(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code": 500, "message": "internal", "status": "INTERNAL",
		}})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newProvider(srv).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	events := collect(t, sess)
	if len(events) != 1 || events[0].Kind != live.KindError {
		t.Fatalf("events = %+v, want one error event", events)
	}
	var remote *live.RemoteError
	if !errors.As(events[0].Err, &remote) || remote.Status != "INTERNAL" {
		t.Errorf("error = %v, want remote INTERNAL", events[0].Err)
	}
}

func TestEvents_AbnormalCloseIsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "backend crashed")
	})

	sess, err := newProvider(srv).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	events := collect(t, sess)
	if len(events) != 1 || events[0].Kind != live.KindError {
		t.Fatalf("events = %+v, want one error event", events)
	}
	var remote *live.RemoteError
	if !errors.As(events[0].Err, &remote) || remote.Message != "backend crashed" {
		t.Errorf("error = %v, want remote close reason", events[0].Err)
	}
}

func TestEvents_MalformedFrameSkipped(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
	})

	sess, err := newProvider(srv).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	events := collect(t, sess)
	if len(events) != 2 || events[0].Kind != live.KindTurnComplete || events[1].Kind != live.KindClosed {
		t.Errorf("events = %+v, want turn_complete then closed", events)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_LocalEmitsClosed(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newProvider(srv).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	events := collect(t, sess)
	if len(events) != 1 || events[0].Kind != live.KindClosed {
		t.Errorf("events = %+v, want one closed event", events)
	}

	err = sess.Send(context.Background(), audio.EncodeTransport([]int16{1}, 16000))
	if !errors.Is(err, live.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}
