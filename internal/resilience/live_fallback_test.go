package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
)

func TestLiveFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &livemock.Provider{ProviderName: "gemini-live"}
	secondary := &livemock.Provider{ProviderName: "openai-realtime"}

	fb := NewLiveFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	sess, err := fb.Connect(context.Background(), live.Config{Instructions: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served, ok := sess.(*servedSession); !ok || served.Session != primary.Last() {
		t.Error("session did not come from the primary")
	}
	if got := live.ServedBy(fb, sess); got != "gemini-live" {
		t.Errorf("ServedBy = %q, want gemini-live", got)
	}
	if len(secondary.ConnectCalls) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.ConnectCalls))
	}
	if got := fb.Name(); got != "gemini-live|openai-realtime" {
		t.Errorf("Name = %q", got)
	}
}

func TestLiveFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &livemock.Provider{
		ProviderName: "gemini-live",
		ConnectErr:   fmt.Errorf("gemini: dial: %w", live.ErrConnection),
	}
	secondary := &livemock.Provider{ProviderName: "openai-realtime"}

	fb := NewLiveFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	sess, err := fb.Connect(context.Background(), live.Config{Instructions: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served, ok := sess.(*servedSession); !ok || served.Session != secondary.Last() {
		t.Error("session did not come from the fallback")
	}
	if got := live.ServedBy(fb, sess); got != "openai-realtime" {
		t.Errorf("ServedBy = %q, want openai-realtime", got)
	}

	// The wrapper still drives the backend session.
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if secondary.Last().CloseCalls() != 1 {
		t.Errorf("fallback session CloseCalls = %d, want 1", secondary.Last().CloseCalls())
	}
	if got := secondary.ConnectCalls[0].Cfg.Instructions; got != "hi" {
		t.Errorf("fallback Instructions = %q", got)
	}
}

func TestLiveFallback_AllFailKeepsCause(t *testing.T) {
	t.Parallel()
	primary := &livemock.Provider{
		ProviderName: "gemini-live",
		ConnectErr:   fmt.Errorf("gemini: dial: %w", live.ErrConnection),
	}
	secondary := &livemock.Provider{
		ProviderName: "openai-realtime",
		ConnectErr:   &live.RemoteError{Code: 1008, Message: "invalid api key"},
	}

	fb := NewLiveFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	_, err := fb.Connect(context.Background(), live.Config{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var remote *live.RemoteError
	if !errors.As(err, &remote) || remote.Code != 1008 {
		t.Fatalf("errors.As RemoteError failed for %v", err)
	}
}
