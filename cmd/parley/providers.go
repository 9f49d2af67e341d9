package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/history"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/parley/pkg/provider/live/openai"
)

const (
	defaultCritiqueModel   = "gpt-4o-mini"
	defaultCritiqueTimeout = 60 * time.Second
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live backends and critics that ship
// with parley into reg.
func registerBuiltinProviders(reg *config.Registry, m *observe.Metrics) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []oailive.Option
		if entry.Model != "" {
			opts = append(opts, oailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oailive.WithBaseURL(entry.BaseURL))
		}
		return oailive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterCritic("openai", func(cfg config.CritiqueConfig) (critique.Critic, error) {
		model := cfg.Model
		if model == "" {
			model = defaultCritiqueModel
		}
		opts := []critique.Option{critique.WithMetrics(m)}
		if cfg.BaseURL != "" {
			opts = append(opts, critique.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, critique.WithTimeout(cfg.Timeout))
		}
		return critique.NewOpenAI(cfg.APIKey, model, opts...)
	})

	reg.RegisterCritic("heuristic", func(config.CritiqueConfig) (critique.Critic, error) {
		return critique.Heuristic{}, nil
	})

	for _, name := range reg.LiveNames() {
		slog.Debug("registered provider", "kind", "live", "name", name)
	}
}

// buildLive instantiates every configured live backend and chains them in
// configured order.
func buildLive(cfg *config.Config, reg *config.Registry) (live.Provider, error) {
	var chain *resilience.LiveFallback
	for _, entry := range cfg.Live.Providers {
		p, err := reg.CreateLive(entry)
		if err != nil {
			return nil, fmt.Errorf("create live provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "live", "name", entry.Name, "model", entry.Model)
		if chain == nil {
			chain = resilience.NewLiveFallback(p, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute},
			})
			continue
		}
		chain.AddFallback(p)
	}
	if chain == nil {
		return nil, errors.New("no live provider configured")
	}
	return chain, nil
}

// buildCritic returns the configured critic backed by the offline heuristic.
func buildCritic(cfg *config.Config, reg *config.Registry) (critique.Critic, error) {
	name := cfg.Critique.Name
	if name == "" || name == "heuristic" {
		return critique.Heuristic{}, nil
	}
	primary, err := reg.CreateCritic(cfg.Critique)
	if err != nil {
		return nil, fmt.Errorf("create critic %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "critique", "name", name)
	return critique.NewFallback(primary, name, resilience.FallbackConfig{}).
		Add("heuristic", critique.Heuristic{}), nil
}

// openHistory returns the configured store, or nil when history is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch {
	case cfg.PostgresDSN != "":
		pg, err := history.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		slog.Info("history store opened", "backend", "postgres")
		return pg, nil
	case cfg.Dir != "":
		d, err := history.NewDir(cfg.Dir)
		if err != nil {
			return nil, err
		}
		slog.Info("history store opened", "backend", "dir", "path", cfg.Dir)
		return d, nil
	default:
		return nil, nil
	}
}
