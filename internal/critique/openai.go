package critique

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
)

const systemPrompt = `You are a communication coach reviewing a practice conversation.
The transcript alternates between "User" (the person practising) and "Model" (the AI playing their counterpart).
Judge only the User's turns.

Reply with a single JSON object and nothing else, using exactly this shape:
{
  "scores": {"clarity": 0-100, "confidence": 0-100, "persuasion": 0-100, "empathy": 0-100},
  "strengths": ["..."],
  "improvements": ["..."],
  "summary": "two or three sentences"
}
Give at most three strengths and three improvements. Quote the user where it helps.`

// OpenAI is a Critic backed by an OpenAI chat model. Calls go through a
// circuit breaker so a failing backend is not hammered after every session.
type OpenAI struct {
	client  oai.Client
	model   string
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

var _ Critic = (*OpenAI)(nil)

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	metrics    *observe.Metrics
	breaker    resilience.CircuitBreakerConfig
}

// Option configures an OpenAI critic.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request. Default 2.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithMetrics records critique latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithBreaker tunes the circuit breaker.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = cfg }
}

// NewOpenAI returns an OpenAI critic for model.
func NewOpenAI(apiKey, model string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("critique: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("critique: model must not be empty")
	}

	cfg := &config{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	if cfg.breaker.Name == "" {
		cfg.breaker.Name = "critique-openai"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &OpenAI{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		breaker: resilience.NewCircuitBreaker(cfg.breaker),
		metrics: cfg.metrics,
	}, nil
}

// Critique implements [Critic].
func (o *OpenAI) Critique(ctx context.Context, transcript string) (*Critique, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	ctx, span := observe.StartSpan(ctx, "critique.openai")
	defer span.End()
	start := time.Now()
	defer func() { o.metrics.CritiqueDuration.Record(ctx, time.Since(start).Seconds()) }()

	var out *Critique
	err := o.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := o.client.Chat.Completions.New(ctx, o.params(transcript))
		if err != nil {
			return fmt.Errorf("critique: chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("critique: empty choices in response")
		}
		msg := resp.Choices[0].Message
		if msg.Refusal != "" {
			return fmt.Errorf("critique: refused: %s", msg.Refusal)
		}
		out, err = Parse(msg.Content)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out.Source = "openai:" + o.model
	return out, nil
}

func (o *OpenAI) params(transcript string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage("Transcript:\n" + transcript),
		},
		Temperature: param.NewOpt(0.2),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
}
