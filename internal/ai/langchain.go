package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/retry"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderOllama Provider = "ollama"
)

// Options configures the provider client. The client is constructed once at
// startup and injected; it owns no hidden global state.
type Options struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64

	// Timeout bounds one decision round trip. A hung provider must never
	// hang a worker.
	Timeout time.Duration
}

// LangchainDecider implements Decider over a langchaingo llms.Model.
type LangchainDecider struct {
	llm         llms.Model
	options     Options
	retryConfig retry.RetryConfig
}

// NewLangchainDecider creates a decider for the configured provider.
func NewLangchainDecider(ctx context.Context, options Options) (*LangchainDecider, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Float64("temperature", options.Temperature).
		Msg("Creating AI decision provider")

	switch options.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, openai.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderClaude:
		opts := []anthropic.Option{anthropic.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, anthropic.WithModel(options.Model))
		}
		model, err = anthropic.New(opts...)
	case ProviderGemini:
		opts := []googleai.Option{googleai.WithAPIKey(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(options.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderOllama:
		opts := []ollama.Option{}
		if options.Model != "" {
			opts = append(opts, ollama.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(options.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return &LangchainDecider{
		llm:         model,
		options:     options,
		retryConfig: retry.ProviderRetryConfig(),
	}, nil
}

// Decide asks the model for an action on the new message. The call carries
// a hard timeout and a bounded retry for transient provider failures; on
// exhaustion the last error is returned and the caller's job fails.
func (d *LangchainDecider) Decide(ctx context.Context, input DecisionInput) (*Decision, error) {
	if d.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.options.Timeout)
		defer cancel()
	}

	prompt := d.buildPrompt(input)

	var decision *Decision
	result := retry.RetryWithBackoff(ctx, d.retryConfig, func() error {
		raw, err := llms.GenerateFromSinglePrompt(ctx, d.llm, prompt,
			llms.WithTemperature(d.options.Temperature))
		if err != nil {
			return err
		}
		parsed, err := ParseDecision(raw)
		if err != nil {
			return err
		}
		decision = parsed
		return nil
	})
	if !result.Success {
		log.Error().
			Str("case_id", input.Case.ID).
			Int("attempts", result.Attempts).
			Err(result.LastError).
			Msg("AI decision failed")
		return nil, result.LastError
	}

	log.Debug().
		Str("case_id", input.Case.ID).
		Str("action", string(decision.Action)).
		Int("confidence", decision.Confidence).
		Msg("AI decision reached")
	return decision, nil
}

func (d *LangchainDecider) buildPrompt(input DecisionInput) string {
	var b strings.Builder

	b.WriteString("You are a customer support assistant for a helpdesk.\n")
	b.WriteString("Read the conversation and decide how to handle the newest customer message.\n\n")
	b.WriteString("Respond with a single JSON object:\n")
	b.WriteString(`{"action": "reply|escalate|auto_resolve|ignore", "content": "...", "confidence": 0-100, "escalation_reason": "...", "escalation_summary": "..."}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- auto_resolve when the customer expresses closure or gratitude with nothing left to answer.\n")
	b.WriteString("- ignore for pure acknowledgements needing no response.\n")
	b.WriteString("- escalate when a human is needed; give escalation_reason and escalation_summary.\n")
	b.WriteString("- reply otherwise; put the answer in content and rate your confidence honestly.\n\n")

	fmt.Fprintf(&b, "Case subject: %s\n", input.Case.Subject)
	fmt.Fprintf(&b, "Channel: %s\n", input.Case.Channel)
	if input.NewTopic {
		b.WriteString("Treat the newest message as the start of a new topic.\n")
	}
	b.WriteString("\nConversation so far:\n")
	for _, m := range input.History {
		if m.Visibility != conversation.VisibilityExternal {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Author.Type, m.Content)
	}
	b.WriteString("\nNewest customer message:\n")
	b.WriteString(input.NewMessage.Content)
	b.WriteString("\n")

	return b.String()
}
