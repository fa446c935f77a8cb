package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scopesignal/internal/resilience"
	"github.com/sells-group/scopesignal/pkg/anthropic"
)

// Completer is the external language model: it takes a prompt and returns
// raw text with no guarantee about its shape.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	// ModelInfo identifies the backing model, for proofs and fingerprints.
	ModelInfo() string
}

// AnthropicConfig configures AnthropicCompleter.
type AnthropicConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// AnthropicCompleter adapts an anthropic.Client to Completer. The system
// prompt is sent as a cached block since it never varies.
type AnthropicCompleter struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicCompleter creates a Completer backed by client.
func NewAnthropicCompleter(client anthropic.Client, cfg AnthropicConfig) *AnthropicCompleter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &AnthropicCompleter{client: client, cfg: cfg}
}

// ModelInfo returns "anthropic/<model>".
func (c *AnthropicCompleter) ModelInfo() string {
	return "anthropic/" + c.cfg.Model
}

// Complete sends p and returns the concatenated text of the response.
// Rate limits and 5xx responses come back as *resilience.TransientError.
func (c *AnthropicCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	temp := c.cfg.Temperature
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(p.System, ""),
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	})
	if err != nil {
		if code, ok := anthropic.StatusCode(err); ok && resilience.IsTransientHTTPStatus(code) {
			return "", resilience.NewTransientError(err, code)
		}
		return "", err
	}
	resp.Usage.LogCost(c.cfg.Model, "classify")
	if resp.StopReason == "max_tokens" {
		return "", eris.Errorf("classify: response truncated at %d tokens", c.cfg.MaxTokens)
	}
	return resp.Text(), nil
}
