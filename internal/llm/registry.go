package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedModel is returned when no provider claims the model name.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrMissingCredential is returned when the selected provider has no
	// configured API key. Surfaced before any network call is made.
	ErrMissingCredential = errors.New("missing provider credential")
)

const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
)

// modelPrefixes maps model-name prefixes to providers. Longest-prefix
// semantics are not needed; the first match wins.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"gpt", providerOpenAI},
	{"o1", providerOpenAI},
	{"claude", providerAnthropic},
}

// Factory constructs provider clients from a model name. Credentials are an
// explicit field per provider; there is no dynamic lookup.
type Factory struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
}

// ClientFor returns a client for the given model name, selecting the
// provider by prefix match. A model without a configured credential is a
// configuration error, reported before any network call.
func (f *Factory) ClientFor(model string) (Client, error) {
	provider := ""
	for _, entry := range modelPrefixes {
		if strings.HasPrefix(model, entry.prefix) {
			provider = entry.provider
			break
		}
	}

	switch provider {
	case providerOpenAI:
		if f.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrMissingCredential)
		}
		return NewOpenAIClient(f.OpenAIBaseURL, f.OpenAIAPIKey, model), nil
	case providerAnthropic:
		if f.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: Anthropic API key not configured", ErrMissingCredential)
		}
		return NewAnthropicClient(f.AnthropicBaseURL, f.AnthropicAPIKey, model), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}
}
