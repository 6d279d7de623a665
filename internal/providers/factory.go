package providers

import (
	"fmt"
	"os"

	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// New returns a provider-backed model. Recognized providers are "openai",
// "anthropic", and OpenAI-compatible endpoints selected via BaseURL.
func New(provider string, opts Options) (model.Model, error) {
	switch provider {
	case "openai", "":
		return NewOpenAI(opts)
	case "anthropic":
		return NewAnthropic(opts)
	default:
		return nil, fmt.Errorf("unknown reasoning provider: %q", provider)
	}
}

// NewFromEnv builds a model from environment variables, falling back to
// OpenAI. API keys come only from the environment, never from config files.
func NewFromEnv() (model.Model, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		opts := Options{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   envOr("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		}
		if opts.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return NewOpenAI(opts)

	case "anthropic":
		opts := Options{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  envOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		}
		if opts.APIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return NewAnthropic(opts)

	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER: %q", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
