package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// InlineImage is an image sent alongside the prompt.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

func (img *InlineImage) base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

func (img *InlineImage) dataURL() string {
	return "data:" + img.MIMEType + ";base64," + img.base64()
}

// Prompt is a single generation request.
type Prompt struct {
	System string
	Text   string
	Image  *InlineImage
}

// AnswerGenerator produces free text for a prompt with an optional image.
// All model providers (Gemini, OpenAI-compatible, Ollama) implement it.
type AnswerGenerator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Provider names accepted by NewGenerator.
const (
	ProviderGemini       = "gemini"
	ProviderOpenAICompat = "openai-compat"
	ProviderOllama       = "ollama"
)

// GeneratorConfig selects a provider and its credentials.
type GeneratorConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// NewGenerator builds the configured provider. It returns nil, nil when the
// provider needs a credential that is not set, so callers can run without
// answer generation.
func NewGenerator(cfg GeneratorConfig) (AnswerGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, nil
		}
		opts := []ClientOption{}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		client, err := NewGeminiClient(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(client, cfg.Model), nil
	case ProviderOpenAICompat:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, nil
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case ProviderOllama:
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
