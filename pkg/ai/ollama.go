package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator answers through /api/chat with a local vision model such
// as llava, for deployments without a cloud key.
type OllamaGenerator struct {
	baseURL string
	model   string
	api     endpoint
}

func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   strings.TrimSpace(model),
		api: endpoint{
			provider: "ollama",
			client:   &http.Client{Timeout: 60 * time.Second},
		},
	}
}

func (g *OllamaGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if g.model == "" {
		return "", errors.New("ollama generation model required")
	}
	var messages []ollamaChatMessage
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: p.System})
	}
	user := ollamaChatMessage{Role: "user", Content: p.Text}
	if p.Image != nil {
		user.Images = []string{p.Image.base64()}
	}
	messages = append(messages, user)

	var resp ollamaChatResponse
	if err := g.api.postJSON(ctx, g.baseURL+"/api/chat", ollamaChatRequest{Model: g.model, Messages: messages}, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", errors.New("empty response from ollama")
	}
	return text, nil
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}
