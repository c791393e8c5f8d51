package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls a /chat/completions endpoint that accepts
// image_url content parts, e.g. vLLM or LM Studio serving a vision model.
type OpenAICompatGenerator struct {
	baseURL string
	model   string
	api     endpoint
}

// NewOpenAICompatGenerator expects baseURL to include the /v1 prefix. An
// empty apiKey sends no Authorization header.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	header := http.Header{}
	if key := strings.TrimSpace(apiKey); key != "" {
		header.Set("Authorization", "Bearer "+key)
	}
	return &OpenAICompatGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   strings.TrimSpace(model),
		api: endpoint{
			provider: "openai-compat",
			client:   &http.Client{Timeout: 60 * time.Second},
			header:   header,
		},
	}
}

func (g *OpenAICompatGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if g.model == "" {
		return "", errors.New("openai-compat generation model required")
	}
	var messages []oaiMessage
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: []oaiPart{{Type: "text", Text: p.System}}})
	}
	user := oaiMessage{Role: "user", Content: []oaiPart{{Type: "text", Text: p.Text}}}
	if p.Image != nil {
		user.Content = append(user.Content, oaiPart{Type: "image_url", ImageURL: &oaiImageURL{URL: p.Image.dataURL()}})
	}
	messages = append(messages, user)

	var resp oaiChatResponse
	if err := g.api.postJSON(ctx, g.baseURL+"/chat/completions", oaiChatRequest{Model: g.model, Messages: messages}, &resp); err != nil {
		return "", err
	}
	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		return "", errors.New("empty response from openai-compat api")
	}
	return text, nil
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiMessage struct {
	Role    string    `json:"role"`
	Content []oaiPart `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
