package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	baseURL string
	api     endpoint
}

// ClientOption customizes a GeminiClient.
type ClientOption func(*GeminiClient)

// WithBaseURL points the client at another API root.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *GeminiClient) { c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *GeminiClient) { c.api.client = hc }
}

// NewGeminiClient constructs a client with the provided API key. The key
// travels in a header so it never shows up in proxy access logs.
func NewGeminiClient(apiKey string, opts ...ClientOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	c := &GeminiClient{
		baseURL: defaultGeminiBaseURL,
		api: endpoint{
			provider: "gemini",
			client:   &http.Client{Timeout: 30 * time.Second},
			header:   http.Header{"X-Goog-Api-Key": {apiKey}},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateContent returns the concatenated text of the first candidate.
func (c *GeminiClient) GenerateContent(ctx context.Context, model string, p Prompt) (string, error) {
	parts := []part{{Text: p.Text}}
	if p.Image != nil {
		parts = append(parts, part{InlineData: &inlineData{MIMEType: p.Image.MIMEType, Data: p.Image.base64()}})
	}
	reqBody := generateRequest{Contents: []content{{Role: "user", Parts: parts}}}
	if strings.TrimSpace(p.System) != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: p.System}}}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, normalizeModel(model))
	var resp generateResponse
	if err := c.api.postJSON(ctx, url, reqBody, &resp); err != nil {
		return "", err
	}
	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return "", fmt.Errorf("gemini blocked prompt: %s", reason)
	}
	var b strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("empty response from gemini")
	}
	return text, nil
}

func normalizeModel(model string) string {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if model == "" {
		return defaultGeminiModel
	}
	return model
}

// GeminiGenerator is an AnswerGenerator bound to one Gemini model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: normalizeModel(model)}
}

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	return g.client.GenerateContent(ctx, g.model, p)
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}
