package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client turns a prompt into a completion.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var ErrEmptyResponse = errors.New("llm returned an empty response")

// maxErrorBody bounds how much of a failed response body ends up in errors.
const maxErrorBody = 512

type Config struct {
	Provider string // ollama, openai or mock
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

func New(cfg Config) (Client, error) {
	hc := &http.Client{Timeout: cfg.Timeout}
	base := strings.TrimRight(cfg.BaseURL, "/")

	switch cfg.Provider {
	case "ollama":
		return &Ollama{client: hc, baseURL: base, model: cfg.Model}, nil
	case "openai":
		return &OpenAI{client: hc, baseURL: base, model: cfg.Model, apiKey: cfg.APIKey}, nil
	case "mock":
		return Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Ollama calls the /api/generate endpoint without streaming.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
}

func NewOllama(client *http.Client, baseURL, model string) *Ollama {
	return &Ollama{client: client, baseURL: strings.TrimRight(baseURL, "/"), model: model}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	// Older configs point straight at the endpoint.
	url := o.baseURL
	if !strings.HasSuffix(url, "/api/generate") {
		url += "/api/generate"
	}

	var out ollamaResponse
	if err := postJSON(ctx, o.client, url, nil, ollamaRequest{Model: o.model, Prompt: prompt}, &out); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}

// OpenAI calls an OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
}

func NewOpenAI(client *http.Client, baseURL, model, apiKey string) *OpenAI {
	return &OpenAI{client: client, baseURL: strings.TrimRight(baseURL, "/"), model: model, apiKey: apiKey}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	body := chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var out chatResponse
	if err := postJSON(ctx, o.client, o.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
