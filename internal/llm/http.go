package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCompleter calls an OpenAI-compatible chat/completions endpoint
// directly. Unlike the genkit path it can request several candidates, and
// it reports every choice the server returns.
type HTTPCompleter struct {
	baseURL string
	apiKey  string
	model   string
	n       int
	client  *http.Client
}

// NewHTTPCompleter returns a completer for baseURL (e.g.
// https://api.openai.com/v1). n <= 0 requests the server default.
func NewHTTPCompleter(baseURL, apiKey, model string, n int, timeout time.Duration) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPCompleter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		n:       n,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	N        int           `json:"n,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *HTTPCompleter) Name() string { return "http/" + c.model }

func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (*Completion, error) {
	bodyBytes, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		N:        c.n,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return parseChatResponse(body)
}

func parseChatResponse(data []byte) (*Completion, error) {
	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	comp := &Completion{Model: resp.Model, Raw: string(data)}
	for _, ch := range resp.Choices {
		comp.Choices = append(comp.Choices, Choice{Text: ch.Message.Content, FinishReason: ch.FinishReason})
	}
	return comp, nil
}
