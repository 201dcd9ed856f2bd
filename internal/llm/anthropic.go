package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicVersion = "2023-06-01"

	// The Anthropic messages API requires max_tokens; applied when the
	// caller leaves ChatParams.MaxTokens at 0.
	anthropicDefaultMaxTokens = 1024
)

// AnthropicClient is a client for the Anthropic messages API.
type AnthropicClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(baseURL, apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		client:  http.DefaultClient,
	}
}

type anthropicRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []anthropicTool `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends a blocking chat completion request and returns the full text.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	resp, err := c.complete(ctx, c.buildRequest(messages, nil, params, false))
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// ChatWithTools sends a blocking chat completion request with tool definitions.
func (c *AnthropicClient) ChatWithTools(ctx context.Context, messages []Message, tools []Tool, params ChatParams) (ToolResponse, error) {
	resp, err := c.complete(ctx, c.buildRequest(messages, tools, params, false))
	if err != nil {
		return ToolResponse{}, err
	}

	var result ToolResponse
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	result.Content = text.String()
	return result, nil
}

// StreamChat sends a streaming chat completion request and reads the
// Server-Sent Events response, calling the callback once per text delta.
func (c *AnthropicClient) StreamChat(ctx context.Context, messages []Message, params ChatParams, callback func(chunk string) error) error {
	resp, err := c.post(ctx, c.buildRequest(messages, nil, params, true), "text/event-stream")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	const dataPrefix = "data: "

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, dataPrefix)), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if err := callback(event.Delta.Text); err != nil {
					return fmt.Errorf("callback error: %w", err)
				}
			}
		case "error":
			message := "unknown stream error"
			if event.Error != nil {
				message = event.Error.Message
			}
			return fmt.Errorf("provider stream error: %s", message)
		case "message_stop":
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// buildRequest splits out the system prompt, which Anthropic takes as a
// top-level field rather than a message role.
func (c *AnthropicClient) buildRequest(messages []Message, tools []Tool, params ChatParams, stream bool) anthropicRequest {
	req := anthropicRequest{
		Model:       c.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = anthropicDefaultMaxTokens
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += msg.Content
			continue
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, tool := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	return req
}

func (c *AnthropicClient) complete(ctx context.Context, payload anthropicRequest) (*anthropicResponse, error) {
	resp, err := c.post(ctx, payload, "")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if anthropicResp.Error != nil {
		return nil, fmt.Errorf("provider error: %s", anthropicResp.Error.Message)
	}
	return &anthropicResp, nil
}

func (c *AnthropicClient) post(ctx context.Context, payload anthropicRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
