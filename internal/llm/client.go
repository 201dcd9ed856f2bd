package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_client.go -package=mocks ragchat/internal/llm Client

import "context"

// Client is the capability interface over chat providers. Every adapter
// exposes the same three operations; callers never depend on a concrete
// provider type.
type Client interface {
	// Chat sends a blocking chat completion request and returns the full text.
	Chat(ctx context.Context, messages []Message, params ChatParams) (string, error)

	// StreamChat sends a streaming chat completion request and calls the
	// callback once per text fragment, in order. Concatenating the fragments
	// reconstructs the full response. A mid-stream provider failure is
	// returned as an error; a callback error aborts the stream.
	StreamChat(ctx context.Context, messages []Message, params ChatParams, callback func(chunk string) error) error

	// ChatWithTools sends a blocking chat completion request with tool
	// definitions and returns the text plus any requested tool calls.
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool, params ChatParams) (ToolResponse, error)
}
