package llm

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams holds parameters for chat completion requests.
type ChatParams struct {
	// Temperature controls the randomness of the output.
	Temperature float64

	// MaxTokens specifies the maximum number of tokens to generate.
	// If 0, the provider default is used.
	MaxTokens int
}

// Tool describes a tool the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	// Parameters is a JSON-schema object describing the tool arguments.
	Parameters map[string]any `json:"parameters"`
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResponse is the result of a chat completion with tool support:
// accumulated text plus zero or more requested tool calls.
type ToolResponse struct {
	Content   string
	ToolCalls []ToolCall
}
