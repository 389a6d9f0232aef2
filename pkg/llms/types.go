package llms

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a chat transcript sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage reports token consumption for a single generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of a generation request.
type Result struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// StructuredOutputConfig asks a provider to constrain its output.
// Format "json" with a Schema produces schema-conforming JSON. Enum
// constrains the output to one of the listed values on providers that
// support it; others receive a prompt-level instruction instead.
type StructuredOutputConfig struct {
	Format string         `json:"format,omitempty" yaml:"format,omitempty"`
	Schema map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
	Enum   []string       `json:"enum,omitempty" yaml:"enum,omitempty"`
}
