package api

// ChatCompletionRequest represents an OpenAI-compatible chat completion request
// with the DeepSeek extensions this tool relies on.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	Thinking       *Thinking       `json:"thinking,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Thinking enables the reasoning phase on reasoning-class models
type Thinking struct {
	Type string `json:"type"` // "enabled"
}

// ResponseFormat specifies the format of the model's output
type ResponseFormat struct {
	Type string `json:"type"` // "text" or "json_object"
}

// Message represents a single message in the chat
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents an OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a single completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information, including the context-cache and
// reasoning counters the endpoint reports. Cache counters are observability
// only and never affect control flow.
type Usage struct {
	PromptTokens            int                     `json:"prompt_tokens"`
	CompletionTokens        int                     `json:"completion_tokens"`
	TotalTokens             int                     `json:"total_tokens"`
	PromptCacheHitTokens    int                     `json:"prompt_cache_hit_tokens"`
	PromptCacheMissTokens   int                     `json:"prompt_cache_miss_tokens"`
	CompletionTokensDetails CompletionTokensDetails `json:"completion_tokens_details"`
}

// CompletionTokensDetails splits completion tokens into reasoning and content
type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// ContentTokens returns the completion tokens spent on content rather than
// reasoning.
func (u Usage) ContentTokens() int {
	return u.CompletionTokens - u.CompletionTokensDetails.ReasoningTokens
}

// CacheHitRate returns the fraction of prompt tokens served from the context
// cache, or 0 when the endpoint reported no cache counters.
func (u Usage) CacheHitRate() float64 {
	total := u.PromptCacheHitTokens + u.PromptCacheMissTokens
	if total == 0 {
		return 0
	}
	return float64(u.PromptCacheHitTokens) / float64(total)
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
