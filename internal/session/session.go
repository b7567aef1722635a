// Package session maintains the rolling message window for one generation
// task. A session starts from the system prompt, accumulates user/assistant
// exchanges, and tracks an estimated token footprint so the task controller
// can decide when the window is too full to continue in-context.
package session

import (
	"github.com/clarigen/clarigen/internal/api"
)

// Session is the conversational state for a single task. All successful
// exchanges are appended; a reset discards everything except the system
// prompt. Sessions are not safe for concurrent use.
type Session struct {
	systemPrompt string
	messages     []api.Message
	estTokens    int
	systemTokens int
	contextLimit int
}

// New creates a session seeded with the system prompt.
func New(systemPrompt string, contextLimit int) *Session {
	s := &Session{
		systemPrompt: systemPrompt,
		systemTokens: EstimateTokens(systemPrompt),
		contextLimit: contextLimit,
	}
	s.Reset()
	return s
}

// Reset discards all exchange history. The system prompt survives, so the
// post-reset footprint equals the system prompt estimate.
func (s *Session) Reset() {
	s.messages = []api.Message{{Role: "system", Content: s.systemPrompt}}
	s.estTokens = s.systemTokens
}

// AppendExchange records one completed user/assistant round trip and grows
// the token estimate by both sides of the exchange.
func (s *Session) AppendExchange(userContent, assistantContent string) {
	s.messages = append(s.messages,
		api.Message{Role: "user", Content: userContent},
		api.Message{Role: "assistant", Content: assistantContent},
	)
	s.estTokens += EstimateTokens(userContent) + EstimateTokens(assistantContent)
}

// HasHeadroom reports whether the session can absorb another exchange whose
// output budget is outputBudget tokens without overflowing the context
// window.
func (s *Session) HasHeadroom(outputBudget int) bool {
	return s.estTokens+outputBudget < s.contextLimit
}

// Messages returns the request message list: system prompt first, then the
// accumulated exchanges in order. The user instruction for the next exchange
// is appended by the caller, not stored here until the exchange succeeds.
func (s *Session) Messages() []api.Message {
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// EstimatedTokens returns the current estimated context footprint.
func (s *Session) EstimatedTokens() int {
	return s.estTokens
}

// Len returns the number of messages including the system prompt.
func (s *Session) Len() int {
	return len(s.messages)
}

// EstimateTokens approximates the token count of mixed Chinese/English text.
// CJK ideographs run about 1.5 characters per token on DeepSeek tokenizers,
// everything else about 4.
func EstimateTokens(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			cjk++
		} else {
			other++
		}
	}
	return int(float64(cjk)/1.5 + float64(other)/4.0)
}
