package agent

import (
	"sync"

	"github.com/sashabaranov/go-openai"
)

// Memory keeps the most recent conversation turns.
type Memory struct {
	mu       sync.Mutex
	maxTurns int
	messages []openai.ChatCompletionMessage
}

// NewMemory returns a buffer holding at most maxTurns user/assistant exchanges.
// A zero maxTurns disables memory.
func NewMemory(maxTurns int) *Memory {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &Memory{maxTurns: maxTurns}
}

// Add records one completed exchange, dropping the oldest when full.
func (m *Memory) Add(user, assistant string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxTurns == 0 {
		return
	}
	m.messages = append(m.messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: assistant},
	)
	if over := len(m.messages) - 2*m.maxTurns; over > 0 {
		m.messages = append([]openai.ChatCompletionMessage(nil), m.messages[over:]...)
	}
}

// Messages returns a copy of the remembered messages, oldest first.
func (m *Memory) Messages() []openai.ChatCompletionMessage {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), m.messages...)
}

// Len returns the number of remembered turns.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages) / 2
}
