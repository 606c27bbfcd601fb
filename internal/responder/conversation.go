package responder

import (
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Conversation is the rolling history of one connection. It is safe for
// concurrent use.
type Conversation struct {
	mu          sync.Mutex
	history     []llm.Message
	limit       int
	interrupted bool
}

func newConversation(limit int) *Conversation {
	return &Conversation{limit: limit}
}

// MarkInterrupted records that the last reply was cut off. The next user
// turn tells the model so.
func (c *Conversation) MarkInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = true
}

// Interrupted reports whether an interruption is pending.
func (c *Conversation) Interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// Commit records reply as the assistant's turn. Callers commit a reply only
// once it has been delivered, so the model never sees a turn nobody heard.
func (c *Conversation) Commit(reply string) {
	c.add(llm.Message{Role: llm.RoleAssistant, Content: reply})
}

// History returns a copy of the stored messages, oldest first. The system
// prompt is not part of it.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// addLocked appends msg and drops the oldest messages so that the history
// plus the system prompt never exceeds the limit.
func (c *Conversation) addLocked(msg llm.Message) {
	c.history = append(c.history, msg)
	if keep := c.limit - 1; keep > 0 && len(c.history) > keep {
		c.history = slices.Clone(c.history[len(c.history)-keep:])
	}
}

func (c *Conversation) add(msg llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(msg)
}
