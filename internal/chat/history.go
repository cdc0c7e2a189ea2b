package chat

import "sync"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

// History is the append-only turn log of one chat session. It lives only as
// long as the process.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewHistory() *History {
	return &History{}
}

func (h *History) AppendUser(content string) Turn {
	return h.append(Turn{Role: RoleUser, Content: content})
}

func (h *History) AppendAssistant(content string) Turn {
	return h.append(Turn{Role: RoleAssistant, Content: content})
}

func (h *History) append(t Turn) Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	return t
}

// All returns a copy of the turns in order.
func (h *History) All() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
