// Package shortmem holds a bounded sliding window of conversational
// turns: a fixed backing array with write-position wraparound and
// count-based eviction. Eviction is turn-count only — no age-based
// expiry or prose formatting; AsMessages returns structured turns.
package shortmem

import (
	"sync"

	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// DefaultWindow is the default number of turns retained.
const DefaultWindow = 20

// Memory is a FIFO of up to N conversational turns. Safe for
// concurrent use. Not persisted across process restarts.
type Memory struct {
	mu      sync.RWMutex
	entries []taskmodel.ConversationTurn // circular buffer, pre-allocated
	head    int                          // next write position
	count   int                          // entries currently stored (<= len(entries))
}

// New creates a short-term memory window holding up to n turns.
// n <= 0 uses DefaultWindow.
func New(n int) *Memory {
	if n <= 0 {
		n = DefaultWindow
	}
	return &Memory{entries: make([]taskmodel.ConversationTurn, n)}
}

// Append adds a turn. When the window is full, the oldest turn is
// overwritten.
func (m *Memory) Append(turn taskmodel.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.head] = turn
	m.head = (m.head + 1) % len(m.entries)
	if m.count < len(m.entries) {
		m.count++
	}
}

// AsMessages returns the held turns oldest-first.
func (m *Memory) AsMessages() []taskmodel.ConversationTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]taskmodel.ConversationTurn, m.count)
	bufLen := len(m.entries)
	start := (m.head - m.count + bufLen) % bufLen
	for i := 0; i < m.count; i++ {
		out[i] = m.entries[(start+i)%bufLen]
	}
	return out
}

// Clear discards all held turns.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = 0
	m.count = 0
	m.entries = make([]taskmodel.ConversationTurn, len(m.entries))
}

// Len returns the number of turns currently held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}
