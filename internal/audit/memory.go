package audit

import (
	"context"
	"sync"
)

// MemoryLog: синхронный журнал в памяти с ограниченной емкостью.
// Используется для GET /audit и в тестах.
type MemoryLog struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryLog{capacity: capacity}
}

func (m *MemoryLog) Log(entry Entry) {
	entry = stamp(entry)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append([]Entry(nil), m.entries[over:]...)
	}
}

// WriteBatch позволяет использовать MemoryLog как Sink журнала.
func (m *MemoryLog) WriteBatch(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		m.Log(e)
	}
	return nil
}

// Entries возвращает копию всех записей в порядке добавления.
func (m *MemoryLog) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Recent: последние n записей, новые первыми.
func (m *MemoryLog) Recent(n int) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(m.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.entries[i])
	}
	return out
}

// ByAction фильтрует записи по действию.
func (m *MemoryLog) ByAction(action string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Tee рассылает запись во все аудиторы.
type Tee []Auditor

func (t Tee) Log(entry Entry) {
	entry = stamp(entry)
	for _, a := range t {
		a.Log(entry)
	}
}
