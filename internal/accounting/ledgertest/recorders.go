package ledgertest

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Audit captures audit records in memory.
type Audit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

// Record appends log.
func (a *Audit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

// Actions lists recorded actions in order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}

// Count returns how many records carry action.
func (a *Audit) Count(action string) int {
	n := 0
	for _, got := range a.Actions() {
		if got == action {
			n++
		}
	}
	return n
}

// Metrics counts ledger and close events.
type Metrics struct {
	mu       sync.Mutex
	Posted   map[string]int
	Batches  []int
	Attempts map[string]int
}

// EntryPosted counts a posted entry by source.
func (m *Metrics) EntryPosted(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Posted == nil {
		m.Posted = map[string]int{}
	}
	m.Posted[source]++
}

// BatchPosted records the size of a posted batch.
func (m *Metrics) BatchPosted(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, entries)
}

// CloseAttempt counts a close outcome keyed type/outcome.
func (m *Metrics) CloseAttempt(closeType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Attempts == nil {
		m.Attempts = map[string]int{}
	}
	m.Attempts[closeType+"/"+outcome]++
}
