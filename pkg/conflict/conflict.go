// Package conflict detects contradictions between new and existing facts
// and maintains a bounded pending-conflict queue, persisted as a single
// JSON file rewritten atomically. The atomic-replace idiom (write to a
// temp file, then os.Rename into place) generalizes
// pkg/channels/telegram/telegram_channel.go's os.Rename-based file landing
// to whole-file config persistence.
package conflict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

// Decision is the outcome of checking a new fact against an existing one.
type Decision string

const (
	DecisionNew       Decision = "NEW"
	DecisionSame      Decision = "SAME"
	DecisionOverwrite Decision = "OVERWRITE"
	DecisionIgnore    Decision = "IGNORE"
	DecisionConflict  Decision = "CONFLICT"
)

// FactOption is one side of a Conflict.
type FactOption struct {
	Fact   string `json:"fact"`
	Source string `json:"source"`
}

// Status is a Conflict's resolution state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Conflict is a recorded contradiction between two fact assertions for the
// same subject.
type Conflict struct {
	ConflictID string     `json:"conflict_id"`
	Subject    string     `json:"subject"`
	OptionA    FactOption `json:"option_a"`
	OptionB    FactOption `json:"option_b"`
	Timestamp  time.Time  `json:"timestamp"`
	Status     Status     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
}

// Manager checks new facts against existing ones and maintains the bounded
// pending-conflict queue.
type Manager struct {
	mu           sync.Mutex
	path         string
	maxConflicts int
	conflicts    []*Conflict
	clock        clock.Clock
	nextID       int
}

// Open loads (or creates) the conflicts file at <workspace>/conflicts.json.
func Open(workspace string, maxConflicts int, c clock.Clock) (*Manager, error) {
	if maxConflicts <= 0 {
		maxConflicts = 20
	}
	if c == nil {
		c = clock.Real{}
	}

	path := filepath.Join(workspace, "conflicts.json")
	m := &Manager{path: path, maxConflicts: maxConflicts, clock: c}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("conflict: read %s: %w", m.path, err)
	}

	var conflicts []*Conflict
	if err := jsoniter.Unmarshal(data, &conflicts); err != nil {
		return fmt.Errorf("conflict: parse %s: %w", m.path, err)
	}
	m.conflicts = conflicts

	for _, c := range conflicts {
		var n int
		if _, err := fmt.Sscanf(c.ConflictID, "c%d", &n); err == nil && n >= m.nextID {
			m.nextID = n + 1
		}
	}
	return nil
}

// CheckConflict classifies newFact against existingFact for subject per the
// decision table: no existing fact is always NEW; an identical fact is
// SAME; a much-more-confident new fact overwriting a much-less-confident
// old one is OVERWRITE; the reverse is IGNORE; anything else registers a
// CONFLICT.
func (m *Manager) CheckConflict(subject, newFact string, newConfidence float64, source string, existingFact *string, existingConfidence float64) (Decision, *Conflict) {
	if existingFact == nil {
		return DecisionNew, nil
	}

	if newFact == *existingFact {
		return DecisionSame, nil
	}

	if newConfidence > 0.9 && existingConfidence < 0.5 {
		return DecisionOverwrite, nil
	}
	if existingConfidence > 0.9 && newConfidence < 0.5 {
		return DecisionIgnore, nil
	}

	c := m.register(subject, newFact, source, *existingFact)
	return DecisionConflict, c
}

func (m *Manager) register(subject, newFact, source, existingFact string) *Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &Conflict{
		ConflictID: fmt.Sprintf("c%d", m.nextID),
		Subject:    subject,
		OptionA:    FactOption{Fact: existingFact, Source: "existing"},
		OptionB:    FactOption{Fact: newFact, Source: source},
		Timestamp:  m.clock.Now(),
		Status:     StatusPending,
	}
	m.nextID++

	m.conflicts = append(m.conflicts, c)
	m.pruneLocked()
	m.saveLocked()
	return c
}

// pruneLocked keeps all resolved conflicts and the newest maxConflicts
// pending ones, pruning the oldest pending conflicts first. Caller must
// hold mu.
func (m *Manager) pruneLocked() {
	var pending, resolved []*Conflict
	for _, c := range m.conflicts {
		if c.Status == StatusPending {
			pending = append(pending, c)
		} else {
			resolved = append(resolved, c)
		}
	}

	if len(pending) > m.maxConflicts {
		sort.Slice(pending, func(i, j int) bool { return pending[i].Timestamp.Before(pending[j].Timestamp) })
		pending = pending[len(pending)-m.maxConflicts:]
	}

	m.conflicts = append(resolved, pending...)
}

// Resolve marks conflictID resolved with the chosen option ("A" or "B").
func (m *Manager) Resolve(conflictID string, choice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conflicts {
		if c.ConflictID == conflictID {
			c.Status = StatusResolved
			c.Resolution = choice
			return m.saveLocked()
		}
	}
	return fmt.Errorf("conflict: unknown conflict_id %q", conflictID)
}

// Pending returns a snapshot of all pending conflicts, oldest first.
func (m *Manager) Pending() []*Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Conflict
	for _, c := range m.conflicts {
		if c.Status == StatusPending {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// PendingCount reports the current pending-conflict queue length.
func (m *Manager) PendingCount() int {
	return len(m.Pending())
}

// PruneResolved drops resolved conflicts older than maxAge, relative to the
// manager's clock. Pending conflicts are never touched here; only
// pruneLocked's pending cap applies to those. Invoked by the maintenance
// loop's idle-triggered conflict pruning, not the request path.
func (m *Manager) PruneResolved(maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var kept []*Conflict
	removed := 0
	for _, c := range m.conflicts {
		if c.Status == StatusResolved && now.Sub(c.Timestamp) > maxAge {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	if removed == 0 {
		return 0, nil
	}
	m.conflicts = kept
	return removed, m.saveLocked()
}

func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.conflicts, "", "  ")
	if err != nil {
		return fmt.Errorf("conflict: marshal: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("conflict: write temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("conflict: atomic replace: %w", err)
	}
	return nil
}
