package history

import (
	"sort"
	"sync"
	"time"

	"github.com/starford/typegen/internal/apperr"
)

// Memory is an in-process Store used when no history database is
// configured.
type Memory struct {
	mu      sync.Mutex
	runs    []RunRow
	outputs map[string]OutputRow
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{outputs: make(map[string]OutputRow)}
}

func (m *Memory) BeginRun(trigger string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.runs) + 1)
	m.runs = append(m.runs, RunRow{ID: id, Trigger: trigger, Status: StatusRunning, StartedAt: at.UTC()})
	return id, nil
}

func (m *Memory) FinishRun(id int64, status string, models, failures int, runErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.runs) {
		return apperr.ErrNotFound
	}
	r := &m.runs[id-1]
	finished := at.UTC()
	r.Status, r.Models, r.Failures, r.Error, r.FinishedAt = status, models, failures, runErr, &finished
	return nil
}

func (m *Memory) RecordOutput(o OutputRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[o.Path] = o
	return nil
}

func (m *Memory) LastRun() (*RunRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, apperr.ErrNotFound
	}
	r := m.runs[len(m.runs)-1]
	return &r, nil
}

func (m *Memory) ListRuns(limit int) ([]RunRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []RunRow
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) Outputs() ([]OutputRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutputRow, 0, len(m.outputs))
	for _, o := range m.outputs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) OutputChecksum(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[path].Checksum, nil
}
