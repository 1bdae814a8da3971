package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps session logs in process memory. It is used when no
// database is configured and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID uint
	logs   map[string]*SessionLog
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, logs: make(map[string]*SessionLog)}
}

func (m *MemoryRepository) SaveLog(ctx context.Context, log *SessionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.logs[log.SessionID]; exists {
		return fmt.Errorf("repository: duplicate session %s", log.SessionID)
	}
	log.ID = m.nextID
	m.nextID++
	stored := *log
	m.logs[log.SessionID] = &stored
	return nil
}

func (m *MemoryRepository) FindBySessionID(ctx context.Context, sessionID string) (*SessionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log, ok := m.logs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *log
	return &out, nil
}

func (m *MemoryRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeSessionID string) ([]*SessionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SessionLog
	for _, log := range m.logs {
		if log.FramesSHA1 == hash && log.SessionID != excludeSessionID {
			cp := *log
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg := &MetricsAggregation{}
	var confSum, latencySum float64
	for _, log := range m.logs {
		agg.TotalCount++
		latencySum += float64(log.CaptureMs + log.VerifyMs)
		if log.Outcome == OutcomeVerified {
			agg.SuccessCount++
			confSum += log.Confidence
		}
	}
	if agg.SuccessCount > 0 {
		agg.AverageConf = confSum / float64(agg.SuccessCount)
	}
	if agg.TotalCount > 0 {
		agg.AverageLatency = latencySum / float64(agg.TotalCount)
	}
	return agg, nil
}
