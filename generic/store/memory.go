// Package store provides in-memory store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/estimate-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	rules     map[generic.GroupingID][]generic.Rule
	taskTypes map[int64]int64
	summaries map[generic.GroupingID]generic.GroupingSummary
}

func NewMemory() *Memory {
	return &Memory{
		rules:     make(map[generic.GroupingID][]generic.Rule),
		taskTypes: make(map[int64]int64),
		summaries: make(map[generic.GroupingID]generic.GroupingSummary),
	}
}

func (m *Memory) DeleteByGrouping(_ context.Context, groupingID generic.GroupingID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(groupingID), nil
}

func (m *Memory) deleteLocked(groupingID generic.GroupingID) int {
	n := len(m.rules[groupingID])
	delete(m.rules, groupingID)
	return n
}

func (m *Memory) InsertBatch(_ context.Context, rules []generic.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(rules)
	return nil
}

func (m *Memory) insertLocked(rules []generic.Rule) {
	for _, r := range rules {
		m.rules[r.GroupingID] = append(m.rules[r.GroupingID], r)
	}
}

func (m *Memory) ListByGrouping(_ context.Context, groupingID generic.GroupingID) ([]generic.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(groupingID), nil
}

func (m *Memory) listLocked(groupingID generic.GroupingID) []generic.Rule {
	result := make([]generic.Rule, len(m.rules[groupingID]))
	copy(result, m.rules[groupingID])
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SegmentStart.Before(result[j].SegmentStart)
	})
	return result
}

// =============================================================================
// TASK TYPES
// =============================================================================

func (m *Memory) SetTaskType(taskID, taskTypeID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskTypes[taskID] = taskTypeID
}

func (m *Memory) TaskTypeOf(_ context.Context, taskID int64) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tt, ok := m.taskTypes[taskID]
	return tt, ok, nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

func (m *Memory) RecomputeGroupingPeriod(_ context.Context, groupingID generic.GroupingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := generic.SummarizeRules(groupingID, m.rules[groupingID])
	if prev, ok := m.summaries[groupingID]; ok && summary.ClientID == "" {
		summary.ClientID = prev.ClientID
	}
	summary.UpdatedAt = time.Now().UTC()
	m.summaries[groupingID] = summary
	return nil
}

func (m *Memory) GetGroupingSummary(_ context.Context, groupingID generic.GroupingID) (*generic.GroupingSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.summaries[groupingID]
	if !ok {
		return nil, generic.ErrGroupingNotFound
	}
	return &summary, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.RuleStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.rules = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[generic.GroupingID][]generic.Rule {
	rulesCopy := make(map[generic.GroupingID][]generic.Rule, len(tm.rules))
	for k, v := range tm.rules {
		rulesCopy[k] = append([]generic.Rule{}, v...)
	}
	return rulesCopy
}

// txMemoryView runs with the parent lock already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) DeleteByGrouping(_ context.Context, groupingID generic.GroupingID) (int, error) {
	return tv.parent.deleteLocked(groupingID), nil
}

func (tv *txMemoryView) InsertBatch(_ context.Context, rules []generic.Rule) error {
	tv.parent.insertLocked(rules)
	return nil
}

func (tv *txMemoryView) ListByGrouping(_ context.Context, groupingID generic.GroupingID) ([]generic.Rule, error) {
	return tv.parent.listLocked(groupingID), nil
}
