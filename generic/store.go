/*
store.go - Persistence interfaces for estimate rules

PURPOSE:
  Defines the interface between the estimate workflow and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  RuleStore:      Rule persistence (delete by grouping, batch insert, list)
  TxRuleStore:    Transactional operations (delete + inserts commit together)
  TaskTypeLookup: Task id -> task type id side lookup
  SummaryStore:   Per-grouping [min start, max end] summary

REPLACE CONTRACT:
  Rules are never updated. Replacing a grouping is:
    WithTx(func(tx) {
        tx.DeleteByGrouping(id)
        tx.InsertBatch(batch1) ... tx.InsertBatch(batchN)
    })
  so either the whole new set is visible or the old set is untouched.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - estimate/replace.go: The only writer
*/
package generic

import "context"

// =============================================================================
// RULE STORE
// =============================================================================

// RuleStore handles persistence of materialized rules.
type RuleStore interface {
	// DeleteByGrouping removes every rule of the grouping and returns how many.
	DeleteByGrouping(ctx context.Context, groupingID GroupingID) (int, error)

	// InsertBatch persists rules. Callers bound the batch size.
	InsertBatch(ctx context.Context, rules []Rule) error

	// ListByGrouping returns the grouping's rules ordered by segment start.
	ListByGrouping(ctx context.Context, groupingID GroupingID) ([]Rule, error)
}

// TxRuleStore wraps RuleStore with transaction support.
type TxRuleStore interface {
	RuleStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(RuleStore) error) error
}

// =============================================================================
// SIDE LOOKUPS
// =============================================================================

// TaskTypeLookup resolves the task type of a task. A miss is (0, false, nil).
type TaskTypeLookup interface {
	TaskTypeOf(ctx context.Context, taskID int64) (int64, bool, error)
}

// NoTaskTypes is a lookup that never finds a task type.
type NoTaskTypes struct{}

func (NoTaskTypes) TaskTypeOf(context.Context, int64) (int64, bool, error) { return 0, false, nil }

// SummaryStore keeps the overall period of each grouping.
type SummaryStore interface {
	// RecomputeGroupingPeriod refreshes the summary from the stored rules.
	RecomputeGroupingPeriod(ctx context.Context, groupingID GroupingID) error

	// GetGroupingSummary returns ErrGroupingNotFound when no summary exists.
	GetGroupingSummary(ctx context.Context, groupingID GroupingID) (*GroupingSummary, error)
}
