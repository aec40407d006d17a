/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the estimate persistence interfaces using SQLite. The Postgres
  store in store/postgres follows the same table layout with dialect changes.

INTERFACES IMPLEMENTED:
  generic.TxRuleStore:     Rule persistence with delete+insert transactions
  generic.TaskTypeLookup:  Task id -> task type id
  generic.SummaryStore:    Per-grouping period summary
  generic.HolidayCalendar: Client-scoped and national holidays

REPLACE-ONLY RULES:
  Rules are never updated:
  - No UPDATE statements on the rules table
  - A grouping is replaced by DELETE + batched INSERT in one transaction

KEY TABLES:
  rules:      Materialized estimate rules (one per segment x task x responsible)
  groupings:  Overall period and rule count of each grouping
  task_types: Task type of each task
  holidays:   Client-specific and national holidays

INDEXES:
  - idx_rules_grouping_start: Delete and list by grouping (hot path)
  - idx_holidays_scope_date: Holiday lookups during expansion

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is shared by every caller.

USAGE:
  store, err := sqlite.New("./data/estimates.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := estimate.NewService(store, store, store, logger)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Logger reports holiday lookups that fail; those read as "not a holiday".
	Logger *zap.Logger
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, Logger: zap.NewNop()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rules (replaced per grouping, never updated)
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		grouping_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		task_id INTEGER NOT NULL,
		task_type_id INTEGER,
		responsible_id TEXT NOT NULL,
		segment_start TEXT NOT NULL,
		segment_end TEXT NOT NULL,
		daily_effort INTEGER NOT NULL,
		include_weekends BOOLEAN NOT NULL DEFAULT FALSE,
		include_holidays BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_grouping_start
		ON rules(grouping_id, segment_start);
	CREATE INDEX IF NOT EXISTS idx_rules_client
		ON rules(client_id);

	-- Grouping summaries
	CREATE TABLE IF NOT EXISTS groupings (
		grouping_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		period_start TEXT,
		period_end TEXT,
		rule_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Task types
	CREATE TABLE IF NOT EXISTS task_types (
		task_id INTEGER PRIMARY KEY,
		task_type_id INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Holidays (client-specific and national)
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_scope_date
		ON holidays(scope, date);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(scope, date, name);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// =============================================================================
// RULE STORE (generic.RuleStore interface)
// =============================================================================

// DeleteByGrouping removes every rule of a grouping.
func (s *Store) DeleteByGrouping(ctx context.Context, groupingID generic.GroupingID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteRules(ctx, s.db, groupingID)
}

func deleteRules(ctx context.Context, db execer, groupingID generic.GroupingID) (int, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM rules WHERE grouping_id = ?", string(groupingID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rules: %w", err)
	}
	return int(n), nil
}

// InsertBatch adds rules with a single multi-row INSERT.
func (s *Store) InsertBatch(ctx context.Context, rules []generic.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertRules(ctx, s.db, rules)
}

const ruleColumns = `id, grouping_id, client_id, product_id, task_id, task_type_id, responsible_id,
	segment_start, segment_end, daily_effort, include_weekends, include_holidays, created_at, updated_at`

func insertRules(ctx context.Context, db execer, rules []generic.Rule) error {
	if len(rules) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(rules)*14)
	)
	sb.WriteString("INSERT INTO rules (" + ruleColumns + ") VALUES ")
	for i, r := range rules {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			string(r.ID),
			string(r.GroupingID),
			string(r.ClientID),
			r.ProductID,
			r.TaskID,
			nullInt64(r.TaskTypeID),
			r.ResponsibleID,
			r.SegmentStart.String(),
			r.SegmentEnd.String(),
			r.DailyEffort,
			r.IncludeWeekends,
			r.IncludeHolidays,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}

	if _, err := db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert rules: %w", err)
	}
	return nil
}

// ListByGrouping returns a grouping's rules ordered by segment start.
func (s *Store) ListByGrouping(ctx context.Context, groupingID generic.GroupingID) ([]generic.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listRules(ctx, s.db, groupingID)
}

func listRules(ctx context.Context, db querier, groupingID generic.GroupingID) ([]generic.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM rules
		WHERE grouping_id = ?
		ORDER BY segment_start ASC, product_id ASC, task_id ASC`

	rows, err := db.QueryContext(ctx, query, string(groupingID))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []generic.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanRule(rows *sql.Rows) (generic.Rule, error) {
	var (
		r                    generic.Rule
		id, groupingID       string
		clientID             string
		taskType             sql.NullInt64
		start, end           string
		createdAt, updatedAt string
	)

	err := rows.Scan(
		&id, &groupingID, &clientID, &r.ProductID, &r.TaskID, &taskType, &r.ResponsibleID,
		&start, &end, &r.DailyEffort, &r.IncludeWeekends, &r.IncludeHolidays, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan rule: %w", err)
	}

	r.ID = generic.RuleID(id)
	r.GroupingID = generic.GroupingID(groupingID)
	r.ClientID = generic.ClientID(clientID)
	if taskType.Valid {
		tt := taskType.Int64
		r.TaskTypeID = &tt
	}
	if r.SegmentStart, err = generic.ParseDate(start); err != nil {
		return r, err
	}
	if r.SegmentEnd, err = generic.ParseDate(end); err != nil {
		return r, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxRuleStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.RuleStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) DeleteByGrouping(ctx context.Context, groupingID generic.GroupingID) (int, error) {
	return deleteRules(ctx, ts.tx, groupingID)
}

func (ts *txStore) InsertBatch(ctx context.Context, rules []generic.Rule) error {
	return insertRules(ctx, ts.tx, rules)
}

func (ts *txStore) ListByGrouping(ctx context.Context, groupingID generic.GroupingID) ([]generic.Rule, error) {
	return listRules(ctx, ts.tx, groupingID)
}

// =============================================================================
// TASK TYPES (generic.TaskTypeLookup interface)
// =============================================================================

// TaskTypeOf returns the task type of a task.
func (s *Store) TaskTypeOf(ctx context.Context, taskID int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tt int64
	err := s.db.QueryRowContext(ctx, "SELECT task_type_id FROM task_types WHERE task_id = ?", taskID).Scan(&tt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up task type: %w", err)
	}
	return tt, true, nil
}

// UpsertTaskType records the task type of a task.
func (s *Store) UpsertTaskType(ctx context.Context, taskID, taskTypeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO task_types (task_id, task_type_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			task_type_id = excluded.task_type_id,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, taskID, taskTypeID, time.Now().UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// GROUPING SUMMARIES (generic.SummaryStore interface)
// =============================================================================

// RecomputeGroupingPeriod refreshes the summary row from the rules table.
func (s *Store) RecomputeGroupingPeriod(ctx context.Context, groupingID generic.GroupingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO groupings (grouping_id, client_id, period_start, period_end, rule_count, updated_at)
		SELECT ?, COALESCE(MAX(client_id), ''), MIN(segment_start), MAX(segment_end), COUNT(*), ?
		FROM rules
		WHERE grouping_id = ?
		ON CONFLICT(grouping_id) DO UPDATE SET
			client_id = CASE WHEN excluded.client_id = '' THEN groupings.client_id ELSE excluded.client_id END,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			rule_count = excluded.rule_count,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		string(groupingID),
		time.Now().UTC().Format(time.RFC3339),
		string(groupingID),
	)
	if err != nil {
		return fmt.Errorf("failed to recompute grouping period: %w", err)
	}
	return nil
}

// GetGroupingSummary returns the stored summary of a grouping.
func (s *Store) GetGroupingSummary(ctx context.Context, groupingID generic.GroupingID) (*generic.GroupingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		clientID   string
		start, end sql.NullString
		count      int
		updatedAt  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, period_start, period_end, rule_count, updated_at
		FROM groupings WHERE grouping_id = ?`, string(groupingID),
	).Scan(&clientID, &start, &end, &count, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrGroupingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grouping: %w", err)
	}

	summary := &generic.GroupingSummary{
		GroupingID: groupingID,
		ClientID:   generic.ClientID(clientID),
		RuleCount:  count,
	}
	summary.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if start.Valid && end.Valid {
		p := generic.Period{}
		if p.Start, err = generic.ParseDate(start.String); err != nil {
			return nil, err
		}
		if p.End, err = generic.ParseDate(end.String); err != nil {
			return nil, err
		}
		summary.Period = &p
	}
	return summary, nil
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// SaveHoliday saves a holiday to the database.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, scope, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, date, name) DO UPDATE SET
			recurring = excluded.recurring
	`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Scope,
		h.Date.String(),
		h.Name,
		h.Recurring,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// GetHolidays returns all holidays for a scope in a given year.
// Includes both scope-specific and national holidays.
func (s *Store) GetHolidays(scope string, year int) []generic.Holiday {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, scope, date, name, recurring
		FROM holidays
		WHERE (scope = ? OR scope = '')
		  AND (recurring = TRUE OR strftime('%Y', date) = ?)
		ORDER BY date ASC
	`

	rows, err := s.db.Query(query, scope, fmt.Sprintf("%04d", year))
	if err != nil {
		s.Logger.Error("holiday query failed", zap.String("scope", scope), zap.Int("year", year), zap.Error(err))
		return nil
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			continue
		}
		if h.Recurring {
			h.Date = generic.NewTimePoint(year, h.Date.Month(), h.Date.Day())
		}
		holidays = append(holidays, h)
	}

	return holidays
}

// IsHoliday checks if a date is a holiday for the given scope.
func (s *Store) IsHoliday(scope string, date generic.TimePoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COUNT(*) FROM holidays
		WHERE (scope = ? OR scope = '')
		  AND (
			(recurring = FALSE AND date = ?)
			OR (recurring = TRUE AND strftime('%m-%d', date) = ?)
		  )
	`

	var count int
	err := s.db.QueryRow(query, scope, date.String(), date.Time.Format("01-02")).Scan(&count)
	if err != nil {
		s.Logger.Error("holiday lookup failed", zap.String("scope", scope), zap.String("date", date.String()), zap.Error(err))
		return false
	}
	return count > 0
}

// LoadHolidays checks that the holiday table answers for the scope. Holidays
// are read per day afterwards, so nothing is kept.
func (s *Store) LoadHolidays(ctx context.Context, scope string, _ ...int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM holidays WHERE scope = ? OR scope = ''`, scope).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to read holidays: %w", err)
	}
	return nil
}

// GetAllHolidays returns all holidays visible to a scope (for admin UI).
func (s *Store) GetAllHolidays(ctx context.Context, scope string) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, scope, date, name, recurring
		FROM holidays
		WHERE scope = ? OR scope = ''
		ORDER BY date ASC
	`

	rows, err := s.db.QueryContext(ctx, query, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}

	return holidays, rows.Err()
}

func scanHoliday(rows *sql.Rows) (generic.Holiday, error) {
	var (
		h       generic.Holiday
		dateStr string
	)
	if err := rows.Scan(&h.ID, &h.Scope, &dateStr, &h.Name, &h.Recurring); err != nil {
		return h, err
	}
	d, err := generic.ParseDate(dateStr)
	if err != nil {
		return h, err
	}
	h.Date = d
	return h, nil
}

// Reset clears all data (for testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"rules", "groupings", "task_types", "holidays"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
