/*
replace.go - Replacing the estimate rules of a grouping

PURPOSE:
  Service is the single writer of estimate rules. A grouping's rules are
  never edited in place: every change recomputes the full rule set and
  swaps it in.

REPLACE FLOW:
  1. Validate grouping and client ids
  2. Normalize the payload into groups
  3. Per group: load holidays -> expand dates -> coalesce segments ->
     materialize rules
  4. Lock the grouping
  5. In one store transaction: delete old rules, insert new ones in batches
  6. Refresh the grouping summary (best effort)

  Steps 1-3 touch no stored rules, so a malformed group anywhere in the
  request leaves the grouping exactly as it was. Step 5 commits or rolls
  back as a unit.

SEE ALSO:
  - materialize.go: Step 3's last stage
  - lock.go: Step 4
  - generic/store.go: TxRuleStore contract
*/
package estimate

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/generic"
	"github.com/warp/estimate-engine/logging"
)

// DefaultBatchSize bounds the number of rules per insert statement batch.
const DefaultBatchSize = 100

type Service struct {
	Store     generic.TxRuleStore
	Summaries generic.SummaryStore // optional
	Holidays  generic.HolidayCalendar
	TaskTypes generic.TaskTypeLookup
	Locker    Locker
	BatchSize int
	Logger    *zap.Logger

	Materializer Materializer
}

// NewService wires a Service with an in-process grouping lock.
func NewService(store generic.TxRuleStore, holidays generic.HolidayCalendar, taskTypes generic.TaskTypeLookup, logger *zap.Logger) *Service {
	s := &Service{
		Store:     store,
		Holidays:  holidays,
		TaskTypes: taskTypes,
		Locker:    NewKeyedMutex(),
		BatchSize: DefaultBatchSize,
		Logger:    logger,
	}
	if summaries, ok := store.(generic.SummaryStore); ok {
		s.Summaries = summaries
	}
	return s
}

// ReplaceRequest is one replace call.
type ReplaceRequest struct {
	GroupingID generic.GroupingID
	ClientID   generic.ClientID
	Payload    Payload
}

// GroupPlan is the intermediate result for one group.
type GroupPlan struct {
	Index    int
	Days     []generic.TimePoint
	Segments []generic.Segment
	Rules    int
}

// Plan is the full, unpersisted outcome of a replace call.
type Plan struct {
	GroupingID    generic.GroupingID
	ClientID      generic.ClientID
	Groups        []GroupPlan
	Rules         []generic.Rule
	PlannedEffort generic.Amount // sum of daily effort x resolved days, in hours
}

// Segments counts segments across all groups.
func (p *Plan) Segments() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Segments)
	}
	return n
}

type ReplaceResult struct {
	GroupingID    generic.GroupingID
	Count         int
	Segments      int
	Batches       int
	PlannedEffort generic.Amount
}

// =============================================================================
// PLAN - Validation, expansion, coalescing and materialization
// =============================================================================

// Plan computes every rule a replace call would write without touching
// stored rules.
func (s *Service) Plan(ctx context.Context, req ReplaceRequest) (*Plan, error) {
	groupingID := generic.GroupingID(strings.TrimSpace(string(req.GroupingID)))
	clientID := generic.ClientID(strings.TrimSpace(string(req.ClientID)))
	if groupingID == "" {
		return nil, generic.NewValidationError("agrupador_id", generic.ErrMissingGrouping)
	}
	if clientID == "" {
		return nil, generic.NewValidationError("cliente_id", generic.ErrMissingClient)
	}

	groups, err := Normalize(req.Payload)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		GroupingID:    groupingID,
		ClientID:      clientID,
		PlannedEffort: generic.NewAmountFromInt(0, generic.UnitMilliseconds),
	}
	target := Target{GroupingID: groupingID, ClientID: clientID}
	types := NewTaskTypeCache(s.TaskTypes)

	for i, g := range groups {
		gp, rules, err := s.planGroup(ctx, target, g, types)
		if err != nil {
			return nil, inGroup(i, err)
		}
		gp.Index = i
		plan.Groups = append(plan.Groups, gp)
		plan.Rules = append(plan.Rules, rules...)
		plan.PlannedEffort = plan.PlannedEffort.Add(plannedEffort(rules, gp.Segments))
	}
	plan.PlannedEffort = plan.PlannedEffort.Hours()
	return plan, nil
}

func (s *Service) planGroup(ctx context.Context, target Target, g GroupSpec, types *TaskTypeCache) (GroupPlan, []generic.Rule, error) {
	var gp GroupPlan

	sel, err := g.Selection()
	if err != nil {
		return gp, nil, err
	}

	if err := sel.Validate(); err != nil {
		return gp, nil, &generic.ValidationError{Group: -1, Field: "data_inicio", Message: err.Error(), Err: err}
	}
	if err := s.loadHolidays(ctx, target, g.Policy(), sel); err != nil {
		return gp, nil, err
	}

	cal := generic.NewCalendar(g.Policy(), s.Holidays, string(target.ClientID))
	days, err := cal.Expand(sel)
	if err != nil {
		return gp, nil, &generic.ValidationError{Group: -1, Field: "data_inicio", Message: err.Error(), Err: err}
	}
	gp.Days = days
	gp.Segments = cal.Coalesce(days)

	rules, err := s.Materializer.Materialize(ctx, target, g, gp.Segments, types)
	if err != nil {
		return gp, nil, err
	}
	gp.Rules = len(rules)
	return gp, rules, nil
}

// loadHolidays makes the selection's years available before expansion when
// holidays are excluded, so an unreachable source fails the request instead
// of planning holidays as workdays.
func (s *Service) loadHolidays(ctx context.Context, target Target, policy generic.CalendarPolicy, sel generic.DateSelection) error {
	if policy.IncludeHolidays {
		return nil
	}
	loader, ok := s.Holidays.(generic.HolidayLoader)
	if !ok {
		return nil
	}
	if err := loader.LoadHolidays(ctx, string(target.ClientID), sel.Years()...); err != nil {
		return &generic.PersistenceError{Op: generic.OpLookup, GroupingID: target.GroupingID, Err: err}
	}
	return nil
}

func plannedEffort(rules []generic.Rule, segments []generic.Segment) generic.Amount {
	days := make(map[string]int, len(segments))
	for _, seg := range segments {
		days[seg.Start.String()] = seg.Days
	}
	total := generic.NewAmountFromInt(0, generic.UnitMilliseconds)
	for _, r := range rules {
		total = total.Add(r.Effort().Mul(decimal.NewFromInt(int64(days[r.SegmentStart.String()]))))
	}
	return total
}

func inGroup(i int, err error) error {
	var ve *generic.ValidationError
	if errors.As(err, &ve) && ve.Group < 0 {
		ve.Group = i
	}
	return err
}

// =============================================================================
// REPLACE - The transactional swap
// =============================================================================

// Replace swaps a grouping's rules for the ones materialized from req.
func (s *Service) Replace(ctx context.Context, req ReplaceRequest) (*ReplaceResult, error) {
	log := logging.FromContext(ctx, s.Logger)

	plan, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("grouping_id", string(plan.GroupingID)))

	release, err := s.lock(ctx, plan.GroupingID)
	if err != nil {
		return nil, err
	}
	defer release()

	batches, err := s.swap(ctx, plan.GroupingID, plan.Rules)
	if err != nil {
		log.Error("replace grouping failed", zap.Error(err))
		return nil, err
	}

	s.recompute(ctx, log, plan.GroupingID)

	log.Info("grouping replaced",
		zap.Int("groups", len(plan.Groups)),
		zap.Int("segments", plan.Segments()),
		zap.Int("rules", len(plan.Rules)),
		zap.Int("batches", batches),
	)

	return &ReplaceResult{
		GroupingID:    plan.GroupingID,
		Count:         len(plan.Rules),
		Segments:      plan.Segments(),
		Batches:       batches,
		PlannedEffort: plan.PlannedEffort,
	}, nil
}

func (s *Service) swap(ctx context.Context, groupingID generic.GroupingID, rules []generic.Rule) (int, error) {
	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	batches := 0
	op := generic.OpDelete
	err := s.Store.WithTx(ctx, func(tx generic.RuleStore) error {
		if _, err := tx.DeleteByGrouping(ctx, groupingID); err != nil {
			return &generic.PersistenceError{Op: generic.OpDelete, GroupingID: groupingID, Err: err}
		}
		op = generic.OpInsert
		for start := 0; start < len(rules); start += size {
			end := start + size
			if end > len(rules) {
				end = len(rules)
			}
			if err := tx.InsertBatch(ctx, rules[start:end]); err != nil {
				return &generic.PersistenceError{Op: generic.OpInsert, GroupingID: groupingID, Err: err}
			}
			batches++
		}
		return nil
	})
	if err != nil {
		var pe *generic.PersistenceError
		if !errors.As(err, &pe) {
			err = &generic.PersistenceError{Op: op, GroupingID: groupingID, Err: err}
		}
		return 0, err
	}
	return batches, nil
}

func (s *Service) lock(ctx context.Context, groupingID generic.GroupingID) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	release, err := s.Locker.Lock(ctx, string(groupingID))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, generic.ErrLockUnavailable) {
			return nil, err
		}
		return nil, errors.Join(generic.ErrLockUnavailable, err)
	}
	return release, nil
}

func (s *Service) recompute(ctx context.Context, log *zap.Logger, groupingID generic.GroupingID) {
	if s.Summaries == nil {
		return
	}
	if err := s.Summaries.RecomputeGroupingPeriod(ctx, groupingID); err != nil {
		log.Warn("grouping summary not refreshed", zap.Error(err))
	}
}

// =============================================================================
// GROUPING READS AND DELETES
// =============================================================================

// Preview runs the replace computation without writing anything.
func (s *Service) Preview(ctx context.Context, req ReplaceRequest) (*Plan, error) {
	return s.Plan(ctx, req)
}

// DeleteGrouping removes every rule of a grouping and returns how many.
func (s *Service) DeleteGrouping(ctx context.Context, groupingID generic.GroupingID) (int, error) {
	groupingID = generic.GroupingID(strings.TrimSpace(string(groupingID)))
	if groupingID == "" {
		return 0, generic.NewValidationError("agrupador_id", generic.ErrMissingGrouping)
	}
	log := logging.FromContext(ctx, s.Logger).With(zap.String("grouping_id", string(groupingID)))

	release, err := s.lock(ctx, groupingID)
	if err != nil {
		return 0, err
	}
	defer release()

	var removed int
	err = s.Store.WithTx(ctx, func(tx generic.RuleStore) error {
		n, err := tx.DeleteByGrouping(ctx, groupingID)
		removed = n
		return err
	})
	if err != nil {
		return 0, &generic.PersistenceError{Op: generic.OpDelete, GroupingID: groupingID, Err: err}
	}

	s.recompute(ctx, log, groupingID)
	log.Info("grouping deleted", zap.Int("rules", removed))
	return removed, nil
}

// Rules lists a grouping's stored rules.
func (s *Service) Rules(ctx context.Context, groupingID generic.GroupingID) ([]generic.Rule, error) {
	groupingID = generic.GroupingID(strings.TrimSpace(string(groupingID)))
	if groupingID == "" {
		return nil, generic.NewValidationError("agrupador_id", generic.ErrMissingGrouping)
	}
	rules, err := s.Store.ListByGrouping(ctx, groupingID)
	if err != nil {
		return nil, &generic.PersistenceError{Op: generic.OpLoad, GroupingID: groupingID, Err: err}
	}
	return rules, nil
}

// Summary returns the grouping's stored summary.
func (s *Service) Summary(ctx context.Context, groupingID generic.GroupingID) (*generic.GroupingSummary, error) {
	if s.Summaries == nil {
		rules, err := s.Rules(ctx, groupingID)
		if err != nil {
			return nil, err
		}
		if len(rules) == 0 {
			return nil, generic.ErrGroupingNotFound
		}
		summary := generic.SummarizeRules(groupingID, rules)
		return &summary, nil
	}
	summary, err := s.Summaries.GetGroupingSummary(ctx, groupingID)
	if err != nil && !errors.Is(err, generic.ErrGroupingNotFound) {
		return nil, &generic.PersistenceError{Op: generic.OpLoad, GroupingID: groupingID, Err: err}
	}
	return summary, err
}
