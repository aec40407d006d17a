package holidays

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/estimate-engine/generic"
)

const (
	cacheKeyPrefix    = "estimate:holidays:"
	cacheTTL          = 7 * 24 * time.Hour
	fetchTimeout      = 15 * time.Second
	defaultRetryAfter = time.Minute
)

// Fetcher returns the holidays of one year.
type Fetcher interface {
	FetchYear(ctx context.Context, year int) ([]generic.Holiday, error)
}

// Remote is a HolidayCalendar over a Fetcher. Each year is fetched once and
// kept in process; a KV, when set, is consulted before the Fetcher.
//
// A failed year is remembered for RetryAfter: LoadHolidays keeps returning
// the error and IsHoliday answers from an empty set without fetching again.
// Concurrent loads of one year share a single fetch.
type Remote struct {
	fetcher Fetcher
	kv      KV
	logger  *zap.Logger

	RetryAfter time.Duration
	Now        func() time.Time

	inflight singleflight.Group

	mu       sync.Mutex
	years    map[int]generic.HolidaySet
	failures map[int]yearFailure
}

type yearFailure struct {
	err   error
	until time.Time
}

func NewRemote(fetcher Fetcher, kv KV, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		fetcher:    fetcher,
		kv:         kv,
		logger:     logger,
		RetryAfter: defaultRetryAfter,
		Now:        time.Now,
		years:      make(map[int]generic.HolidaySet),
		failures:   make(map[int]yearFailure),
	}
}

func (r *Remote) IsHoliday(scope string, date generic.TimePoint) bool {
	return r.year(date.Year()).IsHoliday(scope, date)
}

func (r *Remote) GetHolidays(scope string, year int) []generic.Holiday {
	return r.year(year).GetHolidays(scope, year)
}

// LoadHolidays fetches every year not yet known, using ctx for the fetches.
func (r *Remote) LoadHolidays(ctx context.Context, _ string, years ...int) error {
	var errs []error
	for _, year := range years {
		if _, err := r.ensure(ctx, year); err != nil {
			errs = append(errs, fmt.Errorf("holidays %d: %w", year, err))
		}
	}
	return errors.Join(errs...)
}

// year serves IsHoliday; an unavailable year reads as holiday-free.
func (r *Remote) year(year int) generic.HolidaySet {
	set, err := r.ensure(context.Background(), year)
	if err != nil {
		return generic.HolidaySet{}
	}
	return set
}

func (r *Remote) ensure(ctx context.Context, year int) (generic.HolidaySet, error) {
	r.mu.Lock()
	if set, ok := r.years[year]; ok {
		r.mu.Unlock()
		return set, nil
	}
	if f, ok := r.failures[year]; ok && r.Now().Before(f.until) {
		r.mu.Unlock()
		return nil, f.err
	}
	r.mu.Unlock()

	v, err, _ := r.inflight.Do(strconv.Itoa(year), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		holidays, err := r.load(fetchCtx, year)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			// A caller that gave up says nothing about the source.
			if ctx.Err() == nil {
				retry := r.RetryAfter
				if retry <= 0 {
					retry = defaultRetryAfter
				}
				r.failures[year] = yearFailure{err: err, until: r.Now().Add(retry)}
				r.logger.Warn("holidays unavailable", zap.Int("year", year), zap.Duration("retry_after", retry), zap.Error(err))
			}
			return nil, err
		}
		set := generic.NewHolidaySet(holidays...)
		r.years[year] = set
		delete(r.failures, year)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(generic.HolidaySet), nil
}

func (r *Remote) load(ctx context.Context, year int) ([]generic.Holiday, error) {
	key := fmt.Sprintf("%s%d", cacheKeyPrefix, year)

	if r.kv != nil {
		if raw, err := r.kv.Get(ctx, key); err == nil {
			var cached []cachedHoliday
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return fromCache(cached), nil
			}
		} else if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("holiday cache read failed", zap.Int("year", year), zap.Error(err))
		}
	}

	holidays, err := r.fetcher.FetchYear(ctx, year)
	if err != nil {
		return nil, err
	}

	if r.kv != nil {
		raw, _ := json.Marshal(toCache(holidays))
		if err := r.kv.Set(ctx, key, string(raw), cacheTTL); err != nil {
			r.logger.Warn("holiday cache write failed", zap.Int("year", year), zap.Error(err))
		}
	}
	return holidays, nil
}

type cachedHoliday struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

func toCache(holidays []generic.Holiday) []cachedHoliday {
	out := make([]cachedHoliday, len(holidays))
	for i, h := range holidays {
		out[i] = cachedHoliday{Date: h.Date.String(), Name: h.Name}
	}
	return out
}

func fromCache(cached []cachedHoliday) []generic.Holiday {
	out := make([]generic.Holiday, 0, len(cached))
	for _, c := range cached {
		d, err := generic.ParseDate(c.Date)
		if err != nil {
			continue
		}
		out = append(out, generic.Holiday{ID: "br-" + c.Date, Date: d, Name: c.Name})
	}
	return out
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain is a HolidayCalendar that reports a holiday when any member does.
type Chain []generic.HolidayCalendar

// LoadHolidays loads every member that can fail and joins their errors.
func (c Chain) LoadHolidays(ctx context.Context, scope string, years ...int) error {
	var errs []error
	for _, cal := range c {
		if loader, ok := cal.(generic.HolidayLoader); ok {
			errs = append(errs, loader.LoadHolidays(ctx, scope, years...))
		}
	}
	return errors.Join(errs...)
}

func (c Chain) IsHoliday(scope string, date generic.TimePoint) bool {
	for _, cal := range c {
		if cal != nil && cal.IsHoliday(scope, date) {
			return true
		}
	}
	return false
}

// GetHolidays merges member holidays, keeping the first name seen per date.
func (c Chain) GetHolidays(scope string, year int) []generic.Holiday {
	seen := make(map[string]bool)
	var out []generic.Holiday
	for _, cal := range c {
		if cal == nil {
			continue
		}
		for _, h := range cal.GetHolidays(scope, year) {
			if seen[h.Date.String()] {
				continue
			}
			seen[h.Date.String()] = true
			out = append(out, h)
		}
	}
	return out
}
