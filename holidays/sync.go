package holidays

import (
	"context"
	"fmt"

	"github.com/warp/estimate-engine/generic"
)

// Saver persists holidays; the SQLite and Postgres stores implement it.
type Saver interface {
	SaveHoliday(ctx context.Context, h generic.Holiday) error
}

// Import copies the national holidays of the given years into a store and
// returns how many were written. Re-importing a year is an upsert.
func Import(ctx context.Context, fetcher Fetcher, saver Saver, years ...int) (int, error) {
	written := 0
	for _, year := range years {
		holidays, err := fetcher.FetchYear(ctx, year)
		if err != nil {
			return written, fmt.Errorf("fetch %d: %w", year, err)
		}
		for _, h := range holidays {
			if err := saver.SaveHoliday(ctx, h); err != nil {
				return written, fmt.Errorf("save %s: %w", h.Date, err)
			}
			written++
		}
	}
	return written, nil
}
