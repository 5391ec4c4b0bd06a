package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReapStaleRuns marks non-terminal runs with no progress since the cutoff as
// failed. Runs abandoned mid-sequence (a crash between a supplier call and
// its persisted transition) otherwise stay in an intermediate state forever.
// Returns the number of runs reaped.
func (s *BookingService) ReapStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	before := time.Now().UTC().Add(-olderThan)

	runs, err := s.repo.ListStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list stale runs: %w", err)
	}

	for i := range runs {
		run := &runs[i]
		s.logger.WarnContext(ctx, "reaping stale booking run",
			slog.String("run_id", run.ID),
			slog.String("state", run.State),
			slog.Time("last_update", run.UpdatedAt),
		)
		s.failRun(ctx, run, fmt.Errorf("run abandoned in state %s, no progress for %s", run.State, olderThan))
	}

	return len(runs), nil
}
