package loops

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/trailing"
)

// TrailingTick calls process_trailing_stops() at a configured interval and
// logs the {processed, modified, errors} summary at debug level. It does not
// publish the summary on the event bus.
type TrailingTick struct {
	executor *trailing.Executor
	bus      *events.Bus
	log      zerolog.Logger
}

func NewTrailingTick(executor *trailing.Executor, bus *events.Bus, log zerolog.Logger) *TrailingTick {
	return &TrailingTick{executor: executor, bus: bus, log: log.With().Str("component", "trailing_tick").Logger()}
}

// Run loops until ctx is cancelled, invoking Process every interval.
func (t *TrailingTick) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := t.executor.Process(ctx)
			t.log.Debug().Int("processed", summary.Processed).Int("modified", summary.Modified).Int("errors", summary.Errors).Msg("trailing tick")
		}
	}
}
