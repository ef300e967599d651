package loops

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/aristath/ibkr-bridge/internal/scoring"
)

// DedupSweepSchedule is the cron expression driving RunDedupSweep's
// eviction of stale dedup-window entries.
const DedupSweepSchedule = "0 */10 * * * *"

// dedupKey identifies an alert for auto-eval deduplication: (symbol,
// strategy).
type dedupKey struct {
	symbol   string
	strategy string
}

// AutoEval enqueues ensemble scoring on alert ingest, bounded by a
// concurrency cap and a deduplication window.
type AutoEval struct {
	ensemble     *scoring.Ensemble
	store        persistence.EvaluationStore
	bus          *events.Bus
	log          zerolog.Logger
	dedupWindow  time.Duration
	sem          chan struct{}

	enabled bool

	mu   sync.Mutex
	last map[dedupKey]time.Time
}

// NewAutoEval creates a loop with the given concurrency cap and dedup
// window.
func NewAutoEval(ensemble *scoring.Ensemble, store persistence.EvaluationStore, bus *events.Bus, concurrencyCap int, dedupWindow time.Duration, log zerolog.Logger) *AutoEval {
	if concurrencyCap < 1 {
		concurrencyCap = 1
	}
	return &AutoEval{
		ensemble:    ensemble,
		store:       store,
		bus:         bus,
		log:         log.With().Str("component", "auto_eval").Logger(),
		dedupWindow: dedupWindow,
		sem:         make(chan struct{}, concurrencyCap),
		enabled:     true,
		last:        make(map[dedupKey]time.Time),
	}
}

func (a *AutoEval) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// OnAlert is called synchronously on alert ingest. It either enqueues a
// scoring task on a background goroutine (bounded by the concurrency
// semaphore) or skips if disabled or inside the dedup window.
func (a *AutoEval) OnAlert(ctx context.Context, alert *persistence.Alert) {
	strategy := ""
	if alert.Strategy != nil {
		strategy = *alert.Strategy
	}
	key := dedupKey{symbol: alert.Symbol, strategy: strategy}

	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	if last, ok := a.last[key]; ok && time.Since(last) < a.dedupWindow {
		a.mu.Unlock()
		a.log.Debug().Str("symbol", alert.Symbol).Msg("auto-eval skipped: inside dedup window")
		return
	}
	a.last[key] = time.Now()
	a.mu.Unlock()

	select {
	case a.sem <- struct{}{}:
	default:
		a.log.Warn().Str("symbol", alert.Symbol).Msg("auto-eval skipped: concurrency cap reached")
		return
	}

	go func() {
		defer func() { <-a.sem }()
		a.evaluate(ctx, alert)
	}()
}

// RunDedupSweep periodically evicts dedup-window entries that have aged
// out, so a.last doesn't grow without bound across a long-running
// process. Scheduled on a cron expression rather than a plain ticker since
// the sweep cadence (every 10 minutes, by default) is independent of and
// much coarser than the dedup window itself. Runs until ctx is cancelled.
func (a *AutoEval) RunDedupSweep(ctx context.Context, schedule string) {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(schedule, a.sweepExpired); err != nil {
		a.log.Error().Err(err).Str("schedule", schedule).Msg("invalid dedup sweep schedule, sweep disabled")
		return
	}
	c.Start()
	defer c.Stop()
	<-ctx.Done()
}

func (a *AutoEval) sweepExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for key, last := range a.last {
		if now.Sub(last) >= a.dedupWindow {
			delete(a.last, key)
		}
	}
}

func (a *AutoEval) evaluate(ctx context.Context, alert *persistence.Alert) {
	req := scoring.Request{Symbol: alert.Symbol}
	result := a.ensemble.Evaluate(ctx, req)

	evaluation := resultToEvaluation(alert, result)
	id, err := a.store.InsertEvaluation(evaluation)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", alert.Symbol).Msg("failed to persist auto-eval result")
		return
	}

	a.bus.Publish(&events.EvaluationData{
		EvaluationID: id,
		Symbol:       alert.Symbol,
		TradeScore:   result.TradeScore,
		ShouldTrade:  result.ShouldTrade,
		Regime:       string(result.Regime),
	})
}

func resultToEvaluation(alert *persistence.Alert, result scoring.Result) *persistence.Evaluation {
	outputs := make([]persistence.ProviderOutput, 0, len(result.ProviderOutputs))
	for _, o := range result.ProviderOutputs {
		outputs = append(outputs, persistence.ProviderOutput{
			ProviderID:  o.ProviderID,
			Score:       o.Score,
			ExpectedRR:  o.ExpectedRR,
			Confidence:  o.Confidence,
			ShouldTrade: o.ShouldTrade,
			RawText:     o.RawText,
			Compliant:   o.Compliant,
		})
	}

	return &persistence.Evaluation{
		AlertID:             alertIDPtr(alert),
		ProviderOutputs:     outputs,
		TradeScore:          result.TradeScore,
		Median:              result.Median,
		ExpectedRR:          result.ExpectedRR,
		Confidence:          result.Confidence,
		ScoreSpread:         result.ScoreSpread,
		DisagreementPenalty: result.DisagreementPenalty,
		Unanimous:           result.Unanimous,
		Majority:            result.Majority,
		ShouldTrade:         result.ShouldTrade,
		Regime:              string(result.Regime),
		WeightsUsed:         result.WeightsUsed,
	}
}

func alertIDPtr(alert *persistence.Alert) *int64 {
	if alert.ID == 0 {
		return nil
	}
	id := alert.ID
	return &id
}
