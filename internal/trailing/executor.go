package trailing

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/rs/zerolog"
)

// modifiableStatuses are the only order statuses a stop order may be
// re-issued from.
var modifiableStatuses = map[persistence.OrderStatus]bool{
	persistence.OrderPreSubmitted: true,
	persistence.OrderSubmitted:    true,
}

// OrderLookup fetches the live order behind a stop order id.
type OrderLookup interface {
	GetOrderByBrokerID(orderID int64) (*persistence.Order, error)
}

// Modifier re-issues a stop order at a new price, preserving or explicitly
// overriding its OCA group.
type Modifier interface {
	ModifyStopPrice(ctx context.Context, order *persistence.Order, newStopPrice float64, ocaGroup *string) error
}

// Summary is the result of one process_trailing_stops() pass.
type Summary struct {
	Processed int
	Modified  int
	Errors    int
}

// Executor drives the trailing-stop tick: for every live position, compute
// the candidate stop under the active policy and dispatch a modification if
// it tightens. It is globally gated by a running flag; the processor runs
// single-flight.
type Executor struct {
	book     *Book
	lookup   OrderLookup
	modifier Modifier
	log      zerolog.Logger

	running atomic.Bool
	inFlight atomic.Bool

	policy atomic.Pointer[Policy]
}

func NewExecutor(book *Book, lookup OrderLookup, modifier Modifier, log zerolog.Logger) *Executor {
	e := &Executor{book: book, lookup: lookup, modifier: modifier, log: log.With().Str("component", "trailing_executor").Logger()}
	e.running.Store(true)
	return e
}

// SetPolicy atomically swaps the active stop-price policy.
func (e *Executor) SetPolicy(p Policy) {
	e.policy.Store(&p)
}

// Stop disables processing; subsequent Process calls are a no-op.
func (e *Executor) Stop() { e.running.Store(false) }

// Start re-enables processing.
func (e *Executor) Start() { e.running.Store(true) }

// Process runs one process_trailing_stops() pass. It is a no-op when the
// executor is stopped or a pass is already in flight.
func (e *Executor) Process(ctx context.Context) Summary {
	if !e.running.Load() {
		return Summary{}
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return Summary{}
	}
	defer e.inFlight.Store(false)

	var summary Summary
	for _, pos := range e.book.Snapshot() {
		summary.Processed++
		e.processOne(ctx, &pos, &summary)
	}
	return summary
}

func (e *Executor) processOne(ctx context.Context, pos *Position, summary *Summary) {
	policy := e.policy.Load()
	if policy == nil {
		return
	}
	candidate := policy.candidate(pos)
	if candidate == nil {
		return
	}
	if !tightens(pos, *candidate) {
		return
	}

	if pos.StopOrderID == nil {
		// No live stop to modify yet; just commit the candidate so future
		// ticks compare against it.
		e.book.commitStop(pos.Symbol, *candidate)
		if pos.BreakevenTriggered {
			e.book.markBreakevenTriggered(pos.Symbol)
		}
		return
	}

	order, err := e.lookup.GetOrderByBrokerID(*pos.StopOrderID)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("stop order lookup failed")
		summary.Errors++
		return
	}
	if !modifiableStatuses[order.Status] {
		return
	}

	if err := e.modifier.ModifyStopPrice(ctx, order, *candidate, order.OCAGroup); err != nil {
		e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("stop modification rejected by broker")
		summary.Errors++
		return
	}

	e.book.commitStop(pos.Symbol, *candidate)
	if pos.BreakevenTriggered {
		e.book.markBreakevenTriggered(pos.Symbol)
	}
	summary.Modified++
}

func (s Summary) String() string {
	return fmt.Sprintf("processed=%d modified=%d errors=%d", s.Processed, s.Modified, s.Errors)
}
