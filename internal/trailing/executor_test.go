package trailing

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	orders map[int64]*persistence.Order
}

func (f *fakeLookup) GetOrderByBrokerID(orderID int64) (*persistence.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New("not found")
	}
	return o, nil
}

type fakeModifier struct {
	calls int
	err   error
}

func (f *fakeModifier) ModifyStopPrice(ctx context.Context, order *persistence.Order, newStopPrice float64, ocaGroup *string) error {
	f.calls++
	return f.err
}

func TestExecutor_NoOpWhenStopped(t *testing.T) {
	book := NewBook()
	book.Upsert("AAPL", 100, 150, 160, 1000)
	lookup := &fakeLookup{orders: map[int64]*persistence.Order{}}
	modifier := &fakeModifier{}
	exec := NewExecutor(book, lookup, modifier, zerolog.Nop())
	exec.SetPolicy(Policy{Kind: PolicyFixedPct, FixedPct: 5})
	exec.Stop()

	summary := exec.Process(context.Background())
	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, 0, modifier.calls)
}

func TestExecutor_CommitsFirstCandidateWithoutLiveOrder(t *testing.T) {
	book := NewBook()
	book.Upsert("AAPL", 100, 150, 160, 1000)
	exec := NewExecutor(book, &fakeLookup{orders: map[int64]*persistence.Order{}}, &fakeModifier{}, zerolog.Nop())
	exec.SetPolicy(Policy{Kind: PolicyFixedPct, FixedPct: 5})

	summary := exec.Process(context.Background())
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Modified) // no stop order id to modify yet

	pos, ok := book.Get("AAPL")
	require.True(t, ok)
	require.NotNil(t, pos.StopPrice)
}

func TestExecutor_ModifiesLiveStopWhenTightens(t *testing.T) {
	book := NewBook()
	book.Upsert("AAPL", 100, 150, 160, 1000)
	book.AttachStop("AAPL", 42, 150)

	order := &persistence.Order{OrderID: 42, Status: persistence.OrderSubmitted}
	lookup := &fakeLookup{orders: map[int64]*persistence.Order{42: order}}
	modifier := &fakeModifier{}
	exec := NewExecutor(book, lookup, modifier, zerolog.Nop())
	exec.SetPolicy(Policy{Kind: PolicyFixedPct, FixedPct: 5}) // candidate = 160*0.95 = 152, tightens vs 150

	summary := exec.Process(context.Background())
	assert.Equal(t, 1, summary.Modified)
	assert.Equal(t, 1, modifier.calls)

	pos, _ := book.Get("AAPL")
	require.NotNil(t, pos.StopPrice)
	assert.InDelta(t, 152.0, *pos.StopPrice, 0.001)
}

func TestExecutor_RejectsModificationOnNonModifiableStatus(t *testing.T) {
	book := NewBook()
	book.Upsert("AAPL", 100, 150, 160, 1000)
	book.AttachStop("AAPL", 42, 150)

	order := &persistence.Order{OrderID: 42, Status: persistence.OrderFilled}
	lookup := &fakeLookup{orders: map[int64]*persistence.Order{42: order}}
	modifier := &fakeModifier{}
	exec := NewExecutor(book, lookup, modifier, zerolog.Nop())
	exec.SetPolicy(Policy{Kind: PolicyFixedPct, FixedPct: 5})

	summary := exec.Process(context.Background())
	assert.Equal(t, 0, summary.Modified)
	assert.Equal(t, 0, modifier.calls)
}

func TestExecutor_CountsErrorAndKeepsPriorStopOnBrokerRejection(t *testing.T) {
	book := NewBook()
	book.Upsert("AAPL", 100, 150, 160, 1000)
	book.AttachStop("AAPL", 42, 150)

	order := &persistence.Order{OrderID: 42, Status: persistence.OrderSubmitted}
	lookup := &fakeLookup{orders: map[int64]*persistence.Order{42: order}}
	modifier := &fakeModifier{err: errors.New("broker rejected")}
	exec := NewExecutor(book, lookup, modifier, zerolog.Nop())
	exec.SetPolicy(Policy{Kind: PolicyFixedPct, FixedPct: 5})

	summary := exec.Process(context.Background())
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 0, summary.Modified)

	pos, _ := book.Get("AAPL")
	assert.Equal(t, 150.0, *pos.StopPrice)
}

func TestExecutor_DiscardsLoosenCandidate(t *testing.T) {
	book := NewBook()
	book.Upsert("AAPL", 100, 150, 140, 1000) // price dropped, candidate would loosen
	book.AttachStop("AAPL", 42, 145)

	order := &persistence.Order{OrderID: 42, Status: persistence.OrderSubmitted}
	lookup := &fakeLookup{orders: map[int64]*persistence.Order{42: order}}
	modifier := &fakeModifier{}
	exec := NewExecutor(book, lookup, modifier, zerolog.Nop())
	exec.SetPolicy(Policy{Kind: PolicyFixedPct, FixedPct: 5}) // candidate = 140*0.95=133, looser than 145

	summary := exec.Process(context.Background())
	assert.Equal(t, 0, summary.Modified)
	assert.Equal(t, 0, modifier.calls)

	pos, _ := book.Get("AAPL")
	assert.Equal(t, 145.0, *pos.StopPrice)
}
