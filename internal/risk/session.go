// Package risk implements the pre-trade admission gate and the daily
// trading session state machine.
package risk

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so the gate and session never read the
// clock directly — both are fully injectable in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// NewYorkLocation is the calendar every trading-hour computation is
// anchored to.
var NewYorkLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// Session is the process-wide daily trading state. The risk gate reads it
// on every check; it is constructed by the caller, and the operator unlock
// route also clears its lock.
type Session struct {
	mu sync.Mutex

	date              string // YYYY-MM-DD in America/New_York
	realizedPnL       float64
	tradeCount        int
	consecutiveLosses int
	lastTradeTime     time.Time
	lastLossTime      time.Time
	locked            bool
	lockReason        string

	clock Clock
}

// NewSession creates a session dated to clock.Now() in America/New_York.
func NewSession(clock Clock) *Session {
	s := &Session{clock: clock}
	s.date = dateKey(clock.Now())
	return s
}

func dateKey(t time.Time) string {
	return t.In(NewYorkLocation).Format("2006-01-02")
}

// EnsureToday lazily rolls the session over to a fresh state if the current
// America/New_York date differs from the session's date.
func (s *Session) EnsureToday() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureTodayLocked()
}

func (s *Session) ensureTodayLocked() {
	today := dateKey(s.clock.Now())
	if today == s.date {
		return
	}
	s.date = today
	s.realizedPnL = 0
	s.tradeCount = 0
	s.consecutiveLosses = 0
	s.lastTradeTime = time.Time{}
	s.lastLossTime = time.Time{}
	s.locked = false
	s.lockReason = ""
}

// RecordTrade applies the outcome of a completed trade to the session.
func (s *Session) RecordTrade(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureTodayLocked()

	s.realizedPnL += pnl
	s.tradeCount++
	now := s.clock.Now()
	s.lastTradeTime = now

	if pnl < 0 {
		s.consecutiveLosses++
		s.lastLossTime = now
	} else {
		s.consecutiveLosses = 0
	}
}

// Lock manually locks the session with an operator-supplied reason.
func (s *Session) Lock(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
	s.lockReason = reason
}

// Unlock manually clears a lock.
func (s *Session) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	s.lockReason = ""
}

// Reset replaces the session with a fresh state for today, regardless of
// whether the date has changed — an explicit operator action.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = dateKey(s.clock.Now())
	s.realizedPnL = 0
	s.tradeCount = 0
	s.consecutiveLosses = 0
	s.lastTradeTime = time.Time{}
	s.lastLossTime = time.Time{}
	s.locked = false
	s.lockReason = ""
}

// Snapshot is an immutable point-in-time read of session state, used by the
// gate's single critical section and by the wire event publisher.
type Snapshot struct {
	Date              string
	RealizedPnL       float64
	TradeCount        int
	ConsecutiveLosses int
	LastTradeTime     time.Time
	LastLossTime      time.Time
	Locked            bool
	LockReason        string
}

// Snapshot reads all session fields under one lock acquisition.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureTodayLocked()

	return Snapshot{
		Date:              s.date,
		RealizedPnL:       s.realizedPnL,
		TradeCount:        s.tradeCount,
		ConsecutiveLosses: s.consecutiveLosses,
		LastTradeTime:     s.lastTradeTime,
		LastLossTime:      s.lastLossTime,
		Locked:            s.locked,
		LockReason:        s.lockReason,
	}
}
