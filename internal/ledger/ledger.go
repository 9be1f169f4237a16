package ledger

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/openmind/core-gateway/pkg/api"
)

// Account is the admission view of one API key: its tier and the runtime
// ceilings the ledger enforces. Custom plans carry explicit overrides.
type Account struct {
	ID      string
	Plan    Plan
	RPS     float64 // used when Plan == PlanCustom
	Burst   int
	Balance int64 // cycle balance at first sight
}

// ErrFinalized is returned when a ticket is committed or released twice.
var ErrFinalized = errors.New("ticket already finalized")

type ticketState int

const (
	stateReserved ticketState = iota
	stateCommitted
	stateReleased
)

// Ticket is a live reservation. Exactly one of Commit/Release consumes it.
type Ticket struct {
	ID        string
	AccountID string
	Units     int64

	entry *entry
	state ticketState
}

type entry struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	plan    Plan
	limit   float64
	balance int64
}

// Ledger tracks per-account rate-limit tokens and usage-unit balances.
// Each account's budget is its own critical section; accounts never
// contend with each other beyond the map lookup.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

func (l *Ledger) getEntry(acct Account) *entry {
	l.mu.RLock()
	e, exists := l.entries[acct.ID]
	l.mu.RUnlock()

	if exists {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if e, exists = l.entries[acct.ID]; exists {
		return e
	}

	limits, ok := LimitsFor(acct.Plan)
	if !ok {
		// Custom plan: ceilings come from the account row
		limits = Limits{RequestsPerSecond: acct.RPS, Burst: acct.Burst, CycleUnits: acct.Balance}
		if limits.Burst <= 0 {
			limits.Burst = int(limits.RequestsPerSecond)
		}
		if limits.Burst <= 0 {
			limits.Burst = 1
		}
	}

	e = &entry{
		bucket:  rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.Burst),
		plan:    acct.Plan,
		limit:   limits.RequestsPerSecond,
		balance: acct.Balance,
	}
	l.entries[acct.ID] = e
	return e
}

// Reserve admits a request against the account's rate ceiling and then
// optimistically decrements the cycle balance by the estimate. The two
// guards run in sequence: a rate-limit rejection never touches the balance.
func (l *Ledger) Reserve(acct Account, estimatedUnits int64) (*Ticket, *api.Error) {
	if estimatedUnits < 1 {
		estimatedUnits = 1
	}

	e := l.getEntry(acct)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bucket.Allow() {
		return nil, api.RateLimitedError(e.limit)
	}

	if e.balance-estimatedUnits < 0 {
		return nil, api.QuotaExceededError(string(e.plan))
	}
	e.balance -= estimatedUnits

	return &Ticket{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		Units:     estimatedUnits,
		entry:     e,
	}, nil
}

// Commit reconciles a reservation against the actual upstream-reported
// usage. Overdraft beyond the remaining balance clamps at zero rather than
// going negative.
func (l *Ledger) Commit(t *Ticket, actualUnits int64) error {
	if actualUnits < 0 {
		actualUnits = 0
	}

	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()

	if t.state != stateReserved {
		return ErrFinalized
	}
	t.state = stateCommitted

	t.entry.balance += t.Units - actualUnits
	if t.entry.balance < 0 {
		t.entry.balance = 0
	}
	t.Units = actualUnits
	return nil
}

// Release restores the reservation untouched. Used when the request never
// reached upstream or the transport failed after admission.
func (l *Ledger) Release(t *Ticket) error {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()

	if t.state != stateReserved {
		return ErrFinalized
	}
	t.state = stateReleased

	t.entry.balance += t.Units
	return nil
}

// Balance returns the remaining cycle balance for an account, or -1 when
// the account has not been seen this process.
func (l *Ledger) Balance(accountID string) int64 {
	l.mu.RLock()
	e, ok := l.entries[accountID]
	l.mu.RUnlock()
	if !ok {
		return -1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// ResetCycle replaces the account's balance. Cycle rollover policy
// (calendar vs rolling) is owned by the external billing system; the
// gateway only applies the reset it is told about.
func (l *Ledger) ResetCycle(accountID string, units int64) {
	l.mu.RLock()
	e, ok := l.entries[accountID]
	l.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.balance = units
	e.mu.Unlock()
}
