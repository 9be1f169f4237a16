package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmind/core-gateway/pkg/api"
)

func freeAccount(id string) Account {
	return Account{ID: id, Plan: PlanFree, Balance: 50}
}

func proAccount(id string) Account {
	return Account{ID: id, Plan: PlanPro, Balance: 100000}
}

func TestReserve_RateLimitBeforeBalance(t *testing.T) {
	l := New()
	acct := freeAccount("acct-1")

	// Free tier allows 1 req/s with burst 1: first passes, second is throttled
	tk, err := l.Reserve(acct, 5)
	assert.Nil(t, err)
	assert.NotNil(t, tk)
	assert.Equal(t, int64(45), l.Balance(acct.ID))

	_, err = l.Reserve(acct, 5)
	assert.NotNil(t, err)
	assert.Equal(t, api.KindRateLimited, err.Kind)

	// Throttled request must not have touched the balance
	assert.Equal(t, int64(45), l.Balance(acct.ID))
}

func TestReserve_QuotaExceeded(t *testing.T) {
	l := New()
	acct := proAccount("acct-quota")

	_, err := l.Reserve(acct, 100001)
	assert.NotNil(t, err)
	assert.Equal(t, api.KindQuotaExceeded, err.Kind)

	// Rejected reservation leaves the balance untouched
	assert.Equal(t, int64(100000), l.Balance(acct.ID))

	// Exact remaining balance is admitted
	tk, err := l.Reserve(acct, 100000)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), l.Balance(acct.ID))
	assert.NoError(t, l.Release(tk))
}

func TestReserve_MinimumOneUnit(t *testing.T) {
	l := New()
	acct := proAccount("acct-min")

	tk, err := l.Reserve(acct, 0)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), tk.Units)
	assert.Equal(t, int64(99999), l.Balance(acct.ID))
}

func TestCommit_ReconcilesBalance(t *testing.T) {
	l := New()
	acct := proAccount("acct-commit")

	// Over-estimate: reserve 10, actual 3, refund 7
	tk, err := l.Reserve(acct, 10)
	assert.Nil(t, err)
	assert.Equal(t, int64(99990), l.Balance(acct.ID))

	assert.NoError(t, l.Commit(tk, 3))
	assert.Equal(t, int64(99997), l.Balance(acct.ID))
	assert.Equal(t, int64(3), tk.Units)

	// Under-estimate: reserve 5, actual 12, extra 7 charged
	tk, err = l.Reserve(acct, 5)
	assert.Nil(t, err)
	assert.NoError(t, l.Commit(tk, 12))
	assert.Equal(t, int64(99985), l.Balance(acct.ID))
}

func TestCommit_OverdraftClampsAtZero(t *testing.T) {
	l := New()
	acct := Account{ID: "acct-clamp", Plan: PlanFree, Balance: 50}

	tk, err := l.Reserve(acct, 45)
	assert.Nil(t, err)
	assert.Equal(t, int64(5), l.Balance(acct.ID))

	// Actual usage exceeded everything that remained
	assert.NoError(t, l.Commit(tk, 200))
	assert.Equal(t, int64(0), l.Balance(acct.ID))
}

func TestRelease_RestoresReservation(t *testing.T) {
	l := New()
	acct := proAccount("acct-release")

	tk, err := l.Reserve(acct, 25)
	assert.Nil(t, err)
	assert.Equal(t, int64(99975), l.Balance(acct.ID))

	assert.NoError(t, l.Release(tk))
	assert.Equal(t, int64(100000), l.Balance(acct.ID))
}

func TestTicket_ExactlyOneFinalize(t *testing.T) {
	l := New()
	acct := proAccount("acct-final")

	tk, err := l.Reserve(acct, 10)
	assert.Nil(t, err)

	assert.NoError(t, l.Commit(tk, 10))
	assert.ErrorIs(t, l.Commit(tk, 10), ErrFinalized)
	assert.ErrorIs(t, l.Release(tk), ErrFinalized)

	tk2, err := l.Reserve(acct, 10)
	assert.Nil(t, err)

	assert.NoError(t, l.Release(tk2))
	assert.ErrorIs(t, l.Release(tk2), ErrFinalized)
	assert.ErrorIs(t, l.Commit(tk2, 0), ErrFinalized)

	// Double finalize must not corrupt the balance
	assert.Equal(t, int64(99990), l.Balance(acct.ID))
}

func TestCustomPlan_UsesAccountOverrides(t *testing.T) {
	l := New()
	acct := Account{ID: "acct-custom", Plan: PlanCustom, RPS: 2, Burst: 2, Balance: 10}

	tk, err := l.Reserve(acct, 4)
	assert.Nil(t, err)
	assert.Equal(t, int64(6), l.Balance(acct.ID))

	_, err = l.Reserve(acct, 7)
	assert.NotNil(t, err)
	assert.Equal(t, api.KindQuotaExceeded, err.Kind)

	assert.NoError(t, l.Commit(tk, 4))
}

func TestBalance_UnknownAccount(t *testing.T) {
	l := New()
	assert.Equal(t, int64(-1), l.Balance("never-seen"))
}

func TestResetCycle(t *testing.T) {
	l := New()
	acct := freeAccount("acct-reset")

	tk, err := l.Reserve(acct, 50)
	assert.Nil(t, err)
	assert.NoError(t, l.Commit(tk, 50))
	assert.Equal(t, int64(0), l.Balance(acct.ID))

	l.ResetCycle(acct.ID, 50)
	assert.Equal(t, int64(50), l.Balance(acct.ID))

	// Unknown account is a no-op
	l.ResetCycle("never-seen", 100)
	assert.Equal(t, int64(-1), l.Balance("never-seen"))
}

func TestLedger_ConcurrentAccounts(t *testing.T) {
	l := New()

	const accounts = 8
	const perAccount = 20

	var wg sync.WaitGroup
	for i := 0; i < accounts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			acct := Account{ID: fmt.Sprintf("acct-%d", n), Plan: PlanEnterprise, Balance: 1500000}
			for j := 0; j < perAccount; j++ {
				// Enterprise burst (100) comfortably covers the loop, so
				// every reservation is admitted
				tk, err := l.Reserve(acct, 10)
				if !assert.Nil(t, err) {
					continue
				}
				if j%2 == 0 {
					_ = l.Commit(tk, 10)
				} else {
					_ = l.Release(tk)
				}
			}
		}(i)
	}
	wg.Wait()

	// Half committed at 10 units each, half released
	for i := 0; i < accounts; i++ {
		id := fmt.Sprintf("acct-%d", i)
		assert.Equal(t, int64(1500000-10*perAccount/2), l.Balance(id))
	}
}
