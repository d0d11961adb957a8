package portfolio_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
	testhelpers "github.com/delfos-capital/delfos/internal/testing"
)

func newTestRepo(t *testing.T) *portfolio.Repository {
	t.Helper()
	db, _ := testhelpers.NewTestDB(t, "campaigns")
	return portfolio.NewRepository(db.Conn(), zerolog.Nop())
}

func TestReserveCash(t *testing.T) {
	repo := newTestRepo(t)

	pf := testhelpers.NewPortfolioFixture(10000)
	require.NoError(t, repo.CreatePortfolio(pf))

	t.Run("reserves within available cash", func(t *testing.T) {
		require.NoError(t, repo.ReserveCash(pf.ID, 4000))

		got, err := repo.GetPortfolio(pf.ID)
		require.NoError(t, err)
		assert.InDelta(t, 6000, got.AvailableCash, 0.001)
	})

	t.Run("rejects reservation exceeding available cash", func(t *testing.T) {
		err := repo.ReserveCash(pf.ID, 6001)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInsufficientCapital))

		got, err := repo.GetPortfolio(pf.ID)
		require.NoError(t, err)
		assert.InDelta(t, 6000, got.AvailableCash, 0.001)
	})

	t.Run("unknown portfolio returns not found", func(t *testing.T) {
		err := repo.ReserveCash("missing", 100)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		err := repo.ReserveCash(pf.ID, 0)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}

// Two concurrent reservations that each want the full balance must resolve to
// exactly one winner, with available cash ending at zero.
func TestReserveCash_ConcurrentDoubleReservation(t *testing.T) {
	repo := newTestRepo(t)

	pf := testhelpers.NewPortfolioFixture(5000)
	require.NoError(t, repo.CreatePortfolio(pf))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = repo.ReserveCash(pf.ID, 5000)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, domain.ErrInsufficientCapital))
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := repo.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, got.AvailableCash, 0.001)
}

func TestCreditCash(t *testing.T) {
	repo := newTestRepo(t)

	pf := testhelpers.NewPortfolioFixture(1000)
	require.NoError(t, repo.CreatePortfolio(pf))

	require.NoError(t, repo.CreditCash(pf.ID, 2500))

	got, err := repo.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3500, got.AvailableCash, 0.001)
}

func TestDebitCashClamped(t *testing.T) {
	repo := newTestRepo(t)

	pf := testhelpers.NewPortfolioFixture(1000)
	require.NoError(t, repo.CreatePortfolio(pf))

	require.NoError(t, repo.DebitCashClamped(pf.ID, 400))
	got, err := repo.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 600, got.AvailableCash, 0.001)

	// Debiting more than the balance clamps at zero instead of going negative
	require.NoError(t, repo.DebitCashClamped(pf.ID, 9999))
	got, err = repo.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, got.AvailableCash, 0.001)
}

func TestPositionLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	pos := testhelpers.NewPositionFixture("camp-1", "AAPL", 10, 100, 110)
	id, err := repo.CreatePosition(pos)
	require.NoError(t, err)

	open, err := repo.GetOpenPositions("camp-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "AAPL", open[0].Symbol)
	assert.InDelta(t, 1100, open[0].MarketValue(), 0.001)

	require.NoError(t, repo.ClosePosition(id))

	open, err = repo.GetOpenPositions("camp-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestProfileRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	profile := testhelpers.NewProfileFixture("user-1")
	require.NoError(t, repo.UpsertProfile(profile))

	got, err := repo.GetProfile("user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierElevated, got.Tier)
	assert.Equal(t, 3, got.PlanLevel)
	assert.True(t, got.TermsAccepted)

	_, err = repo.GetProfile("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
