package round

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rgs "github.com/Ashenafi-pixel/gamecrafter-crash-engine"
)

// Runs against a real database only when CRASH_TEST_DATABASE_URL is set.
func newTestPGStore(t *testing.T) *PGStore {
	dsn := os.Getenv("CRASH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CRASH_TEST_DATABASE_URL not set")
	}
	db, err := rgs.OpenDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewPGStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestPGStore_RoundLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestPGStore(t)
	roundID := uuid.New().String()
	winner, loser := "w-"+roundID, "l-"+roundID

	seedRound(t, s, roundID, 1)
	deposit(t, s, winner, "1", "EVM")
	deposit(t, s, loser, "1", "SOL")

	require.NoError(t, s.PlaceBet(ctx, &Bet{RoundID: roundID, UserID: winner, Amount: dec("0.5")}, "EVM"))
	require.NoError(t, s.PlaceBet(ctx, &Bet{RoundID: roundID, UserID: loser, Amount: dec("0.5")}, "SOL"))
	assert.ErrorIs(t, s.PlaceBet(ctx, &Bet{RoundID: roundID, UserID: loser, Amount: dec("0.1")}, "SOL"), ErrDuplicateBet)
	assert.ErrorIs(t, s.PlaceBet(ctx, &Bet{RoundID: roundID, UserID: "broke-" + roundID, Amount: dec("0.1")}, "SOL"), ErrInsufficientBalance)

	require.NoError(t, s.StartRound(ctx, roundID, time.Now()))
	b, err := s.CashoutBet(ctx, roundID, winner, 2, "EVM")
	require.NoError(t, err)
	assert.True(t, b.Profit.Equal(dec("0.5")))

	n, err := s.CrashRound(ctx, roundID, 2.5, "secret", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.CashoutBet(ctx, roundID, loser, 1.5, "SOL")
	assert.ErrorIs(t, err, ErrNoActiveBet)

	wb, err := s.Balance(ctx, winner)
	require.NoError(t, err)
	assert.True(t, wb.Equal(dec("1.5")), "winner balance %s", wb)
	lb, _ := s.Balance(ctx, loser)
	assert.True(t, lb.Equal(dec("0.5")), "loser balance %s", lb)

	r, err := s.GetRound(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCrashed, r.Status)
	assert.Equal(t, "secret", r.ServerSeed)

	chain, err := s.UserChain(ctx, loser)
	require.NoError(t, err)
	assert.Equal(t, "SOL", chain)

	_, err = s.GetRound(ctx, "missing-"+roundID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStore_DuplicateBeatsBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestPGStore(t)
	roundID := uuid.New().String()
	user := "dup-" + roundID

	seedRound(t, s, roundID, 1)
	deposit(t, s, user, "0.5", "EVM")

	require.NoError(t, s.PlaceBet(ctx, &Bet{RoundID: roundID, UserID: user, Amount: dec("0.5")}, "EVM"))
	err := s.PlaceBet(ctx, &Bet{RoundID: roundID, UserID: user, Amount: dec("0.5")}, "EVM")
	assert.ErrorIs(t, err, ErrDuplicateBet, "duplicate is reported before the drained balance")
}
