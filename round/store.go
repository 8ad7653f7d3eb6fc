package round

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MaxHistory caps History queries.
const MaxHistory = 100

// Store is the durable side of the engine: rounds, bets and the ledger.
// Every method that writes more than one record does so atomically.
type Store interface {
	// CreateRound persists a new WAITING round with its public commitment.
	CreateRound(ctx context.Context, r *Round) error
	// StartRound marks the round RUNNING.
	StartRound(ctx context.Context, roundID string, startedAt time.Time) error
	// CrashRound marks the round CRASHED, reveals its seed and settles every
	// ACTIVE bet as LOST with profit = -stake, in one transaction. It returns
	// the number of bets settled.
	CrashRound(ctx context.Context, roundID string, crashPoint float64, serverSeed string, endedAt time.Time) (int, error)
	GetRound(ctx context.Context, roundID string) (*Round, error)
	// History returns the newest rounds first, at most limit (capped at MaxHistory).
	History(ctx context.Context, limit int) ([]*Round, error)
	// LastNonce is the highest nonce persisted, 0 when there are no rounds.
	LastNonce(ctx context.Context) (int64, error)

	GetBet(ctx context.Context, roundID, userID string) (*Bet, error)
	ListBets(ctx context.Context, roundID string) ([]*Bet, error)
	// PlaceBet creates an ACTIVE bet and its BET debit together. It fails with
	// ErrDuplicateBet or ErrInsufficientBalance without writing anything.
	PlaceBet(ctx context.Context, b *Bet, chain string) error
	// CashoutBet moves the user's bet from ACTIVE to CASHED_OUT at multiplier
	// and credits the payout, together. ErrNoActiveBet if the bet is no
	// longer ACTIVE.
	CashoutBet(ctx context.Context, roundID, userID string, multiplier float64, chain string) (*Bet, error)

	// Balance is the sum of all of the user's ledger entries.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// AppendEntry records a deposit or withdrawal made by an external collaborator.
	AppendEntry(ctx context.Context, e *LedgerEntry) error
	Entries(ctx context.Context, userID string) ([]*LedgerEntry, error)
	// UserChain is the chain tag of the user's latest deposit, "" if none.
	UserChain(ctx context.Context, userID string) (string, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}
