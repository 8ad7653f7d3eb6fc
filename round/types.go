package round

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Phase is the lifecycle phase of a round.
type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

// BetStatus moves only from ACTIVE to one terminal status.
type BetStatus string

const (
	BetActive    BetStatus = "ACTIVE"
	BetCashedOut BetStatus = "CASHED_OUT"
	BetLost      BetStatus = "LOST"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryBet      EntryKind = "BET"
	EntryPayout   EntryKind = "PAYOUT"
	EntryDeposit  EntryKind = "DEPOSIT"
	EntryWithdraw EntryKind = "WITHDRAW"
)

var (
	ErrNotFound            = errors.New("round: not found")
	ErrDuplicateBet        = errors.New("round: bet already placed")
	ErrNoActiveBet         = errors.New("round: no active bet")
	ErrInsufficientBalance = errors.New("round: insufficient balance")
)

// Round is the persisted record of one round. CrashPoint and ServerSeed are
// only set once the round has crashed.
type Round struct {
	ID         string     `json:"id"`
	Status     Phase      `json:"status"`
	SeedHash   string     `json:"serverSeedHash"`
	ClientSeed string     `json:"clientSeed"`
	Nonce      int64      `json:"nonce"`
	CrashPoint float64    `json:"crashPoint,omitempty"`
	ServerSeed string     `json:"serverSeedRevealed,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

// Bet is unique per (RoundID, UserID).
type Bet struct {
	ID                string          `json:"id"`
	RoundID           string          `json:"roundId"`
	UserID            string          `json:"userId"`
	Amount            decimal.Decimal `json:"amount"`
	Status            BetStatus       `json:"status"`
	CashoutMultiplier float64         `json:"cashedOutAtMultiplier,omitempty"`
	Profit            decimal.Decimal `json:"profit"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// LedgerEntry is append-only. RoundID is empty for deposits and withdrawals.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"userId"`
	RoundID   string          `json:"roundId,omitempty"`
	Kind      EntryKind       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Chain     string          `json:"chain"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Payout is what a cashout at multiplier credits for stake: stake * multiplier.
func Payout(stake decimal.Decimal, multiplier float64) decimal.Decimal {
	return stake.Mul(decimal.NewFromFloat(multiplier))
}
