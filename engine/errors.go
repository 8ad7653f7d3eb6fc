package engine

// Rejection is a command refused before any state change. Code is stable and
// safe to show to players.
type Rejection struct {
	Code   string
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

var (
	ErrBettingClosed       = &Rejection{"BETTING_CLOSED", "betting only allowed during waiting"}
	ErrInvalidAmount       = &Rejection{"INVALID_AMOUNT", "invalid amount"}
	ErrDuplicateBet        = &Rejection{"DUPLICATE_BET", "bet already placed"}
	ErrInsufficientBalance = &Rejection{"INSUFFICIENT_BALANCE", "insufficient balance"}
	ErrCashoutClosed       = &Rejection{"CASHOUT_CLOSED", "cashout only allowed during running"}
	ErrNoActiveBet         = &Rejection{"NO_ACTIVE_BET", "no active bet"}
	ErrAlreadyCrashed      = &Rejection{"CRASH_ALREADY_HAPPENED", "crash already happened"}
	ErrInvalidClientSeed   = &Rejection{"INVALID_CLIENT_SEED", "client seed must be 3 to 128 characters"}
	ErrStalled             = &Rejection{"ENGINE_STALLED", "game is paused"}
)
