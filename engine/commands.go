package engine

import (
	"context"
	"errors"
	"math"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/games/crash"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/round"
)

// PlaceBet stakes amount for userID on the current round. Checks run in
// order (phase, amount, duplicate, balance) and the first failure wins; on
// success the bet and its BET debit are written in one transaction.
//
// The read lock is held for the whole call so the round cannot leave
// WAITING while the write is in flight.
func (e *Engine) PlaceBet(ctx context.Context, userID string, amount decimal.Decimal) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stalled {
		return ErrStalled
	}
	if e.cur == nil || e.cur.phase != round.PhaseWaiting {
		return ErrBettingClosed
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	roundID := e.cur.id

	if _, err := e.store.GetBet(ctx, roundID, userID); err == nil {
		return ErrDuplicateBet
	} else if !errors.Is(err, round.ErrNotFound) {
		return err
	}
	balance, err := e.store.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	chain, err := e.chainFor(ctx, userID)
	if err != nil {
		return err
	}

	err = e.store.PlaceBet(ctx, &round.Bet{RoundID: roundID, UserID: userID, Amount: amount}, chain)
	switch {
	case errors.Is(err, round.ErrDuplicateBet):
		return ErrDuplicateBet
	case errors.Is(err, round.ErrInsufficientBalance):
		return ErrInsufficientBalance
	case err != nil:
		e.log.Errorw("place bet failed", "roundId", roundID, "userId", userID, "error", err)
		return err
	}
	e.log.Debugw("bet placed", "roundId", roundID, "userId", userID, "amount", amount.String())
	return nil
}

// Cashout closes userID's ACTIVE bet at the last simulated multiplier,
// rounded to 2 decimals, and returns that multiplier. A multiplier equal to
// the crash point loses; one just below it never rounds up to it. If settlement claims the bet first, the cashout is
// rejected as crashed.
func (e *Engine) Cashout(ctx context.Context, userID string) (float64, error) {
	e.mu.RLock()
	if e.stalled {
		e.mu.RUnlock()
		return 0, ErrStalled
	}
	if e.cur == nil || e.cur.phase == round.PhaseWaiting {
		e.mu.RUnlock()
		return 0, ErrCashoutClosed
	}
	if e.cur.phase == round.PhaseCrashed {
		e.mu.RUnlock()
		return 0, ErrAlreadyCrashed
	}
	roundID, live, crashPoint := e.cur.id, e.multiplier, e.cur.crashPoint
	e.mu.RUnlock()

	bet, err := e.store.GetBet(ctx, roundID, userID)
	if errors.Is(err, round.ErrNotFound) {
		return 0, ErrNoActiveBet
	}
	if err != nil {
		return 0, err
	}
	if bet.Status != round.BetActive {
		if bet.Status == round.BetLost {
			return 0, ErrAlreadyCrashed
		}
		return 0, ErrNoActiveBet
	}
	mult, ok := realizedMultiplier(live, crashPoint)
	if !ok {
		return 0, ErrAlreadyCrashed
	}

	chain, err := e.chainFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := e.store.CashoutBet(ctx, roundID, userID, mult, chain); err != nil {
		if errors.Is(err, round.ErrNoActiveBet) {
			if e.roundCrashed(roundID) {
				return 0, ErrAlreadyCrashed
			}
			return 0, ErrNoActiveBet
		}
		e.log.Errorw("cashout failed", "roundId", roundID, "userId", userID, "error", err)
		return 0, err
	}
	e.log.Debugw("bet cashed out", "roundId", roundID, "userId", userID, "multiplier", mult)
	return mult, nil
}

// realizedMultiplier is the payout multiplier for a cashout at live. It is
// live rounded to 2 decimals, or rounded down when rounding would reach the
// crash point. ok is false once live has reached the crash point.
func realizedMultiplier(live, crashPoint float64) (float64, bool) {
	if live >= crashPoint {
		return 0, false
	}
	mult := crash.Round2(live)
	if mult >= crashPoint {
		mult = math.Floor(live*100) / 100
	}
	if mult >= crashPoint {
		return 0, false
	}
	return mult, true
}

func (e *Engine) roundCrashed(roundID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cur == nil || e.cur.id != roundID || e.cur.phase == round.PhaseCrashed
}

// SetClientSeed sets the client seed of the next round; the current round's
// crash point is already fixed.
func (e *Engine) SetClientSeed(seed string) error {
	if n := utf8.RuneCountInString(seed); n < 3 || n > 128 {
		return ErrInvalidClientSeed
	}
	e.mu.Lock()
	e.nextSeed = seed
	e.mu.Unlock()
	e.log.Infow("client seed updated", "clientSeed", seed)
	return nil
}

// chainFor tags a user's bet and payout entries with the chain of their
// latest deposit.
func (e *Engine) chainFor(ctx context.Context, userID string) (string, error) {
	chain, err := e.store.UserChain(ctx, userID)
	if err != nil {
		return "", err
	}
	if chain == "" {
		chain = e.opts.DefaultChain
	}
	return chain, nil
}
