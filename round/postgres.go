package round

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Schema is applied by Migrate. Amounts are NUMERIC so balances are exact sums.
const Schema = `
CREATE TABLE IF NOT EXISTS crash_rounds (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	seed_hash     TEXT NOT NULL,
	client_seed   TEXT NOT NULL,
	nonce         BIGINT NOT NULL,
	crash_point   DOUBLE PRECISION,
	server_seed   TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS crash_rounds_created_at_idx ON crash_rounds (created_at DESC);

CREATE TABLE IF NOT EXISTS crash_bets (
	id                 TEXT PRIMARY KEY,
	round_id           TEXT NOT NULL REFERENCES crash_rounds (id),
	user_id            TEXT NOT NULL,
	amount             NUMERIC(38, 18) NOT NULL CHECK (amount > 0),
	status             TEXT NOT NULL,
	cashout_multiplier DOUBLE PRECISION,
	profit             NUMERIC(38, 18) NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (round_id, user_id)
);

CREATE TABLE IF NOT EXISTS crash_ledger_entries (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	round_id   TEXT,
	kind       TEXT NOT NULL,
	amount     NUMERIC(38, 18) NOT NULL,
	chain      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crash_ledger_entries_user_idx ON crash_ledger_entries (user_id, id);
`

const uniqueViolation = "23505"

// PGStore is the Postgres Store. Multi-record writes run in one transaction.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "migrate crash schema")
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *PGStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func (s *PGStore) CreateRound(ctx context.Context, r *Round) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crash_rounds (id, status, seed_hash, client_seed, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, PhaseWaiting, r.SeedHash, r.ClientSeed, r.Nonce, createdAt)
	return errors.Wrapf(err, "create round %s", r.ID)
}

func (s *PGStore) StartRound(ctx context.Context, roundID string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE crash_rounds SET status = $1, started_at = $2 WHERE id = $3`,
		PhaseRunning, startedAt, roundID)
	if err != nil {
		return errors.Wrapf(err, "start round %s", roundID)
	}
	return expectOne(res)
}

func (s *PGStore) CrashRound(ctx context.Context, roundID string, crashPoint float64, serverSeed string, endedAt time.Time) (int, error) {
	settled := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE crash_rounds SET status = $1, crash_point = $2, server_seed = $3, ended_at = $4
			WHERE id = $5`,
			PhaseCrashed, crashPoint, serverSeed, endedAt, roundID)
		if err != nil {
			return errors.Wrapf(err, "crash round %s", roundID)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		// The status guard skips bets a concurrent cashout already claimed.
		res, err = tx.ExecContext(ctx, `
			UPDATE crash_bets SET status = $1, profit = -amount
			WHERE round_id = $2 AND status = $3`,
			BetLost, roundID, BetActive)
		if err != nil {
			return errors.Wrapf(err, "settle round %s", roundID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "settle rows affected")
		}
		settled = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return settled, nil
}

const roundColumns = `id, status, seed_hash, client_seed, nonce, crash_point, server_seed, created_at, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (*Round, error) {
	var (
		r          Round
		crashPoint sql.NullFloat64
		serverSeed sql.NullString
		startedAt  sql.NullTime
		endedAt    sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Status, &r.SeedHash, &r.ClientSeed, &r.Nonce, &crashPoint, &serverSeed,
		&r.CreatedAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	r.CrashPoint = crashPoint.Float64
	r.ServerSeed = serverSeed.String
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	return &r, nil
}

func (s *PGStore) GetRound(ctx context.Context, roundID string) (*Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM crash_rounds WHERE id = $1`, roundID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get round %s", roundID)
	}
	return r, nil
}

func (s *PGStore) History(ctx context.Context, limit int) ([]*Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM crash_rounds ORDER BY created_at DESC, nonce DESC LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "query round history")
	}
	defer rows.Close()
	out := []*Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan round")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate round history")
}

func (s *PGStore) LastNonce(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(nonce), 0) FROM crash_rounds`).Scan(&n)
	return n, errors.Wrap(err, "last nonce")
}

const betColumns = `id, round_id, user_id, amount, status, cashout_multiplier, profit, created_at`

func scanBet(row rowScanner) (*Bet, error) {
	var (
		b    Bet
		mult sql.NullFloat64
	)
	if err := row.Scan(&b.ID, &b.RoundID, &b.UserID, &b.Amount, &b.Status, &mult, &b.Profit, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.CashoutMultiplier = mult.Float64
	return &b, nil
}

func (s *PGStore) GetBet(ctx context.Context, roundID, userID string) (*Bet, error) {
	b, err := scanBet(s.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM crash_bets WHERE round_id = $1 AND user_id = $2`,
		roundID, userID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get bet")
	}
	return b, nil
}

func (s *PGStore) ListBets(ctx context.Context, roundID string) ([]*Bet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+betColumns+` FROM crash_bets WHERE round_id = $1 ORDER BY created_at`, roundID)
	if err != nil {
		return nil, errors.Wrap(err, "list bets")
	}
	defer rows.Close()
	var out []*Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan bet")
		}
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "iterate bets")
}

func (s *PGStore) PlaceBet(ctx context.Context, b *Bet, chain string) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Serialize balance-affecting writes per user for the rest of the tx.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.UserID); err != nil {
			return errors.Wrap(err, "lock user ledger")
		}
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM crash_bets WHERE round_id = $1 AND user_id = $2`,
			b.RoundID, b.UserID).Scan(&exists)
		switch {
		case err == nil:
			return ErrDuplicateBet
		case !stderrors.Is(err, sql.ErrNoRows):
			return errors.Wrap(err, "check duplicate bet")
		}
		var balance decimal.Decimal
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM crash_ledger_entries WHERE user_id = $1`,
			b.UserID).Scan(&balance); err != nil {
			return errors.Wrap(err, "read balance")
		}
		if balance.LessThan(b.Amount) {
			return ErrInsufficientBalance
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crash_bets (id, round_id, user_id, amount, status, profit, created_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6)`,
			b.ID, b.RoundID, b.UserID, b.Amount, BetActive, b.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrDuplicateBet
			}
			return errors.Wrap(err, "insert bet")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crash_ledger_entries (user_id, round_id, kind, amount, chain)
			VALUES ($1, $2, $3, $4, $5)`,
			b.UserID, b.RoundID, EntryBet, b.Amount.Neg(), chain)
		return errors.Wrap(err, "insert bet debit")
	})
	if err != nil {
		return err
	}
	b.Status = BetActive
	b.Profit = decimal.Zero
	return nil
}

func (s *PGStore) CashoutBet(ctx context.Context, roundID, userID string, multiplier float64, chain string) (*Bet, error) {
	var out *Bet
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		b, err := scanBet(tx.QueryRowContext(ctx, `
			SELECT `+betColumns+` FROM crash_bets
			WHERE round_id = $1 AND user_id = $2 AND status = $3
			FOR UPDATE`, roundID, userID, BetActive))
		if stderrors.Is(err, sql.ErrNoRows) {
			return ErrNoActiveBet
		}
		if err != nil {
			return errors.Wrap(err, "lock bet")
		}
		payout := Payout(b.Amount, multiplier)
		profit := payout.Sub(b.Amount)
		res, err := tx.ExecContext(ctx, `
			UPDATE crash_bets SET status = $1, cashout_multiplier = $2, profit = $3
			WHERE id = $4 AND status = $5`,
			BetCashedOut, multiplier, profit, b.ID, BetActive)
		if err != nil {
			return errors.Wrap(err, "cash out bet")
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return ErrNoActiveBet
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crash_ledger_entries (user_id, round_id, kind, amount, chain)
			VALUES ($1, $2, $3, $4, $5)`,
			userID, roundID, EntryPayout, payout, chain); err != nil {
			return errors.Wrap(err, "insert payout credit")
		}
		b.Status = BetCashedOut
		b.CashoutMultiplier = multiplier
		b.Profit = profit
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM crash_ledger_entries WHERE user_id = $1`,
		userID).Scan(&total)
	return total, errors.Wrap(err, "balance")
}

func (s *PGStore) AppendEntry(ctx context.Context, e *LedgerEntry) error {
	if e.UserID == "" {
		return errors.New("ledger entry without user")
	}
	var roundID interface{}
	if e.RoundID != "" {
		roundID = e.RoundID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO crash_ledger_entries (user_id, round_id, kind, amount, chain)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.UserID, roundID, e.Kind, e.Amount, e.Chain).Scan(&e.ID, &e.CreatedAt)
	return errors.Wrap(err, "append ledger entry")
}

func (s *PGStore) Entries(ctx context.Context, userID string) ([]*LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(round_id, ''), kind, amount, chain, created_at
		FROM crash_ledger_entries WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query entries")
	}
	defer rows.Close()
	var out []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.RoundID, &e.Kind, &e.Amount, &e.Chain, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		out = append(out, &e)
	}
	return out, errors.Wrap(rows.Err(), "iterate entries")
}

func (s *PGStore) UserChain(ctx context.Context, userID string) (string, error) {
	var chain string
	err := s.db.QueryRowContext(ctx, `
		SELECT chain FROM crash_ledger_entries
		WHERE user_id = $1 AND kind = $2 ORDER BY id DESC LIMIT 1`, userID, EntryDeposit).Scan(&chain)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return chain, errors.Wrap(err, "user chain")
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PGStore)(nil)
