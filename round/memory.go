package round

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type betKey struct {
	roundID string
	userID  string
}

// MemStore keeps rounds, bets and the ledger in memory. With a data dir it
// also persists everything to crash_ledger.json after each write; a write
// that cannot be persisted is rolled back.
type MemStore struct {
	mu      sync.Mutex
	rounds  map[string]Round
	order   []string // round IDs in creation order
	bets    map[betKey]Bet
	entries []LedgerEntry
	nextID  int64
	dataDir string
}

// NewMemStore returns a store that never touches disk.
func NewMemStore() *MemStore {
	return &MemStore{
		rounds: make(map[string]Round),
		bets:   make(map[betKey]Bet),
	}
}

// NewFileStore returns a MemStore persisted under dataDir, loading any
// previous ledger file.
func NewFileStore(dataDir string) (*MemStore, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	s := NewMemStore()
	s.dataDir = dataDir
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

type ledgerFile struct {
	Rounds  []Round       `json:"rounds"`
	Bets    []Bet         `json:"bets"`
	Entries []LedgerEntry `json:"entries"`
}

func (s *MemStore) path() string {
	return filepath.Join(s.dataDir, "crash_ledger.json")
}

func (s *MemStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read ledger file")
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return errors.Wrap(err, "decode ledger file")
	}
	for _, r := range f.Rounds {
		if r.ID == "" {
			continue
		}
		s.rounds[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	for _, b := range f.Bets {
		s.bets[betKey{b.RoundID, b.UserID}] = b
	}
	s.entries = f.Entries
	for _, e := range f.Entries {
		if e.ID > s.nextID {
			s.nextID = e.ID
		}
	}
	return nil
}

// saveLocked writes the store to disk. Caller must hold s.mu.
func (s *MemStore) saveLocked() error {
	f := ledgerFile{
		Rounds:  make([]Round, 0, len(s.order)),
		Bets:    make([]Bet, 0, len(s.bets)),
		Entries: s.entries,
	}
	for _, id := range s.order {
		f.Rounds = append(f.Rounds, s.rounds[id])
	}
	for _, b := range s.bets {
		f.Bets = append(f.Bets, b)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

// txLocked runs fn as one all-or-nothing write. Caller must hold s.mu.
func (s *MemStore) txLocked(fn func() error) error {
	rounds := make(map[string]Round, len(s.rounds))
	for k, v := range s.rounds {
		rounds[k] = v
	}
	bets := make(map[betKey]Bet, len(s.bets))
	for k, v := range s.bets {
		bets[k] = v
	}
	order, entries, nextID := len(s.order), len(s.entries), s.nextID
	rollback := func() {
		s.rounds, s.bets = rounds, bets
		s.order, s.entries, s.nextID = s.order[:order], s.entries[:entries], nextID
	}
	if err := fn(); err != nil {
		rollback()
		return err
	}
	if s.dataDir == "" {
		return nil
	}
	if err := s.saveLocked(); err != nil {
		rollback()
		return errors.Wrap(err, "persist ledger")
	}
	return nil
}

func (s *MemStore) appendLocked(e LedgerEntry) {
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, e)
}

func (s *MemStore) balanceLocked(userID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.entries {
		if e.UserID == userID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func (s *MemStore) CreateRound(ctx context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txLocked(func() error {
		if _, ok := s.rounds[r.ID]; ok {
			return errors.Errorf("round %s already exists", r.ID)
		}
		rec := *r
		rec.Status = PhaseWaiting
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		s.rounds[r.ID] = rec
		s.order = append(s.order, r.ID)
		return nil
	})
}

func (s *MemStore) StartRound(ctx context.Context, roundID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txLocked(func() error {
		r, ok := s.rounds[roundID]
		if !ok {
			return ErrNotFound
		}
		r.Status = PhaseRunning
		r.StartedAt = &startedAt
		s.rounds[roundID] = r
		return nil
	})
}

func (s *MemStore) CrashRound(ctx context.Context, roundID string, crashPoint float64, serverSeed string, endedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settled := 0
	err := s.txLocked(func() error {
		r, ok := s.rounds[roundID]
		if !ok {
			return ErrNotFound
		}
		r.Status = PhaseCrashed
		r.CrashPoint = crashPoint
		r.ServerSeed = serverSeed
		r.EndedAt = &endedAt
		s.rounds[roundID] = r
		for k, b := range s.bets {
			if k.roundID != roundID || b.Status != BetActive {
				continue
			}
			b.Status = BetLost
			b.Profit = b.Amount.Neg()
			s.bets[k] = b
			settled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return settled, nil
}

func (s *MemStore) GetRound(ctx context.Context, roundID string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemStore) History(ctx context.Context, limit int) ([]*Round, error) {
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Round, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.rounds[s.order[i]]
		out = append(out, &r)
	}
	return out, nil
}

func (s *MemStore) LastNonce(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, r := range s.rounds {
		if r.Nonce > max {
			max = r.Nonce
		}
	}
	return max, nil
}

func (s *MemStore) GetBet(ctx context.Context, roundID, userID string) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betKey{roundID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemStore) ListBets(ctx context.Context, roundID string) ([]*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Bet
	for k, b := range s.bets {
		if k.roundID == roundID {
			out = append(out, &b)
		}
	}
	return out, nil
}

func (s *MemStore) PlaceBet(ctx context.Context, b *Bet, chain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec Bet
	err := s.txLocked(func() error {
		if _, ok := s.rounds[b.RoundID]; !ok {
			return ErrNotFound
		}
		key := betKey{b.RoundID, b.UserID}
		if _, ok := s.bets[key]; ok {
			return ErrDuplicateBet
		}
		if s.balanceLocked(b.UserID).LessThan(b.Amount) {
			return ErrInsufficientBalance
		}
		rec = *b
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		rec.Status = BetActive
		rec.Profit = decimal.Zero
		s.bets[key] = rec
		s.appendLocked(LedgerEntry{
			UserID:  b.UserID,
			RoundID: b.RoundID,
			Kind:    EntryBet,
			Amount:  b.Amount.Neg(),
			Chain:   chain,
		})
		return nil
	})
	if err != nil {
		return err
	}
	*b = rec
	return nil
}

func (s *MemStore) CashoutBet(ctx context.Context, roundID, userID string, multiplier float64, chain string) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Bet
	err := s.txLocked(func() error {
		key := betKey{roundID, userID}
		b, ok := s.bets[key]
		if !ok || b.Status != BetActive {
			return ErrNoActiveBet
		}
		payout := Payout(b.Amount, multiplier)
		b.Status = BetCashedOut
		b.CashoutMultiplier = multiplier
		b.Profit = payout.Sub(b.Amount)
		s.bets[key] = b
		s.appendLocked(LedgerEntry{
			UserID:  userID,
			RoundID: roundID,
			Kind:    EntryPayout,
			Amount:  payout,
			Chain:   chain,
		})
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

func (s *MemStore) AppendEntry(ctx context.Context, e *LedgerEntry) error {
	if e.UserID == "" {
		return errors.New("ledger entry without user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txLocked(func() error {
		s.appendLocked(*e)
		last := s.entries[len(s.entries)-1]
		e.ID, e.CreatedAt = last.ID, last.CreatedAt
		return nil
	})
}

func (s *MemStore) Entries(ctx context.Context, userID string) ([]*LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (s *MemStore) UserChain(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if e := s.entries[i]; e.UserID == userID && e.Kind == EntryDeposit {
			return e.Chain, nil
		}
	}
	return "", nil
}

var _ Store = (*MemStore)(nil)
