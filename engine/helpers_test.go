package engine

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/games/crash"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/round"
)

// manualScheduler is virtual time: callbacks run synchronously inside Advance.
// clock.Mock sleeps 1ms per fired timer and cannot report pending timers, which
// rules it out for rounds of thousands of ticks.
type manualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

type manualTimer struct {
	s    *manualScheduler
	at   time.Time
	f    func()
	done bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now.Add(d), f: f}
	s.pending = append(s.pending, t)
	return t
}

// Advance moves time forward by d, firing due timers in time order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		var next *manualTimer
		live := s.pending[:0]
		for _, t := range s.pending {
			if t.done {
				continue
			}
			live = append(live, t)
			if !t.at.After(target) && (next == nil || t.at.Before(next.at)) {
				next = t
			}
		}
		s.pending = live
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		next.done = true
		s.now = next.at
		s.mu.Unlock()
		next.f()
	}
}

func (s *manualScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.done {
			n++
		}
	}
	return n
}

type event struct {
	name    string
	payload interface{}
}

type recordingBus struct {
	mu     sync.Mutex
	events []event
}

func (b *recordingBus) Broadcast(name string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{name, payload})
}

func (b *recordingBus) named(name string) []interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []interface{}
	for _, e := range b.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type harness struct {
	t     *testing.T
	e     *Engine
	store *round.MemStore
	sched *manualScheduler
	bus   *recordingBus
	seed  string
}

const testClientSeed = "client"

// seedInRange finds a server seed whose first round ("round1", nonce 1)
// crashes within [lo, hi].
func seedInRange(t *testing.T, lo, hi float64) string {
	t.Helper()
	for i := 0; i < 100000; i++ {
		s := "seed-" + strconv.Itoa(i)
		if cp := crash.CrashPoint(s, testClientSeed, 1, "round1"); cp >= lo && cp <= hi {
			return s
		}
	}
	t.Fatalf("no seed with crash point in [%v, %v]", lo, hi)
	return ""
}

func newHarness(t *testing.T, store round.Store, firstSeed string) *harness {
	t.Helper()
	h := &harness{t: t, sched: newManualScheduler(), bus: &recordingBus{}, seed: firstSeed}
	if ms, ok := store.(*round.MemStore); ok {
		h.store = ms
	}
	var n int
	var mu sync.Mutex
	h.e = New(store, h.bus, Options{
		ClientSeed:   testClientSeed,
		DefaultChain: "SOL",
		Scheduler:    h.sched,
		CurveRand:    rand.NewSource(1),
		SeedFunc: func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			if n == 1 {
				return firstSeed, nil
			}
			return "seed-round-" + strconv.Itoa(n), nil
		},
		NewRoundID: func() string {
			mu.Lock()
			defer mu.Unlock()
			return "round" + strconv.Itoa(n)
		},
	})
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.e.Start(context.Background()))
	h.t.Cleanup(h.e.Stop)
}

func (h *harness) deposit(userID, amount string) {
	h.t.Helper()
	require.NoError(h.t, h.store.AppendEntry(context.Background(), &round.LedgerEntry{
		UserID: userID,
		Kind:   round.EntryDeposit,
		Amount: decimal.RequireFromString(amount),
		Chain:  "EVM",
	}))
}

func (h *harness) toRunning() {
	h.t.Helper()
	require.Equal(h.t, round.PhaseWaiting, h.e.State().Status)
	h.sched.Advance(DefaultWaiting)
	require.Equal(h.t, round.PhaseRunning, h.e.State().Status)
}

// untilCrashed ticks until the current round crashes.
func (h *harness) untilCrashed() {
	h.t.Helper()
	for i := 0; i < 100000; i++ {
		if h.e.State().Status == round.PhaseCrashed {
			return
		}
		h.sched.Advance(DefaultTick)
	}
	h.t.Fatal("round never crashed")
}

func (h *harness) balance(userID string) decimal.Decimal {
	h.t.Helper()
	b, err := h.e.Balance(context.Background(), userID)
	require.NoError(h.t, err)
	return b
}

// roundSum is the sum of userID's ledger entries tied to roundID.
func (h *harness) roundSum(userID, roundID string) decimal.Decimal {
	h.t.Helper()
	entries, err := h.store.Entries(context.Background(), userID)
	require.NoError(h.t, err)
	sum := decimal.Zero
	for _, e := range entries {
		if e.RoundID == roundID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
