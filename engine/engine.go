// Package engine runs the crash round lifecycle and the bet and cashout
// commands against it.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/games/crash"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/logger"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/round"
)

// Default timings, used when Options leaves them zero.
const (
	DefaultWaiting  = 5000 * time.Millisecond
	DefaultTick     = 90 * time.Millisecond
	DefaultCooldown = 1500 * time.Millisecond
	DefaultGrowthK  = 0.105
)

type Options struct {
	WaitingDuration time.Duration
	TickInterval    time.Duration
	Cooldown        time.Duration
	GrowthK         float64

	ClientSeed   string // seed for the first round; random when empty
	DefaultChain string // chain tag for users with no deposit on record

	Scheduler  Scheduler
	CurveRand  rand.Source            // display noise; time-seeded when nil
	SeedFunc   func() (string, error) // secret seed generator; crash.GenerateSeed when nil
	NewRoundID func() string          // uuid when nil
	Logger     *zap.SugaredLogger
}

// roundState is the engine's in-memory mirror of the current round.
type roundState struct {
	id         string
	phase      round.Phase
	seedHash   string
	serverSeed string
	clientSeed string
	nonce      int64
	crashPoint float64
	waitingEnd time.Time
	startedAt  time.Time
	endedAt    time.Time
	revealed   bool // crash persisted; seed and crash point are public
}

// Engine owns the current round. Its exported methods are safe for
// concurrent use.
type Engine struct {
	store round.Store
	bus   Broadcaster
	opts  Options
	sched Scheduler
	log   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	cur        *roundState
	nonce      int64
	nextSeed   string // client seed for the next round
	curve      *crash.Curve
	multiplier float64 // last simulated multiplier, unrounded
	timer      Timer
	started    bool
	stopped    bool
	stalled    bool
}

func New(store round.Store, bus Broadcaster, opts Options) *Engine {
	if opts.WaitingDuration <= 0 {
		opts.WaitingDuration = DefaultWaiting
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTick
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.GrowthK <= 0 {
		opts.GrowthK = DefaultGrowthK
	}
	if opts.ClientSeed == "" {
		opts.ClientSeed = uuid.New().String()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewClockScheduler(nil)
	}
	if opts.SeedFunc == nil {
		opts.SeedFunc = crash.GenerateSeed
	}
	if opts.NewRoundID == nil {
		opts.NewRoundID = func() string { return uuid.New().String() }
	}
	if bus == nil {
		bus = nopBroadcaster{}
	}
	return &Engine{
		store:    store,
		bus:      bus,
		opts:     opts,
		sched:    opts.Scheduler,
		log:      logger.OrNop(opts.Logger),
		nextSeed: opts.ClientSeed,
		curve:    crash.NewCurve(opts.GrowthK, opts.CurveRand),
	}
}

// Start resumes the nonce sequence from the store and opens the first round.
// Lifecycle writes use ctx until Stop.
func (e *Engine) Start(ctx context.Context) error {
	last, err := e.store.LastNonce(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.nonce = last
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.log.Infow("crash engine starting", "lastNonce", last)
	e.beginWaiting()
	return nil
}

// Run starts the engine and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

// Stop cancels the pending timer. Callbacks already in flight see the stopped
// flag and do nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// scheduleLocked arms the single lifecycle timer. Caller must hold e.mu.
func (e *Engine) scheduleLocked(d time.Duration, f func()) {
	if e.stopped || e.stalled {
		return
	}
	e.timer = e.sched.AfterFunc(d, f)
}

func (e *Engine) schedule(d time.Duration, f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduleLocked(d, f)
}

// stall halts the lifecycle after a persistence failure. The round is left
// as-is for an operator; nothing is repaired automatically.
func (e *Engine) stall(roundID, step string, err error) {
	e.mu.Lock()
	stopped := e.stopped
	e.stalled = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()
	if stopped {
		e.log.Debugw("lifecycle write abandoned on shutdown", "roundId", roundID, "step", step, "error", err)
		return
	}
	e.log.Errorw("crash engine stalled", "roundId", roundID, "step", step, "error", err)
}

// currentLocked reports whether roundID is still the live round in phase.
// Caller must hold e.mu.
func (e *Engine) currentLocked(roundID string, phase round.Phase) bool {
	return !e.stopped && !e.stalled && e.cur != nil && e.cur.id == roundID && e.cur.phase == phase
}

func (e *Engine) beginWaiting() {
	seed, err := e.opts.SeedFunc()
	if err != nil {
		e.stall("", "seed", err)
		return
	}

	e.mu.RLock()
	if e.stopped || e.stalled {
		e.mu.RUnlock()
		return
	}
	now := e.sched.Now()
	rs := &roundState{
		id:         e.opts.NewRoundID(),
		phase:      round.PhaseWaiting,
		serverSeed: seed,
		seedHash:   crash.HashSeed(seed),
		clientSeed: e.nextSeed,
		nonce:      e.nonce + 1,
		waitingEnd: now.Add(e.opts.WaitingDuration),
	}
	ctx := e.ctx
	e.mu.RUnlock()
	rs.crashPoint = crash.CrashPoint(rs.serverSeed, rs.clientSeed, rs.nonce, rs.id)

	if err := e.store.CreateRound(ctx, &round.Round{
		ID:         rs.id,
		Status:     round.PhaseWaiting,
		SeedHash:   rs.seedHash,
		ClientSeed: rs.clientSeed,
		Nonce:      rs.nonce,
		CreatedAt:  now,
	}); err != nil {
		e.stall(rs.id, "create", err)
		return
	}

	e.mu.Lock()
	if e.stopped || e.stalled {
		e.mu.Unlock()
		return
	}
	e.nonce = rs.nonce
	e.cur = rs
	e.multiplier = 1
	id := rs.id
	e.scheduleLocked(e.opts.WaitingDuration, func() { e.startRunning(id) })
	ev := e.stateEventLocked()
	e.mu.Unlock()

	e.log.Infow("round waiting", "roundId", rs.id, "nonce", rs.nonce, "serverSeedHash", rs.seedHash)
	e.bus.Broadcast(EventState, ev)
}

func (e *Engine) startRunning(roundID string) {
	// Write lock: waits for in-flight bets, so none lands after RUNNING begins.
	e.mu.Lock()
	if !e.currentLocked(roundID, round.PhaseWaiting) {
		e.mu.Unlock()
		return
	}
	now := e.sched.Now()
	e.cur.phase = round.PhaseRunning
	e.cur.startedAt = now
	e.cur.waitingEnd = time.Time{}
	e.curve.Reset(now)
	e.multiplier = 1
	ctx := e.ctx
	ev := e.stateEventLocked()
	e.mu.Unlock()

	if err := e.store.StartRound(ctx, roundID, now); err != nil {
		e.stall(roundID, "start", err)
		return
	}
	e.log.Infow("round running", "roundId", roundID)
	e.bus.Broadcast(EventState, ev)
	e.schedule(e.opts.TickInterval, func() { e.tick(roundID) })
}

func (e *Engine) tick(roundID string) {
	e.mu.Lock()
	if !e.currentLocked(roundID, round.PhaseRunning) {
		e.mu.Unlock()
		return
	}
	now := e.sched.Now()
	elapsed := now.Sub(e.cur.startedAt)
	m := e.curve.Step(now, elapsed, e.opts.TickInterval)
	crashed := m >= e.cur.crashPoint
	if crashed {
		m = e.cur.crashPoint
		e.cur.phase = round.PhaseCrashed
		e.cur.endedAt = now
	}
	e.multiplier = m
	snap := *e.cur
	if !crashed {
		e.scheduleLocked(e.opts.TickInterval, func() { e.tick(roundID) })
	}
	e.mu.Unlock()

	e.bus.Broadcast(EventTick, TickEvent{T: elapsed.Seconds(), CurrentMultiplier: crash.Round2(m)})
	if crashed {
		e.settle(&snap)
	}
}

// settle persists the crash, reveals the seed and loses every ACTIVE bet in
// one store transaction, then schedules the next round.
func (e *Engine) settle(rs *roundState) {
	e.mu.RLock()
	ctx := e.ctx
	e.mu.RUnlock()

	n, err := e.store.CrashRound(ctx, rs.id, rs.crashPoint, rs.serverSeed, rs.endedAt)
	if err != nil {
		e.stall(rs.id, "crash", err)
		return
	}
	e.mu.Lock()
	if e.cur != nil && e.cur.id == rs.id {
		e.cur.revealed = true
	}
	e.mu.Unlock()
	e.log.Infow("round crashed", "roundId", rs.id, "crashPoint", rs.crashPoint, "lostBets", n)
	e.bus.Broadcast(EventCrash, CrashEvent{
		RoundID:    rs.id,
		CrashPoint: rs.crashPoint,
		ServerSeed: rs.serverSeed,
		SeedHash:   rs.seedHash,
		ClientSeed: rs.clientSeed,
		Nonce:      rs.nonce,
	})
	e.schedule(e.opts.Cooldown, e.beginWaiting)
}

// stateEventLocked builds the round:state payload. Caller must hold e.mu.
func (e *Engine) stateEventLocked() StateEvent {
	ev := StateEvent{
		Status:     e.cur.phase,
		RoundID:    e.cur.id,
		SeedHash:   e.cur.seedHash,
		ClientSeed: e.cur.clientSeed,
		Nonce:      e.cur.nonce,
	}
	if e.cur.phase == round.PhaseWaiting {
		ev.WaitingMs = e.opts.WaitingDuration.Milliseconds()
		ev.WaitingEndsAt = e.cur.waitingEnd.UnixMilli()
	}
	return ev
}

// State returns the public snapshot of the current round. The crash point and
// seed appear only once the crash has been persisted.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := State{Stalled: e.stalled, ClientSeed: e.nextSeed, Nonce: e.nonce}
	if e.cur == nil {
		return st
	}
	st.ID = e.cur.id
	st.Status = e.cur.phase
	st.SeedHash = e.cur.seedHash
	st.ClientSeed = e.cur.clientSeed
	st.Nonce = e.cur.nonce
	if !e.cur.startedAt.IsZero() {
		t := e.cur.startedAt
		st.StartedAt = &t
	}
	switch e.cur.phase {
	case round.PhaseWaiting:
		ms := e.cur.waitingEnd.UnixMilli()
		st.WaitingEndsAt = &ms
	case round.PhaseCrashed:
		if e.cur.revealed {
			cp, seed := e.cur.crashPoint, e.cur.serverSeed
			st.CrashPoint = &cp
			st.ServerSeedRevealed = &seed
		}
	}
	return st
}

// History returns persisted rounds, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*round.Round, error) {
	return e.store.History(ctx, limit)
}

// Balance is the sum of the user's ledger entries.
func (e *Engine) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return e.store.Balance(ctx, userID)
}
