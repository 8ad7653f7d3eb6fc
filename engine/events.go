package engine

import (
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/round"
)

// Broadcast event names.
const (
	EventState = "round:state"
	EventTick  = "round:tick"
	EventCrash = "round:crash"
)

// Broadcaster pushes events to every connected observer, best effort.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, interface{}) {}

// StateEvent is the public round state. It never carries the secret seed or
// crash point of an unfinished round.
type StateEvent struct {
	Status        round.Phase `json:"status"`
	RoundID       string      `json:"roundId"`
	SeedHash      string      `json:"serverSeedHash"`
	ClientSeed    string      `json:"clientSeed"`
	Nonce         int64       `json:"nonce"`
	WaitingMs     int64       `json:"waitingMs,omitempty"`
	WaitingEndsAt int64       `json:"waitingEndsAt,omitempty"` // unix ms
}

type TickEvent struct {
	T                 float64 `json:"t"` // seconds since RUNNING began
	CurrentMultiplier float64 `json:"currentMultiplier"`
}

// CrashEvent reveals everything needed to verify the round.
type CrashEvent struct {
	RoundID    string  `json:"roundId"`
	CrashPoint float64 `json:"crashPoint"`
	ServerSeed string  `json:"serverSeed"`
	SeedHash   string  `json:"serverSeedHash"`
	ClientSeed string  `json:"clientSeed"`
	Nonce      int64   `json:"nonce"`
}

// State is the pull snapshot of the current round.
type State struct {
	ID                 string      `json:"id"`
	Status             round.Phase `json:"status"`
	StartedAt          *time.Time  `json:"startedAt"`
	CrashPoint         *float64    `json:"crashPoint"`
	SeedHash           string      `json:"serverSeedHash"`
	ServerSeedRevealed *string     `json:"serverSeedRevealed"`
	ClientSeed         string      `json:"clientSeed"`
	Nonce              int64       `json:"nonce"`
	WaitingEndsAt      *int64      `json:"waitingEndsAt"`
	Stalled            bool        `json:"stalled,omitempty"`
}
