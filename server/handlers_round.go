package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/games/crash"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/round"
)

type BetRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BetResponse struct {
	OK      bool   `json:"ok"`
	RoundID string `json:"roundId"`
}

type CashoutResponse struct {
	OK         bool    `json:"ok"`
	Multiplier float64 `json:"multiplier"`
}

// placeBet and cashout are shared by the HTTP and WebSocket transports.
// Callers pass a context that is never cancelled by the client going away.
func (s *Server) placeBet(ctx context.Context, user string, amount decimal.Decimal) error {
	if user == "" {
		return errUserRequired
	}
	if !allow(s.betLimiter, user) {
		return errRateLimited
	}
	return s.engine.PlaceBet(ctx, user, amount)
}

func (s *Server) cashout(ctx context.Context, user string) (float64, error) {
	if user == "" {
		return 0, errUserRequired
	}
	if !allow(s.cashoutLimiter, user) {
		return 0, errRateLimited
	}
	return s.engine.Cashout(ctx, user)
}

func (s *Server) handleBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	if err := s.placeBet(context.WithoutCancel(r.Context()), userID(r), req.Amount); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BetResponse{OK: true, RoundID: s.engine.State().ID})
}

func (s *Server) handleCashout(w http.ResponseWriter, r *http.Request) {
	m, err := s.cashout(context.WithoutCancel(r.Context()), userID(r))
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CashoutResponse{OK: true, Multiplier: m})
}

type ClientSeedRequest struct {
	ClientSeed string `json:"clientSeed"`
}

func (s *Server) handleClientSeed(w http.ResponseWriter, r *http.Request) {
	var req ClientSeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	if err := s.engine.SetClientSeed(strings.TrimSpace(req.ClientSeed)); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "clientSeed": strings.TrimSpace(req.ClientSeed)})
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := round.MaxHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		limit = n
	}
	rounds, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	if rounds == nil {
		rounds = []*round.Round{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rounds": rounds})
}

type CommitResponse struct {
	RoundID    string `json:"roundId"`
	SeedHash   string `json:"serverSeedHash"`
	ClientSeed string `json:"clientSeed"`
	Nonce      int64  `json:"nonce"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	st := s.engine.State()
	if st.ID == "" {
		writeError(w, http.StatusServiceUnavailable, "no round yet", "NO_ROUND")
		return
	}
	writeJSON(w, http.StatusOK, CommitResponse{
		RoundID:    st.ID,
		SeedHash:   st.SeedHash,
		ClientSeed: st.ClientSeed,
		Nonce:      st.Nonce,
	})
}

type VerifyRequest struct {
	ServerSeed string `json:"serverSeed"`
	ClientSeed string `json:"clientSeed"`
	Nonce      int64  `json:"nonce"`
	RoundID    string `json:"roundId"`
}

type VerifyResponse struct {
	CrashPoint float64 `json:"crashPoint"`
	SeedHash   string  `json:"serverSeedHash"`
}

// handleVerify recomputes a crash point from revealed inputs. It is pure and
// never consults the store.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	if req.ServerSeed == "" || req.ClientSeed == "" || req.RoundID == "" || req.Nonce < 1 {
		writeError(w, http.StatusBadRequest, "serverSeed, clientSeed, nonce and roundId required", "INVALID_REQUEST")
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		CrashPoint: crash.CrashPoint(req.ServerSeed, req.ClientSeed, req.Nonce, req.RoundID),
		SeedHash:   crash.HashSeed(req.ServerSeed),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		s.writeCommandError(w, errUserRequired)
		return
	}
	bal, err := s.engine.Balance(r.Context(), user)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": user, "balance": bal})
}
