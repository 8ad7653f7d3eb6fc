package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kevinms/leakybucket-go"
	"go.uber.org/zap"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/config"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/engine"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/logger"
)

// Server is the HTTP and WebSocket front of the crash engine. It holds no
// game state of its own.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	hub    *Hub
	log    *zap.SugaredLogger

	betLimiter     *leakybucket.Collector
	cashoutLimiter *leakybucket.Collector
}

func New(cfg *config.Config, eng *engine.Engine, hub *Hub, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:            cfg,
		engine:         eng,
		hub:            hub,
		log:            logger.OrNop(log),
		betLimiter:     newLimiter(cfg.BetRateLimit),
		cashoutLimiter: newLimiter(cfg.CashoutRateLimit),
	}
}

// newLimiter allows one command per gap for each user. A zero gap disables
// limiting.
func newLimiter(gap time.Duration) *leakybucket.Collector {
	if gap <= 0 {
		return nil
	}
	return leakybucket.NewCollector(1/gap.Seconds(), 1, true)
}

func allow(c *leakybucket.Collector, key string) bool {
	if c == nil {
		return true
	}
	return c.Add(key, 1) > 0
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /round/current", s.handleCurrentRound)
	mux.HandleFunc("GET /round/history", s.handleHistory)
	mux.HandleFunc("POST /round/bet", s.handleBet)
	mux.HandleFunc("POST /round/cashout", s.handleCashout)
	mux.HandleFunc("POST /client-seed", s.handleClientSeed)
	mux.HandleFunc("GET /provablyfair/commit", s.handleCommit)
	mux.HandleFunc("POST /provablyfair/verify", s.handleVerify)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /ws", s.handleWS)
	return cors(s.requestLogger(mux))
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	port := s.cfg.Port
	if port <= 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("crash server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// requestLogger logs method and path for each request (no body or secrets).
func (s *Server) requestLogger(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugw("request", "method", r.Method, "path", r.URL.Path)
		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.engine.State()
	status := "ok"
	if st.Stalled {
		status = "stalled"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "service": "crash"})
}

// userID reads the caller identity. Authentication happens upstream; the
// gateway forwards the user in X-User-ID.
func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
