package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/bridge-harness/pkg/circuitbreaker"
	"github.com/speedrun-hq/bridge-harness/pkg/config"
	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/results"
)

// Watcher reports which chains have live event subscriptions
type Watcher interface {
	Attached() []int
}

// Options wires the server to the running harness. Watcher, Breakers and
// Results may be nil.
type Options struct {
	Port          string
	MetricsAPIKey string
	Chains        []int
	Client        ledger.Client
	Watcher       Watcher
	Breakers      *circuitbreaker.Set
	Results       *results.MemorySink
	Logger        logger.Logger
}

// Server represents a health check HTTP server
type Server struct {
	opts Options
	log  logger.Logger
	srv  *http.Server
}

// ChainStatus is the per-chain section of /status
type ChainStatus struct {
	ChainID int                   `json:"chain_id"`
	Name    string                `json:"name"`
	Wallet  string                `json:"wallet,omitempty"`
	Balance string                `json:"balance,omitempty"`
	Watched bool                  `json:"watched"`
	Circuit *circuitbreaker.State `json:"circuit,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Status is the body of /status
type Status struct {
	Chains    []ChainStatus             `json:"chains"`
	Scenarios map[string]results.Result `json:"scenarios"`
}

// NewServer creates a new health check server
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	s := &Server{opts: opts, log: log}
	s.srv = &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router serving every endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/results", s.handleResults)
	mux.HandleFunc("/circuit", s.handleCircuit)
	mux.HandleFunc("/circuit/reset", s.handleCircuitReset)
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return mux
}

// metricsAuthMiddleware checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.opts.MetricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.opts.MetricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady succeeds once every chain has a wallet and, when events are
// watched, a live subscription.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	watched := s.watched()
	for _, chainID := range s.opts.Chains {
		if _, err := s.opts.Client.Sender(chainID); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain %d client not connected", chainID)))
			return
		}
		if watched != nil && !watched[chainID] {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain %d events not watched", chainID)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{Scenarios: map[string]results.Result{}}
	if s.opts.Results != nil {
		status.Scenarios = s.opts.Results.Latest()
	}

	watched := s.watched()
	chains := append([]int(nil), s.opts.Chains...)
	sort.Ints(chains)
	for _, chainID := range chains {
		cs := ChainStatus{
			ChainID: chainID,
			Name:    config.GetChainName(chainID),
			Watched: watched[chainID],
		}
		if s.opts.Breakers != nil {
			state := s.opts.Breakers.For(chainID).GetState()
			cs.Circuit = &state
		}
		if err := s.fillWallet(r.Context(), &cs); err != nil {
			cs.Error = err.Error()
		}
		status.Chains = append(status.Chains, cs)
	}

	s.writeJSON(w, status)
}

// handleResults lists every recorded attempt in order, optionally only those
// of one scenario.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	out := []results.Result{}
	if s.opts.Results != nil {
		name := r.URL.Query().Get("scenario")
		for _, res := range s.opts.Results.Results() {
			if name == "" || res.Scenario == name {
				out = append(out, res)
			}
		}
	}
	s.writeJSON(w, out)
}

// handleCircuit lists the breakers created so far, including those of chains
// a scenario touched without being configured.
func (s *Server) handleCircuit(w http.ResponseWriter, _ *http.Request) {
	states := []circuitbreaker.State{}
	if s.opts.Breakers != nil {
		states = s.opts.Breakers.States()
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ChainID < states[j].ChainID })
	s.writeJSON(w, states)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Error encoding JSON: %v", err)
	}
}

func (s *Server) fillWallet(ctx context.Context, cs *ChainStatus) error {
	wallet, err := s.opts.Client.Sender(cs.ChainID)
	if err != nil {
		return err
	}
	cs.Wallet = wallet.Hex()
	balance, err := s.opts.Client.GetBalance(ctx, cs.ChainID, wallet)
	if err != nil {
		return err
	}
	cs.Balance = balance.String()
	return nil
}

// handleCircuitReset closes the breaker of one chain
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chainIDStr := r.URL.Query().Get("chain")
	if chainIDStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing chain parameter"))
		return
	}

	chainID, err := strconv.Atoi(chainIDStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid chain ID"))
		return
	}

	if s.opts.Breakers == nil || !s.known(chainID) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for chain %d", chainID)))
		return
	}

	s.opts.Breakers.For(chainID).Reset()
	s.log.NoticeWithChain(chainID, "circuit breaker reset over HTTP")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for chain %d reset", chainID)))
}

func (s *Server) known(chainID int) bool {
	for _, id := range s.opts.Chains {
		if id == chainID {
			return true
		}
	}
	return false
}

func (s *Server) watched() map[int]bool {
	if s.opts.Watcher == nil {
		return nil
	}
	out := make(map[int]bool)
	for _, id := range s.opts.Watcher.Attached() {
		out[id] = true
	}
	return out
}

// Start serves until Shutdown is called
func (s *Server) Start() {
	s.log.Info("Starting health and metrics server on port %s", s.opts.Port)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("Health server error: %v", err)
	}
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
