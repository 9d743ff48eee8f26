package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Ian-Reitsma/the-block-sub006/core"
)

// Server exposes a running Chain over a small HTTP API: balance lookups,
// transaction submission, manual mining, and metrics/health endpoints.
type Server struct {
	router *chi.Mux
	chain  *core.Chain
	log    *logrus.Logger
}

// NewServer constructs the router bound to chain.
func NewServer(chain *core.Chain, log *logrus.Logger) *Server {
	s := &Server{router: chi.NewRouter(), chain: chain, log: log}
	s.routes()
	return s
}

// ListenAndServe starts the HTTP server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/metrics", s.chain.Telemetry.Handler().ServeHTTP)
	s.router.Get("/balance/{addr}", s.handleBalance)
	s.router.Post("/submit", s.handleSubmit)
	s.router.Post("/mine", s.handleMine)
	s.router.Get("/stats", s.handleStats)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("http request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addrHex := chi.URLParam(r, "addr")
	addr, err := parseAddress(addrHex)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	consumer, industrial, ok := s.chain.Balance(addr)
	if !ok {
		httpError(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"address":    addr.Hex(),
		"consumer":   consumer,
		"industrial": industrial,
	})
}

// submitRequest is the wire shape accepted by POST /submit. Signing happens
// externally — wallets are not this kernel's concern; this endpoint only
// decodes and admits an already-signed transaction.
type submitRequest struct {
	From             string `json:"from"`
	To               string `json:"to"`
	AmountConsumer   uint64 `json:"amount_consumer"`
	AmountIndustrial uint64 `json:"amount_industrial"`
	Fee              uint64 `json:"fee"`
	FeeSelector      uint8  `json:"fee_selector"`
	Nonce            uint64 `json:"nonce"`
	Memo             string `json:"memo"`
	PublicKey        string `json:"public_key"`
	Signature        string `json:"signature"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := req.toSignedTransaction()
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.chain.Submit(tx); err != nil {
		httpError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, map[string]interface{}{"accepted": true})
}

type mineRequest struct {
	MinerAddr string `json:"miner_addr"`
	Budget    int    `json:"budget"`
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	var req mineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(req.MinerAddr)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	budget := req.Budget
	if budget <= 0 {
		budget = 4096
	}
	block, err := s.chain.MineOneBlock(addr, budget)
	if err != nil {
		httpError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"height": block.Header.Height,
		"hash":   block.Hash().Hex(),
		"txs":    len(block.Transactions),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.chain.Mempool.Stats()
	writeJSON(w, stats)
}

func (r submitRequest) toSignedTransaction() (core.SignedTransaction, error) {
	from, err := parseAddress(r.From)
	if err != nil {
		return core.SignedTransaction{}, err
	}
	to, err := parseAddress(r.To)
	if err != nil {
		return core.SignedTransaction{}, err
	}
	pubRaw, err := hex.DecodeString(trim0x(r.PublicKey))
	if err != nil || len(pubRaw) != 32 {
		return core.SignedTransaction{}, core.ErrDecode
	}
	sigRaw, err := hex.DecodeString(trim0x(r.Signature))
	if err != nil || len(sigRaw) != 64 {
		return core.SignedTransaction{}, core.ErrDecode
	}
	var pub core.PublicKey
	copy(pub[:], pubRaw)
	var sig core.Signature
	copy(sig[:], sigRaw)
	return core.SignedTransaction{
		Payload: core.RawTxPayload{
			From:             from,
			To:               to,
			AmountConsumer:   r.AmountConsumer,
			AmountIndustrial: r.AmountIndustrial,
			Fee:              r.Fee,
			FeeSelector:      r.FeeSelector,
			Nonce:            r.Nonce,
			Memo:             []byte(r.Memo),
		},
		PublicKey: pub,
		Signature: sig,
	}, nil
}

func parseAddress(s string) (core.Address, error) {
	raw, err := hex.DecodeString(trim0x(s))
	if err != nil || len(raw) != 32 {
		return core.Address{}, core.ErrDecode
	}
	var addr core.Address
	copy(addr[:], raw)
	return addr, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"code":  uint16(core.CodeOf(err)),
	})
}
