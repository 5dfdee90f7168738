package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/store"
)

// Routes mounts the service's handlers on r.
func (s *Service) Routes(r chi.Router) {
	// Ingestion of market state from the trading system.
	r.Put("/users/{userID}", s.PutUser)
	r.Put("/contracts/{contractID}", s.PutContract)
	r.Post("/bets", s.RecordBet)
	r.Post("/limit-bets", s.RecordLimitBet)

	// Valuation queries.
	r.Get("/users/{userID}/portfolio", s.GetPortfolio)
	r.Post("/users/{userID}/snapshots", s.CreateSnapshot)
	r.Get("/users/{userID}/contract-metrics", s.GetContractMetrics)
	r.Get("/creators/{userID}/stats", s.GetCreatorStats)
	r.Get("/contracts/{contractID}/activity", s.GetMarketActivity)
	r.Get("/contracts/{contractID}/elasticity", s.GetElasticity)
}

// --- Ingestion handlers ---

// PutUser handles PUT /api/v1/users/{userID}
func (s *Service) PutUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u.ID = chi.URLParam(r, "userID")
	if u.ID == "" {
		writeError(w, "user id is required", http.StatusBadRequest)
		return
	}

	if err := s.store.PutUser(r.Context(), &u); err != nil {
		slog.Error("put user failed", "user_id", u.ID, "err", err)
		writeError(w, "failed to store user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// PutContract handles PUT /api/v1/contracts/{contractID}
func (s *Service) PutContract(w http.ResponseWriter, r *http.Request) {
	var c model.Contract
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c.ID = chi.URLParam(r, "contractID")
	if err := validateContract(&c); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c.CreatedTime.IsZero() {
		c.CreatedTime = s.now()
	}

	if err := s.store.PutContract(r.Context(), &c); err != nil {
		slog.Error("put contract failed", "contract_id", c.ID, "err", err)
		writeError(w, "failed to store contract", http.StatusInternalServerError)
		return
	}

	slog.Info("contract stored",
		"contract_id", c.ID,
		"mechanism", c.Mechanism.String(),
		"prob", c.Prob,
		"resolved", c.IsResolved,
	)
	writeJSON(w, http.StatusOK, c)
}

// RecordBet handles POST /api/v1/bets
func (s *Service) RecordBet(w http.ResponseWriter, r *http.Request) {
	var b model.Bet
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if b.UserID == "" || b.ContractID == "" {
		writeError(w, "user_id and contract_id are required", http.StatusBadRequest)
		return
	}
	if b.Outcome == "" {
		writeError(w, "outcome is required", http.StatusBadRequest)
		return
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedTime.IsZero() {
		b.CreatedTime = s.now()
	}

	if err := s.store.InsertBet(r.Context(), &b); err != nil {
		slog.Error("insert bet failed", "bet_id", b.ID, "err", err)
		writeError(w, "failed to record bet", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// RecordLimitBet handles POST /api/v1/limit-bets
func (s *Service) RecordLimitBet(w http.ResponseWriter, r *http.Request) {
	var l model.LimitBet
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if l.UserID == "" || l.ContractID == "" {
		writeError(w, "user_id and contract_id are required", http.StatusBadRequest)
		return
	}
	if l.Outcome != model.OutcomeYes && l.Outcome != model.OutcomeNo {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	if l.LimitProb <= 0 || l.LimitProb >= 1 {
		writeError(w, "limit_prob must be in (0, 1)", http.StatusBadRequest)
		return
	}
	if l.OrderAmount <= 0 {
		writeError(w, "order_amount must be positive", http.StatusBadRequest)
		return
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedTime.IsZero() {
		l.CreatedTime = s.now()
	}

	if err := s.store.InsertLimitBet(r.Context(), &l); err != nil {
		slog.Error("insert limit bet failed", "limit_bet_id", l.ID, "err", err)
		writeError(w, "failed to record limit order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func validateContract(c *model.Contract) error {
	if c.ID == "" {
		return fmt.Errorf("%w: contract id is required", ErrInvalidInput)
	}
	for o, v := range c.Pool {
		if v < 0 {
			return fmt.Errorf("%w: pool reserve for %s is negative", ErrInvalidInput, o)
		}
	}
	if c.Mechanism == model.MechanismCPMM {
		if c.P < 0 || c.P >= 1 {
			return fmt.Errorf("%w: p must be in [0, 1)", ErrInvalidInput)
		}
		if c.Pool[model.OutcomeYes] <= 0 || c.Pool[model.OutcomeNo] <= 0 {
			return fmt.Errorf("%w: cpmm-1 pool needs positive YES and NO reserves", ErrInvalidInput)
		}
	}
	return nil
}

// --- Query handlers ---

// GetPortfolio handles GET /api/v1/users/{userID}/portfolio
// Values the portfolio now without storing a snapshot.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snap, err := s.Evaluate(r.Context(), userID, s.now())
	if err != nil {
		writeStoreError(w, err, "failed to value portfolio")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CreateSnapshot handles POST /api/v1/users/{userID}/snapshots
func (s *Service) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snap, err := s.TakeSnapshot(r.Context(), userID, s.now())
	if err != nil {
		writeStoreError(w, err, "failed to store snapshot")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetContractMetrics handles GET /api/v1/users/{userID}/contract-metrics
func (s *Service) GetContractMetrics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	cms, err := s.ContractMetrics(r.Context(), userID, s.now())
	if err != nil {
		writeStoreError(w, err, "failed to compute contract metrics")
		return
	}
	writeJSON(w, http.StatusOK, cms)
}

// GetCreatorStats handles GET /api/v1/creators/{userID}/stats
func (s *Service) GetCreatorStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := s.CreatorStats(r.Context(), userID, s.now())
	if err != nil {
		writeStoreError(w, err, "failed to compute creator stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetMarketActivity handles GET /api/v1/contracts/{contractID}/activity
func (s *Service) GetMarketActivity(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	activity, err := s.MarketActivity(r.Context(), contractID, s.now())
	if err != nil {
		writeStoreError(w, err, "failed to compute market activity")
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// GetElasticity handles GET /api/v1/contracts/{contractID}/elasticity
// Optional ?size= overrides the quoted trade amount.
func (s *Service) GetElasticity(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	var size float64
	if raw := r.URL.Query().Get("size"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(w, "size must be a positive number", http.StatusBadRequest)
			return
		}
		size = v
	}

	quote, err := s.QuoteElasticity(r.Context(), contractID, size)
	if err != nil {
		writeStoreError(w, err, "failed to quote elasticity")
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "err", err)
	}
}

// writeStoreError maps store.ErrNotFound to 404, ErrStaleSnapshot to 409 and
// anything else to 500.
func writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, store.ErrStaleSnapshot):
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	slog.Error(message, "err", err)
	writeError(w, message, http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
