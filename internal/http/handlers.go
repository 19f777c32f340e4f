package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"scadenze/internal/core"
	"scadenze/internal/storage"
)

type ruleRequest struct {
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Direction   string    `json:"direction"`
	Category    string    `json:"category"`
	Frequency   string    `json:"frequency"`
	DayOfWeek   int       `json:"dayOfWeek"`
	DayOfMonth  int       `json:"dayOfMonth"`
	StartDate   core.Date `json:"startDate"`
	EndDate     core.Date `json:"endDate"`
	Active      *bool     `json:"active"`
}

type ruleResponse struct {
	ID                int64     `json:"id"`
	Description       string    `json:"description"`
	Amount            string    `json:"amount"`
	Direction         string    `json:"direction"`
	Category          string    `json:"category"`
	Frequency         string    `json:"frequency"`
	DayOfWeek         *int      `json:"dayOfWeek,omitempty"`
	DayOfMonth        *int      `json:"dayOfMonth,omitempty"`
	StartDate         core.Date `json:"startDate"`
	EndDate           core.Date `json:"endDate"`
	Active            bool      `json:"active"`
	LastProcessedDate core.Date `json:"lastProcessedDate"`
}

type transactionResponse struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Date        core.Date `json:"date"`
	Direction   string    `json:"direction"`
	Category    string    `json:"category"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type fieldErrorResponse struct {
	Errors []fieldDetail `json:"errors"`
}

type fieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// toRule assembles and validates a domain rule from a request body.
// Validation failures come back as *core.FieldError.
func toRule(owner string, req ruleRequest) (core.Rule, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Rule{}, &core.FieldError{Field: "amount", Err: err}
	}

	cadence, err := core.BuildCadence(core.CadenceKind(req.Frequency), req.DayOfWeek, req.DayOfMonth)
	if err != nil {
		return core.Rule{}, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := core.Rule{
		Owner:       owner,
		Amount:      core.Money{Cents: cents},
		Description: req.Description,
		Direction:   core.Direction(req.Direction),
		Category:    req.Category,
		Cadence:     cadence,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Active:      active,
	}
	if err := rule.Validate(); err != nil {
		return core.Rule{}, err
	}
	return rule, nil
}

func toRuleResponse(rule core.Rule) ruleResponse {
	resp := ruleResponse{
		ID:                rule.ID,
		Description:       rule.Description,
		Amount:            rule.Amount.Decimal(),
		Direction:         string(rule.Direction),
		Category:          rule.Category,
		Frequency:         string(rule.Cadence.Kind()),
		StartDate:         rule.StartDate,
		EndDate:           rule.EndDate,
		Active:            rule.Active,
		LastProcessedDate: rule.LastProcessed,
	}
	switch c := rule.Cadence.(type) {
	case core.Weekly:
		dow := int(c.DayOfWeek)
		resp.DayOfWeek = &dow
	case core.Monthly:
		dom := c.DayOfMonth
		resp.DayOfMonth = &dom
	}
	return resp
}

func toTransactionResponse(txn core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          txn.ID,
		Description: txn.Description,
		Amount:      txn.Amount.Decimal(),
		Date:        txn.Date,
		Direction:   string(txn.Direction),
		Category:    txn.Category,
	}
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rule, err := toRule(ownerFrom(r), req)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	if !s.checkCategory(w, r, rule) {
		return
	}

	id, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create rule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	rule.ID = id

	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context(), ownerFrom(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	resp := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	rule, err := s.store.GetRule(r.Context(), ownerFrom(r), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to get rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rule, err := toRule(ownerFrom(r), req)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	rule.ID = id

	if !s.checkCategory(w, r, rule) {
		return
	}

	err = s.store.UpdateRule(r.Context(), rule)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to update rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}

	// Re-read so the response carries the untouched progress marker.
	updated, err := s.store.GetRule(r.Context(), ownerFrom(r), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to reload rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(updated))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	err := s.store.DeleteRule(r.Context(), ownerFrom(r), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to delete rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	err := s.store.SetRuleActive(r.Context(), ownerFrom(r), id, false)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to deactivate rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to deactivate rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleProcess runs an on-demand sweep for the calling owner. Rules that
// failed are reported in the body; the status stays 200 because the run
// itself completed.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	result, err := s.processor.ProcessDue(r.Context(), ownerFrom(r), time.Now())
	if err != nil {
		slog.ErrorContext(r.Context(), "On-demand processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.store.ListTransactions(r.Context(), ownerFrom(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	resp := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		resp = append(resp, toTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// checkCategory rejects rules pointing at a category the owner does not have.
// Reports whether the request may proceed.
func (s *Server) checkCategory(w http.ResponseWriter, r *http.Request, rule core.Rule) bool {
	ok, err := s.store.HasCategory(r.Context(), rule.Owner, rule.Category)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to check category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check category")
		return false
	}
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, fieldErrorResponse{
			Errors: []fieldDetail{{Field: "category", Message: "unknown category"}},
		})
		return false
	}
	return true
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeValidationError maps a field-level validation failure to a 422 with the
// offending field named; anything else is a plain 400.
func writeValidationError(w http.ResponseWriter, err error) {
	var fieldErr *core.FieldError
	if errors.As(err, &fieldErr) {
		writeJSON(w, http.StatusUnprocessableEntity, fieldErrorResponse{
			Errors: []fieldDetail{{Field: fieldErr.Field, Message: fieldErr.Err.Error()}},
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
