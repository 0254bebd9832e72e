// Package handler exposes categorization over HTTP.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerlite/ledgerlite/internal/api/middleware"
	"github.com/ledgerlite/ledgerlite/internal/domain/categorization"
)

// CategorizationHandler handles categorization run, rule, and bulk
// transaction endpoints
type CategorizationHandler struct {
	svc    *categorization.Service
	logger *slog.Logger
}

// NewCategorizationHandler creates a new categorization handler
func NewCategorizationHandler(svc *categorization.Service, logger *slog.Logger) *CategorizationHandler {
	return &CategorizationHandler{svc: svc, logger: logger}
}

// Run handles POST /api/categorize: categorize everything currently
// uncategorized and return the closed run record. An optional body may
// override the classifier sub-batch size for this run.
func (h *CategorizationHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batch_size"`
	}
	// Body is optional; a missing or empty body keeps the defaults
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch, err := h.svc.CategorizeWith(r.Context(), categorization.RunOptions{BatchSize: req.BatchSize})
	if err != nil {
		h.logger.Error("categorization run failed", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, batch)
}

// GetBatch handles GET /api/categorize/batches/{id}
func (h *CategorizationHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := h.svc.GetBatch(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get batch", "batchID", id, "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	if batch == nil {
		middleware.WriteError(w, http.StatusNotFound, "batch not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, batch)
}

// ListBatches handles GET /api/categorize/batches
func (h *CategorizationHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	batches, err := h.svc.ListBatches(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list batches", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

// ListRules handles GET /api/rules
func (h *CategorizationHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.ListRules(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateRule handles POST /api/rules
func (h *CategorizationHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantPattern string    `json:"merchant_pattern"`
		CategoryID      uuid.UUID `json:"category_id"`
		ApplyToExisting bool      `json:"apply_to_existing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, backfilled, err := h.svc.CreateRule(r.Context(), req.MerchantPattern, req.CategoryID, req.ApplyToExisting)
	if err != nil {
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"rule":       rule,
		"backfilled": backfilled,
	})
}

// DeleteRule handles DELETE /api/rules/{id}
func (h *CategorizationHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := h.svc.DeleteRule(r.Context(), id); err != nil {
		if err == pgx.ErrNoRows {
			middleware.WriteError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.logger.Error("failed to delete rule", "ruleID", id, "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCategories handles GET /api/categories
func (h *CategorizationHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("failed to list categories", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(categories),
	})
}

// CorrectTransaction handles POST /api/transactions/{id}/category: a
// manual category decision that also teaches the rule engine.
func (h *CategorizationHandler) CorrectTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	var req struct {
		CategoryID uuid.UUID `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CategoryID == uuid.Nil {
		middleware.WriteError(w, http.StatusBadRequest, "category_id is required")
		return
	}

	rule, backfilled, err := h.svc.CorrectCategory(r.Context(), txID, req.CategoryID)
	if err != nil {
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"learned_rule": rule,
		"backfilled":   backfilled,
	})
}

// BulkUpdate handles POST /api/transactions/bulk
func (h *CategorizationHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Op             string      `json:"op"`
		TransactionIDs []uuid.UUID `json:"transaction_ids"`
		CategoryID     *uuid.UUID  `json:"category_id,omitempty"`
		Note           string      `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.svc.BulkUpdate(r.Context(), req.Op, req.TransactionIDs, req.CategoryID, req.Note)
	if err != nil {
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{"updated": updated})
}
