// Package handler exposes the import pipeline over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgerlite/ledgerlite/internal/api/middleware"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/service"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/sniffer"
)

// maxUploadBytes caps statement uploads at 20 MiB
const maxUploadBytes = 20 << 20

// ImportHandler handles file analysis and import endpoints
type ImportHandler struct {
	importSvc *service.ImportService
	logger    *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc *service.ImportService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{importSvc: importSvc, logger: logger}
}

// Analyze handles POST /api/imports/analyze. The statement file arrives
// as the multipart "file" field or as the raw request body.
func (h *ImportHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.importSvc.AnalyzeFile(r.Context(), data)
	if err != nil {
		h.logger.Error("failed to analyze file", "error", err)
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := map[string]any{
		"headers":         result.FileConfig.Headers,
		"delimiter":       string(result.FileConfig.Delimiter),
		"skip_lines":      result.FileConfig.SkipLines,
		"fingerprint":     result.FileConfig.Fingerprint,
		"sample_rows":     result.FileConfig.SampleRows,
		"mapping":         result.Inferred.Mapping,
		"usable":          result.Inferred.Usable,
		"ambiguities":     result.Inferred.Ambiguities,
		"mapping_found":   result.SavedMapping != nil,
		"can_auto_import": result.CanAutoImport,
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Import handles POST /api/imports. Multipart fields:
//
//	file        the statement (required)
//	account_id  target account UUID (required)
//	mapping     optional JSON column mapping override
//	bank_name, save_mapping, timezone, force_lines  optional settings
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}

	accountID, err := uuid.Parse(r.FormValue("account_id"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid account_id")
		return
	}

	data, err := readUpload(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var mapping *sniffer.ColumnMapping
	if raw := r.FormValue("mapping"); raw != "" {
		mapping = &sniffer.ColumnMapping{
			DateCol: -1, DescCol: -1, CategoryCol: -1,
			AmountCol: -1, DebitCol: -1, CreditCol: -1,
		}
		if err := json.Unmarshal([]byte(raw), mapping); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid mapping JSON")
			return
		}
	}

	opts := service.ImportOptions{
		BankName:    r.FormValue("bank_name"),
		SaveMapping: r.FormValue("save_mapping") == "true",
		Timezone:    r.FormValue("timezone"),
	}
	if raw := r.FormValue("force_lines"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			line, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "invalid force_lines")
				return
			}
			opts.ForceLines = append(opts.ForceLines, line)
		}
	}

	result, err := h.importSvc.Import(r.Context(), accountID, data, mapping, opts)
	if err != nil {
		h.logger.Error("import failed", "accountID", accountID, "error", err)
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

// readUpload extracts the uploaded file bytes from a multipart form or
// the raw request body.
func readUpload(r *http.Request) ([]byte, error) {
	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadBytes))
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil || len(data) == 0 {
		return nil, errEmptyUpload
	}
	return data, nil
}

var errEmptyUpload = errors.New("no file in request")
