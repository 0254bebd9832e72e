package api

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/ledgerlite/ledgerlite/internal/api/middleware"
)

// SetupRouter builds the HTTP handler with all routes and middleware
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Imports
	mux.HandleFunc("POST /api/imports/analyze", deps.ImportHandler.Analyze)
	mux.HandleFunc("POST /api/imports", deps.ImportHandler.Import)

	// Categorization
	mux.HandleFunc("POST /api/categorize", deps.CategorizationHandler.Run)
	mux.HandleFunc("GET /api/categorize/batches", deps.CategorizationHandler.ListBatches)
	mux.HandleFunc("GET /api/categorize/batches/{id}", deps.CategorizationHandler.GetBatch)

	// Rules and categories
	mux.HandleFunc("GET /api/rules", deps.CategorizationHandler.ListRules)
	mux.HandleFunc("POST /api/rules", deps.CategorizationHandler.CreateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", deps.CategorizationHandler.DeleteRule)
	mux.HandleFunc("GET /api/categories", deps.CategorizationHandler.ListCategories)

	// Transactions
	mux.HandleFunc("POST /api/transactions/{id}/category", deps.CategorizationHandler.CorrectTransaction)
	mux.HandleFunc("POST /api/transactions/bulk", deps.CategorizationHandler.BulkUpdate)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	})

	var handler http.Handler = mux
	handler = middleware.Logger(deps.Logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(deps.Logger)(handler)
	return c.Handler(handler)
}
