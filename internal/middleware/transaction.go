package middleware

import (
	"context"
	"net/http"

	"github.com/malgorath/cyberbrain/internal/config"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/postgres_store"
	"gorm.io/gorm"
)

// TransactionMiddleware creates middleware that starts a transaction for each request
// and commits it for successful responses or rolls it back for errors
func TransactionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if there's already a transaction in the context (for tests)
		existingTx, existingTxFound := r.Context().Value(postgres_store.GetTxContextKey()).(*gorm.DB)

		var tx *gorm.DB
		var shouldManageTx bool

		if existingTxFound && existingTx != nil {
			// A transaction is already in the context; use it directly but
			// don't commit/rollback (the test manages it)
			tx = existingTx
			shouldManageTx = false
		} else {
			db := store.GetDB()
			if db == nil {
				http.Error(w, "Database connection not available", http.StatusInternalServerError)
				return
			}

			tx = db.Begin()
			if tx.Error != nil {
				http.Error(w, "Failed to begin transaction", http.StatusInternalServerError)
				return
			}
			shouldManageTx = true
		}

		// Wrap the response writer to track the status code
		tw := &transactionResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		ctx := context.WithValue(r.Context(), postgres_store.GetTxContextKey(), tx)
		r = r.WithContext(ctx)

		next.ServeHTTP(tw, r)

		if shouldManageTx {
			if config.CommitOnSuccess && tw.statusCode >= 200 && tw.statusCode < 300 {
				if err := tx.Commit().Error; err != nil {
					tx.Rollback()
					http.Error(w, "Failed to commit transaction", http.StatusInternalServerError)
					return
				}
			} else {
				tx.Rollback()
			}
		}
	})
}

// transactionResponseWriter wraps http.ResponseWriter to track status code
type transactionResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader overrides the http.ResponseWriter.WriteHeader method to track status code
func (w *transactionResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush passes through so the SSE tool surface can stream through the
// transaction wrapper.
func (w *transactionResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
