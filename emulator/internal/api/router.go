// Package api implements an in-memory stand-in for the Exact Online REST and
// XML APIs, for development and integration tests.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/oauth"
	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
)

// Config configures the router.
type Config struct {
	// Division is reported as the user's current division.
	Division string
	// PageSize is the number of records per page.
	PageSize int
	// MinutelyLimit is the per-token request quota; zero disables it.
	MinutelyLimit int
	ClientID      string
	ClientSecret  string
	// Logging enables the chi request logger.
	Logging bool
	// Clock replaces time.Now for rate limit windows and message dates.
	Clock func() time.Time
}

// NewRouter wires the OAuth2, REST and XML endpoints.
func NewRouter(st *store.Store, cfg Config) http.Handler {
	tokenManager := oauth.NewTokenManager(st)
	oauthHandler := oauth.NewHandler(tokenManager, cfg.ClientID, cfg.ClientSecret)
	records := NewRecordsHandler(st, cfg.PageSize)
	uploads := NewUploadHandler()
	limiter := NewRateLimiter(cfg.MinutelyLimit, time.Minute)
	if cfg.Clock != nil {
		limiter.now = cfg.Clock
		uploads.now = cfg.Clock
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.Logging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// OAuth2 endpoints (no authentication required).
	r.Post("/api/oauth2/token", oauthHandler.HandleToken)

	// API endpoints (authentication required).
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(tokenManager))
		r.Use(limiter.Middleware)

		r.Get("/api/v1/current/Me", records.CurrentMe(cfg.Division))

		r.Route("/api/v1/{division}/{service}", func(r chi.Router) {
			r.Get("/{resource}", records.List)
			r.Post("/{resource}", records.Create)
			r.Put("/{resource}", records.Update)
			r.Delete("/{resource}", records.Delete)
			r.Get("/{parent}/{resource}", records.ListViaParent)
		})

		r.Post("/docs/XMLUpload.aspx", uploads.Upload)
	})

	// Health check endpoint.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

// SeedDivision registers a division in its own system/Divisions collection
// unless it is already present.
func SeedDivision(st *store.Store, division, description string) error {
	bucket := store.ResourceBucket(division, "system", "Divisions")
	existing, err := st.List(bucket, func(rec store.Record) bool {
		return valueString(rec["Code"]) == division
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	_, err = st.Insert(bucket, store.Record{
		"Code":         json.Number(division),
		"Description":  description,
		"CustomerName": "Emulator",
	})
	return err
}
