package server

import (
	"net/http"

	"github.com/cloo-solutions/homilia/internal/api"
	"github.com/cloo-solutions/homilia/internal/api/handlers"
	"github.com/cloo-solutions/homilia/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxBodyBytes   int64 = 1 << 20
	defaultMaxUploadBytes int64 = 50 << 20
)

type RouterConfig struct {
	// AuthValidator guards every route except /health and /files. Nil leaves
	// the API open.
	AuthValidator   middleware.AuthValidator
	Logger          logrus.FieldLogger
	MaxBodyBytes    int64
	MaxUploadBytes  int64
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Citation links are handed to end users, the token is the credential.
	r.Get("/files/{token}", cfg.DocumentHandler.Download)

	r.Group(func(r chi.Router) {
		if cfg.AuthValidator != nil {
			r.Use(middleware.APIKeyAuth(cfg.AuthValidator))
		}

		limitBody := middleware.MaxBodyBytes(cfg.MaxBodyBytes)

		r.With(middleware.MaxBodyBytes(cfg.MaxUploadBytes)).Post("/documents", cfg.DocumentHandler.Upload)
		r.Get("/documents", cfg.DocumentHandler.ListByDate)
		r.Get("/documents/{fileID}", cfg.DocumentHandler.Get)
		r.Get("/documents/{fileID}/text", cfg.DocumentHandler.GetText)
		r.Delete("/documents/{fileID}", cfg.DocumentHandler.Delete)

		r.With(limitBody).Post("/search", cfg.SearchHandler.Search)
		r.With(limitBody).Post("/citations", cfg.SearchHandler.Citations)
	})

	return r
}
