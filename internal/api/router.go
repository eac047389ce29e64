package api

import (
	"net/http"
	"time"

	"github.com/athebyme/automarket-platform/internal/api/handlers"
	"github.com/athebyme/automarket-platform/internal/api/middleware"
	"github.com/athebyme/automarket-platform/internal/domain/services"
	"github.com/athebyme/automarket-platform/internal/security"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	catalogService *services.CatalogService,
	logger interfaces.LoggerPort,
	corsAllowedOrigins []string,
	jwtManager *security.JWTManager,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.CORS(corsAllowedOrigins))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	catalogHandler := handlers.NewCatalogHandler(catalogService, logger)
	syncHandler := handlers.NewSyncHandler(catalogService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(jwtManager))

		// Маршруты каталога
		r.Route("/records", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(middleware.RequirePermission(jwtManager, security.PermissionCatalogRead))

			r.Get("/", catalogHandler.ListRecords)
			r.Get("/{source}/{sourceID}", catalogHandler.GetRecord)
			r.Get("/{source}/{sourceID}/history", catalogHandler.GetRecordHistory)
		})

		// Маршруты синхронизации. Запуск выполняется синхронно и может
		// идти долго, поэтому таймаут запроса равен бюджету времени
		// запуска, а не обычным 30 секундам.
		r.Route("/sync", func(r chi.Router) {
			r.With(middleware.RequirePermission(jwtManager, security.PermissionSyncRun)).
				Post("/", syncHandler.RunSync)

			r.With(middleware.Timeout(30*time.Second), middleware.RequirePermission(jwtManager, security.PermissionCatalogRead)).
				Get("/runs", syncHandler.ListSyncRuns)
			r.With(middleware.Timeout(30*time.Second), middleware.RequirePermission(jwtManager, security.PermissionCatalogRead)).
				Get("/runs/{id}", syncHandler.GetSyncRun)
		})
	})

	return r
}
