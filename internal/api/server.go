package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"netdisk/internal/config"
	"netdisk/internal/database"
	"netdisk/internal/disk"
	"netdisk/internal/websocket"
)

type Server struct {
	config *config.Config
	store  *database.Store
	disk   *disk.Service
	wsHub  *websocket.Hub
	logger zerolog.Logger
}

func NewServer(cfg *config.Config, store *database.Store, diskService *disk.Service, wsHub *websocket.Hub, logger zerolog.Logger) *Server {
	return &Server{
		config: cfg,
		store:  store,
		disk:   diskService,
		wsHub:  wsHub,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Routes builds the HTTP router. Local object storage is served read-only
// under /files when localFiles is non-nil.
func (s *Server) Routes(localFiles http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Get("/ws", s.ServeWsHandler)
	r.Get("/health", s.HealthCheckHandler)
	r.Handle("/metrics", promhttp.Handler())

	if localFiles != nil {
		r.Handle("/files/*", http.StripPrefix("/files/", localFiles))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.RegisterHandler)
		r.Post("/auth/login", s.LoginHandler)
		r.Post("/auth/refresh", s.RefreshTokenHandler)
		r.Get("/public/shares/{token}", s.ReadShareHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware)
			r.Post("/auth/logout", s.LogoutHandler)
			r.Get("/me", s.GetCurrentUserHandler)
			r.Get("/me/storage", s.GetStorageUsageHandler)
			r.Get("/nodes", s.ListNodesHandler)
			r.Post("/nodes/folder", s.CreateFolderHandler)
			r.Post("/nodes/file", s.UploadFileHandler)
			r.Post("/nodes/delete", s.DeleteNodesHandler)
			r.Get("/nodes/{nodeId}/download", s.DownloadFileHandler)
			r.Patch("/nodes/{nodeId}", s.UpdateNodeHandler)
			r.Delete("/nodes/{nodeId}", s.DeleteNodeHandler)
			r.Post("/nodes/{nodeId}/share", s.ShareNodeHandler)
			r.Get("/search", s.SearchHandler)
			r.Get("/shares", s.ListSharesHandler)
			r.Delete("/shares/{token}", s.RevokeShareHandler)
			r.Post("/shares/{token}/save", s.SaveShareHandler)
			r.Get("/events", s.GetEventsHandler)
		})
	})

	return r
}
