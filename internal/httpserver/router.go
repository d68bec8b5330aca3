package httpserver

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mathchat/internal/handlers"
	"mathchat/internal/metrics"
	"mathchat/internal/middleware"
)

type Options struct {
	AllowedOrigins []string
	WebDir         string // directory holding index.html and static assets
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, chatHandler *handlers.ChatHandler, renderHandler *handlers.RenderHandler, opts Options) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())             // panic recovery
	r.Use(middleware.MaxBodySize(512 * 1024)) // 512 KB max body

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Streaming route: no request timeout, the stream stays open until the
	// provider finishes or the client disconnects.
	r.Post("/chat", chatHandler.Chat)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.Post("/render", renderHandler.Render)
		r.Get("/health", chatHandler.Health)
		r.Get("/models", chatHandler.Models)
	})

	// Static chat page
	indexPath := filepath.Join(opts.WebDir, "index.html")
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(indexPath); err != nil {
			http.Error(w, "frontend file not found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, indexPath)
	})
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.WebDir))))

	r.Handle("/metrics", metrics.Handler())
}
