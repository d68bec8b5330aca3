package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mathchat/internal/cache"
	"mathchat/internal/handlers"
	"mathchat/internal/httpserver"
	"mathchat/internal/llm"
	"mathchat/internal/mathmd"
	"mathchat/internal/metrics"
	"mathchat/pkg/logging/logging"
)

const version = "1.0.0"

type Config struct {
	Host         string
	Port         string
	OpenAIAPIKey string
	LLMBaseURL   string
	CORSOrigins  []string
	CacheBackend string // "memory" or "redis"
	RedisAddr    string
	WebDir       string
}

func LoadConfig() Config {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	return Config{
		Host:         getenv("HOST", "0.0.0.0"),
		Port:         getenv("PORT", "8000"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		LLMBaseURL:   getenv("LLM_BASE_URL", "https://api.openai.com"),
		CORSOrigins:  splitList(getenv("CORS_ORIGINS", "http://localhost:8000,http://127.0.0.1:8000")),
		CacheBackend: getenv("CACHE_BACKEND", "memory"),
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),
		WebDir:       getenv("WEB_DIR", "web"),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("mathchat exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Strings("cors_origins", cfg.CORSOrigins),
		zap.String("llm_base_url", cfg.LLMBaseURL),
		zap.Bool("openai_key_present", cfg.OpenAIAPIKey != ""),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Render cache -----
	cacheCfg := cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     5 * time.Minute,
		Prefix:  "mathchat",
	}
	renderCache := cache.NewRenderCache(cacheCfg, redisClient)
	renderCache = cache.NewLoggingRenderCache(renderCache)

	// ----- LLM client -----
	// A missing credential is not fatal: the server starts, /health reports
	// openai_configured=false, and /chat fails fast with 503.
	var llmClient llm.Client
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set - chat requests will be rejected")
	} else {
		var err error
		llmClient, err = llm.NewClient(llm.Config{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
		}, logger)
		if err != nil {
			return err
		}
		if closer, ok := llmClient.(interface{ Close() error }); ok {
			defer closer.Close()
		}
		logger.Info("provider client initialized")
	}

	// ----- Handlers -----
	chatHandler := handlers.NewChatHandler(llmClient, version)
	renderHandler := handlers.NewRenderHandler(mathmd.New(), renderCache, cacheCfg.TTL)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, chatHandler, renderHandler, httpserver.Options{
		AllowedOrigins: cfg.CORSOrigins,
		WebDir:         cfg.WebDir,
	})

	// ----- HTTP server -----
	// No WriteTimeout: /chat keeps the response open for the whole stream.
	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting mathchat server",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
