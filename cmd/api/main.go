package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/weathernow/backend/internal/api/handlers"
	"github.com/weathernow/backend/internal/config"
	"github.com/weathernow/backend/internal/openmeteo"
	"github.com/weathernow/backend/internal/tracing"
)

const serviceName = "weathernow-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Не удалось загрузить конфигурацию", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.Env)
	logger.Info("Запуск WeatherNow backend...")
	logger.Info("Конфигурация загружена",
		"port", cfg.HTTPPort,
		"geocoding_url", cfg.GeocodingURL,
		"forecast_url", cfg.ForecastURL,
		"relay", cfg.RelayURL != "",
		"upstream_timeout", cfg.UpstreamTimeout,
		"allowed_origins", cfg.AllowedOrigins)

	shutdownTracing, err := tracing.Init(serviceName, version(), cfg.ZipkinURL)
	if err != nil {
		logger.Error("Не удалось настроить трассировку", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Ошибка при остановке трассировки", "error", err)
		}
	}()

	client := openmeteo.New(cfg.GeocodingURL, cfg.ForecastURL, cfg.RelayURL, cfg.UpstreamTimeout, logger)
	weatherHandler := handlers.NewWeatherHandler(client, logger)

	server := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     newRouter(cfg, weatherHandler, logger),
		ReadTimeout: 15 * time.Second,
		// два последовательных запроса наружу плюс запас
		WriteTimeout: 2*cfg.UpstreamTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Сервер запущен", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stopChan:
		logger.Info("Получен сигнал завершения...")
	case err := <-serverErr:
		logger.Error("Ошибка сервера", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Ошибка при остановке сервера", "error", err)
	} else {
		logger.Info("Сервер остановлен")
	}
}

// newRouter собирает маршруты. Эндпоинты доступны в корне и под /api
// (и под API_PREFIX, если он задан), остальное уходит в SPA или 404.
func newRouter(cfg *config.Config, weatherHandler *handlers.WeatherHandler, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	api := router.NewRoute().Subrouter()
	api.Use(contentTypeMiddleware)

	prefixes := []string{"", "/api"}
	if cfg.APIPrefix != "" && cfg.APIPrefix != "/api" {
		prefixes = append(prefixes, cfg.APIPrefix)
	}

	for _, prefix := range prefixes {
		health := prefix
		if health == "" {
			health = "/"
		}
		api.HandleFunc(health, weatherHandler.HealthCheck).Methods(http.MethodGet)
		api.HandleFunc(prefix+"/weather", weatherHandler.GetWeather).Methods(http.MethodGet)
	}

	if cfg.StaticDir != "" {
		router.PathPrefix("/").Handler(handlers.NewSPAHandler(cfg.StaticDir))
	} else {
		// mux не применяет middleware к NotFoundHandler
		router.NotFoundHandler = loggingMiddleware(logger)(http.HandlerFunc(handlers.NotFound))
	}

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(cfg.AllowedOrigins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type"}),
	)

	return otelhttp.NewHandler(cors(router), serviceName)
}

func setupLogger(level, env string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)

	// Для продакшена используем JSON формат
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Middleware для логирования
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, status: 200}

			next.ServeHTTP(rw, r)

			logger.Info("HTTP запрос",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_agent", r.UserAgent(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Кастомный ResponseWriter для отслеживания статуса
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware для установки Content-Type
func contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	infoMap := map[string]string{}
	for _, s := range buildInfo.Settings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
