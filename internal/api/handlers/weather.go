package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/weathernow/backend/internal/model"
	"github.com/weathernow/backend/internal/openmeteo"
)

const (
	msgCityRequired       = "City name is required"
	msgCityNotFound       = "City not found"
	msgWeatherUnavailable = "Weather data unavailable"
	msgFetchFailed        = "Failed to fetch weather data"
	msgHealthy            = "WeatherNow backend is running"
)

// WeatherLookup - двухэтапный поиск погоды по названию города
type WeatherLookup interface {
	CurrentWeather(ctx context.Context, city string) (model.WeatherResponse, error)
}

type WeatherHandler struct {
	lookup WeatherLookup
	logger *slog.Logger
}

func NewWeatherHandler(lookup WeatherLookup, logger *slog.Logger) *WeatherHandler {
	return &WeatherHandler{
		lookup: lookup,
		logger: logger,
	}
}

// GetWeather возвращает текущую погоду для города из параметра ?city=
func (h *WeatherHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := model.WeatherQuery{City: r.URL.Query().Get("city")}

	if query.City == "" {
		sendError(w, http.StatusBadRequest, msgCityRequired, "")
		return
	}

	h.logger.Info("Запрос погоды", "city", query.City)

	response, err := h.lookup.CurrentWeather(r.Context(), query.City)
	if err != nil {
		h.handleLookupError(w, query.City, err)
		return
	}

	sendJSON(w, http.StatusOK, response)

	h.logger.Info("Погода отдана",
		"city", response.City,
		"temperature", response.Temperature,
		"duration_ms", time.Since(start).Milliseconds())
}

func (h *WeatherHandler) handleLookupError(w http.ResponseWriter, city string, err error) {
	switch {
	case errors.Is(err, openmeteo.ErrCityNotFound):
		h.logger.Info("Город не найден", "city", city)
		sendError(w, http.StatusNotFound, msgCityNotFound, "")
	case errors.Is(err, openmeteo.ErrWeatherUnavailable):
		h.logger.Warn("Нет текущей погоды в ответе прогноза", "city", city)
		sendError(w, http.StatusBadGateway, msgWeatherUnavailable, "")
	default:
		h.logger.Error("Ошибка получения погоды", "city", city, "error", err)
		sendError(w, http.StatusInternalServerError, msgFetchFailed, err.Error())
	}
}

// HealthCheck не ходит во внешние сервисы
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, model.HealthResponse{Message: msgHealthy})
}

// NotFound - ответ для путей вне API, если SPA не подключено
func NotFound(w http.ResponseWriter, r *http.Request) {
	sendError(w, http.StatusNotFound, "Not found", "")
}

// Вспомогательные функции
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, errorMsg, details string) {
	sendJSON(w, status, model.ErrorResponse{
		Error:   errorMsg,
		Details: details,
	})
}
