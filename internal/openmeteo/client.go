package openmeteo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/weathernow/backend/internal/model"
)

const maxPayloadSize = 1 << 20

var (
	ErrCityNotFound       = errors.New("city not found")
	ErrWeatherUnavailable = errors.New("weather data unavailable")
	ErrMalformedPayload   = errors.New("malformed upstream payload")
	ErrPayloadTooLarge    = errors.New("upstream payload too large")
)

// UpstreamStatusError - внешний сервис ответил не 2xx
type UpstreamStatusError struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamStatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

var tracer = otel.Tracer("open-meteo-client")

type Client struct {
	geocodingURL string
	forecastURL  string
	relayURL     string
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// New создает клиент. http.Client общий на весь процесс, состояния между запросами нет.
func New(geocodingURL, forecastURL, relayURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		geocodingURL: geocodingURL,
		forecastURL:  forecastURL,
		relayURL:     relayURL,
		timeout:      timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Поля-указатели нужны, чтобы отличить отсутствующее значение от нуля
type geocodingResult struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name"`
	Country   string   `json:"country"`
}

type geocodingResponse struct {
	Results []geocodingResult `json:"results"`
}

type currentWeather struct {
	Temperature *float64 `json:"temperature"`
	Windspeed   *float64 `json:"windspeed"`
	Weathercode *int     `json:"weathercode"`
	Time        string   `json:"time"`
}

type forecastResponse struct {
	CurrentWeather *currentWeather `json:"current_weather"`
}

// CurrentWeather выполняет оба этапа последовательно: геокодинг, затем прогноз.
func (c *Client) CurrentWeather(ctx context.Context, city string) (model.WeatherResponse, error) {
	geo, err := c.Geocode(ctx, city)
	if err != nil {
		return model.WeatherResponse{}, err
	}

	c.logger.Info("Координаты найдены",
		"city", geo.Name,
		"country", geo.Country,
		"latitude", geo.Latitude,
		"longitude", geo.Longitude)

	reading, err := c.Forecast(ctx, geo.Latitude, geo.Longitude)
	if err != nil {
		return model.WeatherResponse{}, err
	}

	return model.NewWeatherResponse(geo, reading), nil
}

// Geocode возвращает первый результат поиска по названию города
func (c *Client) Geocode(ctx context.Context, city string) (model.GeoResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "geocode")
	defer func() { recordAnyErrorAndEndSpan(err, span) }()

	span.SetAttributes(attribute.String("city", city))

	target := fmt.Sprintf("%s/v1/search?name=%s&count=1", c.geocodingURL, url.QueryEscape(city))

	var payload geocodingResponse
	if err = c.getJSON(ctx, target, &payload); err != nil {
		return model.GeoResult{}, fmt.Errorf("geocoding request failed: %w", err)
	}

	if len(payload.Results) == 0 {
		err = ErrCityNotFound
		return model.GeoResult{}, err
	}

	first := payload.Results[0]
	if first.Latitude == nil || first.Longitude == nil {
		err = fmt.Errorf("%w: geocoding result has no coordinates", ErrMalformedPayload)
		return model.GeoResult{}, fmt.Errorf("geocoding request failed: %w", err)
	}

	geo := model.GeoResult{
		Latitude:  *first.Latitude,
		Longitude: *first.Longitude,
		Name:      first.Name,
		Country:   first.Country,
	}
	span.SetAttributes(
		attribute.String("geo.name", geo.Name),
		attribute.Float64("geo.latitude", geo.Latitude),
		attribute.Float64("geo.longitude", geo.Longitude),
	)

	return geo, nil
}

// Forecast возвращает текущую погоду для координат
func (c *Client) Forecast(ctx context.Context, latitude, longitude float64) (model.WeatherReading, error) {
	var err error

	ctx, span := tracer.Start(ctx, "forecast")
	defer func() { recordAnyErrorAndEndSpan(err, span) }()

	lat := strconv.FormatFloat(latitude, 'f', -1, 64)
	lon := strconv.FormatFloat(longitude, 'f', -1, 64)
	target := fmt.Sprintf("%s/v1/forecast?latitude=%s&longitude=%s&current_weather=true", c.forecastURL, lat, lon)

	var payload forecastResponse
	if err = c.getJSON(ctx, target, &payload); err != nil {
		return model.WeatherReading{}, fmt.Errorf("forecast request failed: %w", err)
	}

	if payload.CurrentWeather == nil {
		err = ErrWeatherUnavailable
		return model.WeatherReading{}, err
	}

	cw := payload.CurrentWeather
	if cw.Temperature == nil || cw.Windspeed == nil || cw.Weathercode == nil || cw.Time == "" {
		err = fmt.Errorf("%w: current_weather is incomplete", ErrMalformedPayload)
		return model.WeatherReading{}, fmt.Errorf("forecast request failed: %w", err)
	}

	span.SetAttributes(attribute.Float64("temperature_c", *cw.Temperature))

	return model.WeatherReading{
		Temperature: *cw.Temperature,
		Windspeed:   *cw.Windspeed,
		Weathercode: *cw.Weathercode,
		Time:        cw.Time,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestURL := target
	if c.relayURL != "" {
		requestURL = c.relayURL + url.QueryEscape(target)
	}

	c.logger.Debug("Запрос к внешнему API", "url", requestURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Ошибка запроса к внешнему API", "url", requestURL, "error", err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize+1))
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}
	if len(body) > maxPayloadSize {
		c.logger.Error("Слишком большой ответ внешнего API", "url", requestURL, "limit", maxPayloadSize)
		return ErrPayloadTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Внешний API вернул ошибку", "url", requestURL, "status", resp.StatusCode)
		return &UpstreamStatusError{StatusCode: resp.StatusCode, Reason: errorReason(body)}
	}

	return decodePayload(body, v, c.relayURL != "")
}

// decodePayload разбирает ответ сразу при получении. Релей может вернуть JSON
// как экранированную строку или в обертке {"contents": "..."} (только через релей);
// все остальное считается испорченными данными.
func decodePayload(body []byte, v any, relayed bool) error {
	payload := bytes.TrimSpace(body)

	if len(payload) > 0 && payload[0] == '"' {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		payload = bytes.TrimSpace([]byte(s))
	} else if relayed {
		if inner, ok := relayContents(payload); ok {
			payload = inner
		}
	}

	if len(payload) == 0 || payload[0] != '{' {
		return fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return nil
}

func relayContents(payload []byte) ([]byte, bool) {
	var envelope struct {
		Contents *string `json:"contents"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Contents == nil {
		return nil, false
	}
	return bytes.TrimSpace([]byte(*envelope.Contents)), true
}

// open-meteo отдает {"error": true, "reason": "..."} при неверных параметрах
func errorReason(body []byte) string {
	var e struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Reason
}

func recordAnyErrorAndEndSpan(err error, span trace.Span) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
