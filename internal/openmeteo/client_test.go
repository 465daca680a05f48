package openmeteo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestGeocode(t *testing.T) {
	is, upstream, c := setupMockClient(t, http.StatusOK, geocodingJSON)

	geo, err := c.Geocode(context.Background(), "London")
	is.NoErr(err)

	is.Equal(geo.Name, "London")
	is.Equal(geo.Country, "United Kingdom")
	is.Equal(geo.Latitude, 51.51)
	is.Equal(geo.Longitude, -0.13)

	is.Equal(upstream.lastPath(), "/v1/search")
	is.Equal(upstream.lastQuery().Get("count"), "1")
	is.Equal(upstream.lastQuery().Get("name"), "London")
}

func TestGeocodeEscapesCityName(t *testing.T) {
	is, upstream, c := setupMockClient(t, http.StatusOK, geocodingJSON)

	_, err := c.Geocode(context.Background(), "São Paulo & co")
	is.NoErr(err)

	is.Equal(upstream.lastQuery().Get("name"), "São Paulo & co")
	is.Equal(upstream.lastQuery().Get("count"), "1") // the ampersand must not leak a new parameter
}

func TestGeocodeWithNoResults(t *testing.T) {
	for name, body := range map[string]string{
		"absent": `{"generationtime_ms":0.4}`,
		"empty":  `{"results":[]}`,
		"null":   `{"results":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			is, _, c := setupMockClient(t, http.StatusOK, body)

			_, err := c.Geocode(context.Background(), "Atlantis")
			is.True(errors.Is(err, ErrCityNotFound))
		})
	}
}

func TestGeocodeUpstreamStatusFailure(t *testing.T) {
	is, _, c := setupMockClient(t, http.StatusBadRequest, `{"error":true,"reason":"Parameter count must be between 1 and 100."}`)

	_, err := c.Geocode(context.Background(), "London")
	is.True(err != nil)

	var statusErr *UpstreamStatusError
	is.True(errors.As(err, &statusErr))
	is.Equal(statusErr.StatusCode, http.StatusBadRequest)
	is.Equal(statusErr.Reason, "Parameter count must be between 1 and 100.")
}

func TestGeocodeMalformedPayload(t *testing.T) {
	is, _, c := setupMockClient(t, http.StatusOK, `<html>rate limited</html>`)

	_, err := c.Geocode(context.Background(), "London")
	is.True(errors.Is(err, ErrMalformedPayload))
}

func TestGeocodeResultWithoutCoordinates(t *testing.T) {
	for name, body := range map[string]string{
		"both missing":      `{"results":[{"name":"Nowhere"}]}`,
		"longitude missing": `{"results":[{"name":"Nowhere","latitude":12.5}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			is, _, c := setupMockClient(t, http.StatusOK, body)

			_, err := c.Geocode(context.Background(), "Nowhere")
			is.True(errors.Is(err, ErrMalformedPayload))
		})
	}
}

func TestGeocodeKeepsZeroCoordinates(t *testing.T) {
	is, _, c := setupMockClient(t, http.StatusOK, `{"results":[{"name":"Null Island","latitude":0,"longitude":0,"country":""}]}`)

	geo, err := c.Geocode(context.Background(), "Null Island")
	is.NoErr(err) // explicit zeros are real coordinates
	is.Equal(geo.Latitude, 0.0)
}

func TestCurrentWeatherSkipsForecastWithoutCoordinates(t *testing.T) {
	is := is.New(t)
	geo := newMockUpstream(t, http.StatusOK, `{"results":[{"name":"Nowhere"}]}`)
	forecast := newMockUpstream(t, http.StatusOK, forecastJSON)
	c := New(geo.URL, forecast.URL, "", time.Second, discardLogger())

	_, err := c.CurrentWeather(context.Background(), "Nowhere")
	is.True(errors.Is(err, ErrMalformedPayload))
	is.Equal(forecast.count(), int32(0))
}

func TestForecastWithIncompleteCurrentWeather(t *testing.T) {
	for name, body := range map[string]string{
		"empty":          `{"current_weather":{}}`,
		"time only":      `{"current_weather":{"time":"2025-01-01T12:00"}}`,
		"no weathercode": `{"current_weather":{"time":"2025-01-01T12:00","temperature":14.2,"windspeed":11.3}}`,
	} {
		t.Run(name, func(t *testing.T) {
			is, _, c := setupMockClient(t, http.StatusOK, body)

			_, err := c.Forecast(context.Background(), 51.51, -0.13)
			is.True(errors.Is(err, ErrMalformedPayload))
		})
	}
}

func TestOversizedPayload(t *testing.T) {
	is, _, c := setupMockClient(t, http.StatusOK, strings.Repeat(" ", maxPayloadSize)+geocodingJSON)

	_, err := c.Geocode(context.Background(), "London")
	is.True(errors.Is(err, ErrPayloadTooLarge))
	is.True(!errors.Is(err, ErrMalformedPayload))
}

func TestDirectResponseIsNotTreatedAsRelayEnvelope(t *testing.T) {
	is, _, c := setupMockClient(t, http.StatusOK, `{"contents":`+strconv.Quote(geocodingJSON)+`}`)

	_, err := c.Geocode(context.Background(), "London")
	is.True(errors.Is(err, ErrCityNotFound)) // no relay configured, so "contents" is just an unknown field
}

func TestForecast(t *testing.T) {
	is, upstream, c := setupMockClient(t, http.StatusOK, forecastJSON)

	reading, err := c.Forecast(context.Background(), 51.51, -0.13)
	is.NoErr(err)

	is.Equal(reading.Temperature, 14.2)
	is.Equal(reading.Windspeed, 11.3)
	is.Equal(reading.Weathercode, 3)
	is.Equal(reading.Time, "2025-01-01T12:00")

	is.Equal(upstream.lastPath(), "/v1/forecast")
	is.Equal(upstream.lastQuery().Get("latitude"), "51.51")
	is.Equal(upstream.lastQuery().Get("longitude"), "-0.13")
	is.Equal(upstream.lastQuery().Get("current_weather"), "true")
}

func TestForecastWithoutCurrentWeather(t *testing.T) {
	is, _, c := setupMockClient(t, http.StatusOK, `{"latitude":51.5,"longitude":-0.12}`)

	_, err := c.Forecast(context.Background(), 51.51, -0.13)
	is.True(errors.Is(err, ErrWeatherUnavailable))
}

func TestCurrentWeather(t *testing.T) {
	is := is.New(t)
	geo := newMockUpstream(t, http.StatusOK, geocodingJSON)
	forecast := newMockUpstream(t, http.StatusOK, forecastJSON)
	c := New(geo.URL, forecast.URL, "", time.Second, discardLogger())

	resp, err := c.CurrentWeather(context.Background(), "london")
	is.NoErr(err)

	is.Equal(resp.City, "London") // resolved name, not the raw input
	is.Equal(resp.Country, "United Kingdom")
	is.Equal(resp.Temperature, 14.2)
	is.Equal(geo.count(), int32(1))
	is.Equal(forecast.count(), int32(1))
}

func TestCurrentWeatherSkipsForecastWhenCityIsUnknown(t *testing.T) {
	is := is.New(t)
	geo := newMockUpstream(t, http.StatusOK, `{}`)
	forecast := newMockUpstream(t, http.StatusOK, forecastJSON)
	c := New(geo.URL, forecast.URL, "", time.Second, discardLogger())

	_, err := c.CurrentWeather(context.Background(), "Atlantis")
	is.True(errors.Is(err, ErrCityNotFound))
	is.Equal(forecast.count(), int32(0))
}

func TestUpstreamTimeout(t *testing.T) {
	is := is.New(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	c := New(slow.URL, slow.URL, "", 50*time.Millisecond, discardLogger())

	_, err := c.Geocode(context.Background(), "London")
	is.True(errors.Is(err, context.DeadlineExceeded))
}

func TestRelayWithEscapedStringPayload(t *testing.T) {
	is := is.New(t)
	escaped := strconv.Quote(geocodingJSON)

	relay := newMockUpstream(t, http.StatusOK, escaped)
	c := New("https://geocoding.example", "https://forecast.example", relay.URL+"/raw?url=", time.Second, discardLogger())

	geo, err := c.Geocode(context.Background(), "London")
	is.NoErr(err)
	is.Equal(geo.Name, "London")

	wrapped, err := url.Parse(relay.lastQuery().Get("url"))
	is.NoErr(err)
	is.Equal(wrapped.Host, "geocoding.example")
	is.Equal(wrapped.Query().Get("name"), "London")
}

func TestRelayWithContentsEnvelope(t *testing.T) {
	is := is.New(t)
	envelope := `{"contents":` + strconv.Quote(forecastJSON) + `,"status":{"http_code":200}}`

	relay := newMockUpstream(t, http.StatusOK, envelope)
	c := New("https://geocoding.example", "https://forecast.example", relay.URL+"/get?url=", time.Second, discardLogger())

	reading, err := c.Forecast(context.Background(), 51.51, -0.13)
	is.NoErr(err)
	is.Equal(reading.Weathercode, 3)
}

func TestRelayWithUnparsableStringPayload(t *testing.T) {
	is := is.New(t)
	relay := newMockUpstream(t, http.StatusOK, strconv.Quote("not json at all"))
	c := New("https://geocoding.example", "https://forecast.example", relay.URL+"/raw?url=", time.Second, discardLogger())

	_, err := c.Geocode(context.Background(), "London")
	is.True(errors.Is(err, ErrMalformedPayload))
}

type mockUpstream struct {
	*httptest.Server
	calls   atomic.Int32
	lastURL atomic.Pointer[url.URL]
}

func (m *mockUpstream) count() int32 {
	return m.calls.Load()
}

func (m *mockUpstream) lastPath() string {
	return m.lastURL.Load().Path
}

func (m *mockUpstream) lastQuery() url.Values {
	return m.lastURL.Load().Query()
}

func newMockUpstream(t *testing.T, statusCode int, body string) *mockUpstream {
	m := &mockUpstream{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		m.lastURL.Store(r.URL)
		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		w.Write([]byte(body))
	}))
	t.Cleanup(m.Close)
	return m
}

func setupMockClient(t *testing.T, statusCode int, body string) (*is.I, *mockUpstream, *Client) {
	is := is.New(t)
	upstream := newMockUpstream(t, statusCode, body)
	c := New(upstream.URL, upstream.URL, "", time.Second, discardLogger())

	return is, upstream, c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const geocodingJSON string = `{"results":[{"id":2643743,"name":"London","latitude":51.51,"longitude":-0.13,"elevation":25.0,"feature_code":"PPLC","country_code":"GB","timezone":"Europe/London","country":"United Kingdom","admin1":"England"}],"generationtime_ms":0.8}`

const forecastJSON string = `{"latitude":51.5,"longitude":-0.12,"generationtime_ms":0.05,"utc_offset_seconds":0,"timezone":"GMT","elevation":23.0,"current_weather_units":{"time":"iso8601","temperature":"°C","windspeed":"km/h","winddirection":"°","is_day":"","weathercode":"wmo code"},"current_weather":{"time":"2025-01-01T12:00","interval":900,"temperature":14.2,"windspeed":11.3,"winddirection":250,"is_day":1,"weathercode":3}}`
