package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var defaultOrigins = []string{"http://localhost:5173", "https://weather-now-fe.onrender.com"}

type Config struct {
	HTTPPort        string
	AllowedOrigins  []string
	GeocodingURL    string
	ForecastURL     string
	RelayURL        string
	UpstreamTimeout time.Duration
	APIPrefix       string
	StaticDir       string
	ZipkinURL       string
	LogLevel        string
	Env             string
}

// fileConfig - необязательный yaml-файл, значения из окружения важнее
type fileConfig struct {
	Port                   string   `yaml:"port"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	GeocodingURL           string   `yaml:"geocoding_url"`
	ForecastURL            string   `yaml:"forecast_url"`
	RelayURL               string   `yaml:"relay_url"`
	UpstreamTimeoutSeconds int      `yaml:"upstream_timeout_seconds"`
	APIPrefix              string   `yaml:"api_prefix"`
	StaticDir              string   `yaml:"static_dir"`
	ZipkinURL              string   `yaml:"zipkin_url"`
	LogLevel               string   `yaml:"log_level"`
}

// Load читает .env (если есть), затем yaml из CONFIG_FILE, затем переменные окружения.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения %s: %w", envFile, err)
	}

	var fc fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if fc, err = readFile(path); err != nil {
			return nil, err
		}
	}

	timeout := getEnvInt("UPSTREAM_TIMEOUT_SECONDS", orInt(fc.UpstreamTimeoutSeconds, 15))
	if timeout <= 0 {
		timeout = 15
	}

	return &Config{
		HTTPPort:        getEnv("PORT", orString(fc.Port, "5000")),
		AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", orSlice(fc.AllowedOrigins, defaultOrigins)),
		GeocodingURL:    strings.TrimSuffix(getEnv("GEOCODING_URL", orString(fc.GeocodingURL, "https://geocoding-api.open-meteo.com")), "/"),
		ForecastURL:     strings.TrimSuffix(getEnv("FORECAST_URL", orString(fc.ForecastURL, "https://api.open-meteo.com")), "/"),
		RelayURL:        getEnv("RELAY_URL", fc.RelayURL),
		UpstreamTimeout: time.Duration(timeout) * time.Second,
		APIPrefix:       strings.TrimSuffix(getEnv("API_PREFIX", fc.APIPrefix), "/"),
		StaticDir:       getEnv("STATIC_DIR", fc.StaticDir),
		ZipkinURL:       getEnv("ZIPKIN_URL", fc.ZipkinURL),
		LogLevel:        getEnv("LOG_LEVEL", orString(fc.LogLevel, "info")),
		Env:             getEnv("ENV", ""),
	}, nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	return fc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orSlice(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
