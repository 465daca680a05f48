package model

// WeatherQuery - входной запрос клиента, city передается как есть (без trim)
type WeatherQuery struct {
	City string
}

// GeoResult - первый результат геокодера
type GeoResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Country   string  `json:"country"`
}

// WeatherReading - текущая погода из прогноза
type WeatherReading struct {
	Temperature float64 `json:"temperature"`
	Windspeed   float64 `json:"windspeed"`
	Weathercode int     `json:"weathercode"`
	Time        string  `json:"time"`
}

// WeatherResponse - плоский ответ клиенту. Порядок полей совпадает с контрактом.
type WeatherResponse struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Temperature float64 `json:"temperature"`
	Windspeed   float64 `json:"windspeed"`
	Weathercode int     `json:"weathercode"`
	Time        string  `json:"time"`
}

// NewWeatherResponse собирает ответ только из двух успешных результатов
func NewWeatherResponse(geo GeoResult, reading WeatherReading) WeatherResponse {
	return WeatherResponse{
		City:        geo.Name,
		Country:     geo.Country,
		Latitude:    geo.Latitude,
		Longitude:   geo.Longitude,
		Temperature: reading.Temperature,
		Windspeed:   reading.Windspeed,
		Weathercode: reading.Weathercode,
		Time:        reading.Time,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Message string `json:"message"`
}
