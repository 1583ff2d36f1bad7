package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrCityNotFound means the weather service does not know the city.
var ErrCityNotFound = fmt.Errorf("city not found")

// WeatherReport is a current-conditions snapshot for one city.
type WeatherReport struct {
	City        string
	TempC       float64
	WindSpeed   float64
	Humidity    int
	Description string
}

// WeatherProvider fetches current conditions for a city.
type WeatherProvider interface {
	Current(ctx context.Context, city string) (*WeatherReport, error)
}

// OpenWeather talks to the OpenWeatherMap current-weather endpoint.
type OpenWeather struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenWeather creates a weather provider.
func NewOpenWeather(apiKey, baseURL string) *OpenWeather {
	return &OpenWeather{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func (w *OpenWeather) Current(ctx context.Context, city string) (*WeatherReport, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	report := &WeatherReport{
		City:      body.Name,
		TempC:     body.Main.Temp,
		WindSpeed: body.Wind.Speed,
		Humidity:  body.Main.Humidity,
	}
	if report.City == "" {
		report.City = city
	}
	if len(body.Weather) > 0 {
		report.Description = body.Weather[0].Description
	}
	return report, nil
}
