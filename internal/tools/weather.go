package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/breezehq/breeze/internal/log"
)

// WeatherTool queries wttr.in's JSON endpoint for current conditions and a
// short forecast. wttr.in needs no API key, which keeps local development
// friction-free.
type WeatherTool struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewWeatherTool creates a weather tool. client may be nil, in which case
// http.DefaultClient is used; deadlines come from the invocation context.
func NewWeatherTool(baseURL string, client *http.Client, logger log.Logger) *WeatherTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &WeatherTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "weather_tool"),
	}
}

func (t *WeatherTool) Name() string { return "weather_query" }

func (t *WeatherTool) Description() string {
	return "Current weather and 3-day forecast for a location"
}

// wttrResponse mirrors the fields of wttr.in ?format=j1 we consume. All
// numeric values arrive as strings.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		WindKmph    string `json:"windspeedKmph"`
		WindDir     string `json:"winddir16Point"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName []struct {
			Value string `json:"value"`
		} `json:"areaName"`
		Country []struct {
			Value string `json:"value"`
		} `json:"country"`
	} `json:"nearest_area"`
	Weather []struct {
		Date     string `json:"date"`
		MaxTempC string `json:"maxtempC"`
		MinTempC string `json:"mintempC"`
	} `json:"weather"`
}

func (t *WeatherTool) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	location, _ := params["location"].(string)
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, NewInvalidInput(t.Name(), "location parameter is required")
	}

	reqURL := fmt.Sprintf("%s/%s?format=j1", t.baseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewNotFound(t.Name(), fmt.Sprintf("unknown location %q", location))
	case resp.StatusCode != http.StatusOK:
		return nil, NewUpstream(t.Name(), resp.StatusCode)
	}

	var body wttrResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ToolError{
			Kind: KindUpstream, Tool: t.Name(),
			Message: fmt.Sprintf("malformed weather response: %v", err),
		}
	}
	if len(body.CurrentCondition) == 0 {
		return nil, &ToolError{
			Kind: KindUpstream, Tool: t.Name(),
			Message: "weather response has no current conditions",
		}
	}

	cur := body.CurrentCondition[0]
	condition := ""
	if len(cur.WeatherDesc) > 0 {
		condition = cur.WeatherDesc[0].Value
	}
	result := map[string]any{
		"location":      location,
		"condition":     condition,
		"temperature_c": atoiLoose(cur.TempC),
		"feels_like_c":  atoiLoose(cur.FeelsLikeC),
		"humidity":      atoiLoose(cur.Humidity),
		"wind_kmph":     atoiLoose(cur.WindKmph),
		"wind_dir":      cur.WindDir,
	}

	if len(body.NearestArea) > 0 {
		area := body.NearestArea[0]
		if len(area.AreaName) > 0 {
			result["location"] = area.AreaName[0].Value
		}
		if len(area.Country) > 0 {
			result["country"] = area.Country[0].Value
		}
	}

	var forecast []map[string]any
	for _, day := range body.Weather {
		forecast = append(forecast, map[string]any{
			"date":       day.Date,
			"max_temp_c": atoiLoose(day.MaxTempC),
			"min_temp_c": atoiLoose(day.MinTempC),
		})
	}
	if forecast != nil {
		result["forecast"] = forecast
	}

	t.logger.Debug("weather fetched", "location", result["location"], "temp_c", result["temperature_c"])
	return result, nil
}

// atoiLoose parses wttr.in's stringly-typed numbers, defaulting to 0.
func atoiLoose(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
