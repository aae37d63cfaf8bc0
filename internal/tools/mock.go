package tools

import (
	"context"
	"hash/fnv"
	"strings"
)

// MockWeatherTool serves deterministic weather derived from the location
// name. It keeps development and tests independent of wttr.in.
type MockWeatherTool struct{}

// NewMockWeatherTool creates the mock provider.
func NewMockWeatherTool() *MockWeatherTool { return &MockWeatherTool{} }

func (t *MockWeatherTool) Name() string { return "weather_query" }

func (t *MockWeatherTool) Description() string {
	return "Current weather and 3-day forecast for a location (mock data)"
}

var mockConditions = []string{"Sunny", "Partly cloudy", "Cloudy", "Light rain", "Snow"}

func (t *MockWeatherTool) Invoke(_ context.Context, params map[string]any) (map[string]any, error) {
	location, _ := params["location"].(string)
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, NewInvalidInput(t.Name(), "location parameter is required")
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(location)))
	seed := h.Sum32()

	temp := int(seed%35) - 5 // -5..29
	return map[string]any{
		"location":      location,
		"condition":     mockConditions[seed%uint32(len(mockConditions))],
		"temperature_c": temp,
		"feels_like_c":  temp - 2,
		"humidity":      int(40 + seed%50),
		"wind_kmph":     int(seed % 30),
		"wind_dir":      "NW",
	}, nil
}
