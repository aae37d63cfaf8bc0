package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezehq/breeze/internal/log"
)

const wttrParisFixture = `{
	"current_condition": [{
		"temp_C": "18",
		"FeelsLikeC": "17",
		"humidity": "60",
		"windspeedKmph": "12",
		"winddir16Point": "NW",
		"weatherDesc": [{"value": "Partly cloudy"}]
	}],
	"nearest_area": [{
		"areaName": [{"value": "Paris"}],
		"country": [{"value": "France"}]
	}],
	"weather": [
		{"date": "2026-08-30", "maxtempC": "22", "mintempC": "14"},
		{"date": "2026-08-31", "maxtempC": "24", "mintempC": "15"}
	]
}`

func TestWeatherToolInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Paris", r.URL.Path)
		assert.Equal(t, "j1", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(wttrParisFixture))
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.URL, srv.Client(), log.NewNop())
	result, err := tool.Invoke(context.Background(), map[string]any{"location": "Paris"})
	require.NoError(t, err)

	assert.Equal(t, "Paris", result["location"])
	assert.Equal(t, "France", result["country"])
	assert.Equal(t, "Partly cloudy", result["condition"])
	assert.Equal(t, 18, result["temperature_c"])
	assert.Equal(t, 17, result["feels_like_c"])
	assert.Equal(t, 60, result["humidity"])
	assert.Equal(t, 12, result["wind_kmph"])
	assert.Equal(t, "NW", result["wind_dir"])

	forecast, ok := result["forecast"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, forecast, 2)
	assert.Equal(t, 22, forecast[0]["max_temp_c"])
}

func TestWeatherToolInvoke_MissingLocation(t *testing.T) {
	tool := NewWeatherTool("http://unused", nil, log.NewNop())

	_, err := tool.Invoke(context.Background(), map[string]any{})
	te, ok := AsToolError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidInput, te.Kind)
}

func TestWeatherToolInvoke_UnknownLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.URL, srv.Client(), log.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{"location": "Nowhereville"})

	te, ok := AsToolError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, te.Kind)
	assert.False(t, te.Retryable)
}

func TestWeatherToolInvoke_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.URL, srv.Client(), log.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{"location": "Paris"})

	te, ok := AsToolError(err)
	require.True(t, ok)
	assert.Equal(t, KindUpstream, te.Kind)
	assert.True(t, te.Retryable, "5xx should be retryable")
}

func TestWeatherToolInvoke_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.URL, srv.Client(), log.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{"location": "Paris"})

	te, ok := AsToolError(err)
	require.True(t, ok)
	assert.Equal(t, KindUpstream, te.Kind)
	assert.False(t, te.Retryable)
}

func TestMockWeatherTool_Deterministic(t *testing.T) {
	tool := NewMockWeatherTool()

	first, err := tool.Invoke(context.Background(), map[string]any{"location": "Paris"})
	require.NoError(t, err)
	second, err := tool.Invoke(context.Background(), map[string]any{"location": "paris"})
	require.NoError(t, err)

	assert.Equal(t, first["temperature_c"], second["temperature_c"])
	assert.Equal(t, first["condition"], second["condition"])
}

func TestGeocodeToolInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "Paris", r.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"name":"Paris","latitude":48.85,"longitude":2.35,"country":"France","admin1":"Ile-de-France"}]}`))
	}))
	defer srv.Close()

	tool := NewGeocodeTool(srv.URL, srv.Client(), log.NewNop())
	result, err := tool.Invoke(context.Background(), map[string]any{"name": "Paris"})
	require.NoError(t, err)

	assert.Equal(t, "Paris", result["name"])
	assert.Equal(t, 48.85, result["latitude"])
	assert.Equal(t, "France", result["country"])
}

func TestGeocodeToolInvoke_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	tool := NewGeocodeTool(srv.URL, srv.Client(), log.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{"name": "Xyzzy"})

	te, ok := AsToolError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, te.Kind)
}
