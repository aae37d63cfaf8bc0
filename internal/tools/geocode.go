package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/breezehq/breeze/internal/log"
)

// GeocodeTool resolves a place name to coordinates via the Open-Meteo
// geocoding API. The run controller stores the resolved location in the
// session context so follow-up questions can omit the city.
type GeocodeTool struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewGeocodeTool creates a geocode tool. client may be nil.
func NewGeocodeTool(baseURL string, client *http.Client, logger log.Logger) *GeocodeTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeocodeTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "geocode_tool"),
	}
}

func (t *GeocodeTool) Name() string { return "geocode" }

func (t *GeocodeTool) Description() string {
	return "Resolve a place name to coordinates and country"
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Admin1    string  `json:"admin1"`
	} `json:"results"`
}

func (t *GeocodeTool) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	name, _ := params["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidInput(t.Name(), "name parameter is required")
	}

	reqURL := fmt.Sprintf("%s/v1/search?name=%s&count=1", t.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building geocode request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, NewUpstream(t.Name(), resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ToolError{
			Kind: KindUpstream, Tool: t.Name(),
			Message: fmt.Sprintf("malformed geocode response: %v", err),
		}
	}
	if len(body.Results) == 0 {
		return nil, NewNotFound(t.Name(), fmt.Sprintf("no match for %q", name))
	}

	hit := body.Results[0]
	t.logger.Debug("location resolved", "query", name, "name", hit.Name, "country", hit.Country)
	return map[string]any{
		"name":      hit.Name,
		"latitude":  hit.Latitude,
		"longitude": hit.Longitude,
		"country":   hit.Country,
		"region":    hit.Admin1,
	}, nil
}
