package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/session"
)

// WeatherPlanner is the deterministic weather assistant. It answers weather
// questions with live data from the weather tool, adds clothing and activity
// suggestions, and politely declines everything off-topic. No model calls,
// so it runs with zero external credentials.
type WeatherPlanner struct {
	logger log.Logger
}

// NewWeatherPlanner creates the rule-based planner.
func NewWeatherPlanner(logger log.Logger) *WeatherPlanner {
	return &WeatherPlanner{logger: logger.With("component", "weather_planner")}
}

var weatherKeywords = []string{
	"weather", "temperature", "rain", "snow", "sunny", "forecast",
	"hot", "cold", "wind", "humid", "umbrella", "wear", "cloud",
	"storm", "degrees",
}

// capitalized place after "in/at/for": "weather in New York" -> "New York".
var locationPattern = regexp.MustCompile(`(?:\bin|\bat|\bfor)\s+([A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+)*)`)

// lowercase fallback: "weather in paris" -> "paris".
var locationLowerPattern = regexp.MustCompile(`(?:\bin|\bat|\bfor)\s+([a-z][a-z'-]+(?:\s+[a-z][a-z'-]+)?)`)

var locationStopwords = map[string]bool{
	"the": true, "this": true, "that": true, "today": true,
	"tomorrow": true, "now": true, "morning": true, "evening": true,
	"afternoon": true, "general": true, "fact": true, "my": true,
}

func (p *WeatherPlanner) Plan(_ context.Context, req Request) (*Decision, error) {
	lower := strings.ToLower(req.UserText)

	if !isWeatherQuestion(lower) {
		return &Decision{
			Steps: []Step{{
				Type:       session.StepAnalysis,
				Content:    "The question is not about weather.",
				Confidence: confidence(0.9),
			}},
			Reply:      "I'm a weather assistant, so that's outside what I can help with. Ask me about the weather anywhere and I'll tell you what to expect and what to wear.",
			Confidence: confidence(0.9),
		}, nil
	}

	location := extractLocation(req.UserText)
	fromContext := false
	if location == "" {
		if last, ok := req.Context["last_location"].(string); ok && last != "" {
			location = last
			fromContext = true
		}
	}
	if location == "" {
		return &Decision{
			Steps: []Step{{
				Type:       session.StepAnalysis,
				Content:    "Weather question, but no location given and none remembered.",
				Confidence: confidence(0.8),
			}},
			Reply:      "Happy to check the weather for you. Which city?",
			Confidence: confidence(0.8),
		}, nil
	}

	// First round: no observation yet, ask for the weather tool.
	ob := findObservation(req.Observations, "weather_query")
	if ob == nil {
		steps := []Step{{
			Type:       session.StepAnalysis,
			Content:    fmt.Sprintf("Weather question about %s.", location),
			Confidence: confidence(0.85),
		}}
		if fromContext {
			steps = append(steps, Step{
				Type:    session.StepSearch,
				Content: fmt.Sprintf("No location in the message; using %s from the conversation.", location),
			})
		}
		steps = append(steps, Step{
			Type:       session.StepDecision,
			Content:    fmt.Sprintf("Fetching current conditions for %s.", location),
			Confidence: confidence(0.9),
		})
		return &Decision{
			Steps: steps,
			Tool:  &ToolRequest{Name: "weather_query", Params: map[string]any{"location": location}},
		}, nil
	}

	if ob.Error != "" {
		return &Decision{
			Steps: []Step{{
				Type:       session.StepValidation,
				Content:    fmt.Sprintf("Weather lookup for %s failed: %s", location, ob.Error),
				Confidence: confidence(0.3),
			}},
			Reply:      fmt.Sprintf("I couldn't get the weather for %s right now. Mind trying again in a moment?", location),
			Confidence: confidence(0.3),
		}, nil
	}

	reply := composeWeatherReply(location, ob.Result)
	return &Decision{
		Steps: []Step{
			{
				Type:       session.StepReasoning,
				Content:    fmt.Sprintf("Got conditions for %s; composing answer with suggestions.", location),
				Confidence: confidence(0.9),
			},
			{
				Type:       session.StepValidation,
				Content:    "Answer covers temperature, conditions and a clothing suggestion.",
				Confidence: confidence(0.95),
			},
		},
		Reply:          reply,
		Confidence:     confidence(0.9),
		ContextUpdates: map[string]any{"last_location": location},
	}, nil
}

func isWeatherQuestion(lower string) bool {
	for _, kw := range weatherKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractLocation(text string) string {
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		if loc := trimLocation(m[1]); loc != "" {
			return loc
		}
	}
	if m := locationLowerPattern.FindStringSubmatch(text); m != nil {
		if loc := trimLocation(m[1]); loc != "" {
			return titleCase(loc)
		}
	}
	return ""
}

// trimLocation drops leading stopwords ("in the morning") and gives up if
// nothing but stopwords remain.
func trimLocation(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && locationStopwords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	var kept []string
	for _, w := range words {
		if locationStopwords[strings.ToLower(w)] {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func composeWeatherReply(location string, result map[string]any) string {
	if name, ok := result["location"].(string); ok && name != "" {
		location = name
	}
	temp := asInt(result["temperature_c"])
	feels := asInt(result["feels_like_c"])
	condition, _ := result["condition"].(string)
	humidity := asInt(result["humidity"])
	wind := asInt(result["wind_kmph"])

	var b strings.Builder
	fmt.Fprintf(&b, "It's currently %d°C", temp)
	if feels != temp {
		fmt.Fprintf(&b, " (feels like %d°C)", feels)
	}
	fmt.Fprintf(&b, " in %s", location)
	if condition != "" {
		fmt.Fprintf(&b, " with %s", strings.ToLower(condition))
	}
	fmt.Fprintf(&b, ". Humidity is %d%% and wind is %d km/h. ", humidity, wind)
	b.WriteString(clothingSuggestion(temp))
	if activity := activitySuggestion(condition); activity != "" {
		b.WriteString(" ")
		b.WriteString(activity)
	}
	return b.String()
}

// clothingSuggestion maps temperature bands to advice.
func clothingSuggestion(tempC int) string {
	switch {
	case tempC <= 0:
		return "Bundle up: a heavy winter coat, hat and gloves."
	case tempC <= 10:
		return "You'll want a warm coat and layers."
	case tempC <= 20:
		return "A light jacket should be enough."
	case tempC <= 30:
		return "Comfortable light clothing will do."
	default:
		return "Go for very light, breathable clothing and keep water handy."
	}
}

func activitySuggestion(condition string) string {
	lower := strings.ToLower(condition)
	switch {
	case strings.Contains(lower, "rain"), strings.Contains(lower, "drizzle"), strings.Contains(lower, "shower"):
		return "Take an umbrella; a museum or café might beat the park today."
	case strings.Contains(lower, "snow"):
		return "Watch for slippery streets if you head out."
	case strings.Contains(lower, "sun"), strings.Contains(lower, "clear"):
		return "Great conditions for a walk or anything outdoors."
	case strings.Contains(lower, "cloud"), strings.Contains(lower, "overcast"):
		return "Fine for being outside, just a bit grey."
	default:
		return ""
	}
}

func findObservation(obs []Observation, tool string) *Observation {
	for i := len(obs) - 1; i >= 0; i-- {
		if obs[i].Tool == tool {
			return &obs[i]
		}
	}
	return nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
