package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/session"
)

const systemPrompt = `You are a friendly weather assistant. Answer questions
about current weather and forecasts, suggest what to wear for the
temperature and what activities suit the conditions. Use the weather_query
tool for live data and the geocode tool to disambiguate place names.
Politely decline questions unrelated to weather.`

// chatClient is the slice of the OpenAI client the planner uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIPlanner drives planning through the OpenAI chat completions API
// with tool calling. Tool requests from the model are handed back to the
// run controller; observations return to the model as tool messages.
type OpenAIPlanner struct {
	client  chatClient
	model   string
	limiter *rate.Limiter
	logger  log.Logger
}

// NewOpenAIPlanner creates a model-backed planner. Completion calls are
// paced to stay under upstream rate limits.
func NewOpenAIPlanner(apiKey, model string, logger log.Logger) *OpenAIPlanner {
	return &OpenAIPlanner{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		logger:  logger.With("component", "openai_planner"),
	}
}

var plannerTools = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "weather_query",
			Description: "Current weather and 3-day forecast for a location",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"location": {"type": "string", "description": "City name, e.g. Paris"}
				},
				"required": ["location"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "geocode",
			Description: "Resolve a place name to coordinates and country",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Place name to resolve"}
				},
				"required": ["name"]
			}`),
		},
	},
}

func (p *OpenAIPlanner) Plan(ctx context.Context, req Request) (*Decision, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	messages := buildMessages(req)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Tools:    plannerTools,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]

	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		var params map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
			return nil, fmt.Errorf("parsing tool arguments for %s: %w", tc.Function.Name, err)
		}

		steps := []Step{{
			Type:       session.StepDecision,
			Content:    fmt.Sprintf("Calling %s.", tc.Function.Name),
			Confidence: confidence(0.8),
		}}
		if thought := strings.TrimSpace(choice.Message.Content); thought != "" {
			steps = append([]Step{{Type: session.StepReasoning, Content: thought}}, steps...)
		}
		dec := &Decision{
			Steps: steps,
			Tool:  &ToolRequest{Name: tc.Function.Name, Params: params},
		}
		// Remember the asked-about location across turns.
		if tc.Function.Name == "weather_query" {
			if loc, ok := params["location"].(string); ok && loc != "" {
				dec.ContextUpdates = map[string]any{"last_location": loc}
			}
		}
		return dec, nil
	}

	reply := strings.TrimSpace(choice.Message.Content)
	if reply == "" {
		return nil, fmt.Errorf("chat completion returned empty reply")
	}
	return &Decision{
		Steps: []Step{{
			Type:       session.StepReasoning,
			Content:    "Composed answer from conversation and tool results.",
			Confidence: confidence(0.85),
		}},
		Reply:      reply,
		Confidence: confidence(0.85),
	}, nil
}

// buildMessages flattens the window, the session context, the user message
// and this run's observations into a chat transcript.
func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}

	if len(req.Context) > 0 {
		if ctxJSON, err := json.Marshal(req.Context); err == nil {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Known conversation facts: " + string(ctxJSON),
			})
		}
	}

	for _, turn := range req.Window {
		role := openai.ChatMessageRoleUser
		if turn.Role == session.RoleAgent {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserText,
	})

	for _, ob := range req.Observations {
		content := ob.Error
		if content == "" {
			if data, err := json.Marshal(ob.Result); err == nil {
				content = string(data)
			}
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: fmt.Sprintf("Tool %s returned: %s", ob.Tool, content),
		})
	}
	return messages
}
