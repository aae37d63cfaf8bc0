package agent

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/session"
)

type fakeChatClient struct {
	gotReq openai.ChatCompletionRequest
	resp   openai.ChatCompletionResponse
	err    error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.gotReq = req
	return f.resp, f.err
}

func newFakePlanner(resp openai.ChatCompletionResponse) (*OpenAIPlanner, *fakeChatClient) {
	client := &fakeChatClient{resp: resp}
	return &OpenAIPlanner{client: client, model: "gpt-4o-mini", logger: log.NewNop()}, client
}

func TestOpenAIPlanner_ToolCall(t *testing.T) {
	p, client := newFakePlanner(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "weather_query",
						Arguments: `{"location":"Paris"}`,
					},
				}},
			},
		}},
	})

	dec, err := p.Plan(context.Background(), Request{UserText: "Weather in Paris?"})
	require.NoError(t, err)

	require.NotNil(t, dec.Tool)
	assert.Equal(t, "weather_query", dec.Tool.Name)
	assert.Equal(t, "Paris", dec.Tool.Params["location"])
	assert.Equal(t, "Paris", dec.ContextUpdates["last_location"])
	assert.Len(t, client.gotReq.Tools, 2)
}

func TestOpenAIPlanner_Reply(t *testing.T) {
	p, _ := newFakePlanner(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "It's 18°C in Paris."},
		}},
	})

	dec, err := p.Plan(context.Background(), Request{UserText: "Weather in Paris?"})
	require.NoError(t, err)

	assert.Nil(t, dec.Tool)
	assert.Equal(t, "It's 18°C in Paris.", dec.Reply)
}

func TestOpenAIPlanner_BadToolArguments(t *testing.T) {
	p, _ := newFakePlanner(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "weather_query",
						Arguments: `not json`,
					},
				}},
			},
		}},
	})

	_, err := p.Plan(context.Background(), Request{UserText: "Weather?"})
	assert.Error(t, err)
}

func TestBuildMessages_TranscriptShape(t *testing.T) {
	obResult := map[string]any{"temperature_c": 18}
	messages := buildMessages(Request{
		UserText: "And tomorrow?",
		Context:  map[string]any{"last_location": "Paris"},
		Window: []*session.Turn{
			{Role: session.RoleUser, Content: "Weather in Paris?"},
			{Role: session.RoleAgent, Content: "It's 18°C."},
		},
		Observations: []Observation{{Tool: "weather_query", Result: obResult}},
	})

	require.Len(t, messages, 6)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Contains(t, messages[1].Content, "last_location")
	assert.Equal(t, openai.ChatMessageRoleUser, messages[2].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, messages[3].Role)
	assert.Equal(t, "And tomorrow?", messages[4].Content)

	var payload map[string]any
	data := messages[5].Content[len("Tool weather_query returned: "):]
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.EqualValues(t, 18, payload["temperature_c"])
}
