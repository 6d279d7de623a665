package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// OpenAIModel implements model.Model against the OpenAI chat completions
// API, including any OpenAI-compatible endpoint via BaseURL.
type OpenAIModel struct {
	client *openai.Client
	opts   Options
}

func NewOpenAI(opts Options) (*OpenAIModel, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("openai provider requires a model name")
	}
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(config),
		opts:   opts.withDefaults(),
	}, nil
}

// NextAction implements model.Model.
func (m *OpenAIModel) NextAction(ctx context.Context, entries []memory.Entry, caps []capability.Schema) (model.Response, error) {
	req, err := m.request(entries, caps, m.opts.Dispatch)
	if err != nil {
		return model.Response{}, err
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, fmt.Errorf("openai returned no choices")
	}
	choice := resp.Choices[0]
	usage := memory.Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}

	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		act := executor.Action{Rationale: choice.Message.Content}
		if tc.Function.Name == model.FinalAnswerName {
			act.Kind = executor.ActionFinalAnswer
			if v, ok := parseArgs(tc.Function.Arguments)["answer"].(string); ok {
				act.Answer = v
			}
		} else {
			act.Kind = executor.ActionToolCall
			act.Name = tc.Function.Name
			act.Args = parseArgs(tc.Function.Arguments)
		}
		return model.Response{Action: act, Raw: tc.Function.Arguments, Usage: usage}, nil
	}

	out, err := parseText(m.opts.Dispatch, choice.Message.Content)
	if err != nil {
		return model.Response{}, err
	}
	out.Usage = usage
	return out, nil
}

// Plan implements model.Model.
func (m *OpenAIModel) Plan(ctx context.Context, entries []memory.Entry, caps []capability.Schema) (string, memory.Usage, error) {
	req, err := m.request(entries, caps, DispatchCode)
	if err != nil {
		return "", memory.Usage{}, err
	}
	// Planning is a plain completion: no tools, one extra instruction.
	req.Tools = nil
	req.ToolChoice = nil
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: planPrompt,
	})

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", memory.Usage{}, fmt.Errorf("openai plan completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", memory.Usage{}, fmt.Errorf("openai returned no choices")
	}
	usage := memory.Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func (m *OpenAIModel) request(entries []memory.Entry, caps []capability.Schema, dispatch Dispatch) (openai.ChatCompletionRequest, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(entries)*2+1)
	for _, rendered := range model.RenderTranscript(entries) {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(rendered.Role),
			Content: rendered.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:     m.opts.Model,
		Messages:  msgs,
		MaxTokens: m.opts.MaxOutputTokens,
	}
	if m.opts.Temperature > 0 {
		req.Temperature = &m.opts.Temperature
	}

	switch dispatch {
	case DispatchToolCall:
		tools, err := m.toolDefs(caps)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		req.Tools = tools
		req.ToolChoice = "auto"
	default:
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: codeModeReminder,
		})
	}
	return req, nil
}

func (m *OpenAIModel) toolDefs(caps []capability.Schema) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(caps)+1)
	for _, c := range caps {
		schema, err := parseSchema(c)
		if err != nil {
			return nil, err
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  schema,
			},
		})
	}

	var final map[string]any
	if err := json.Unmarshal([]byte(finalAnswerSchema), &final); err != nil {
		return nil, err
	}
	tools = append(tools, openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        model.FinalAnswerName,
			Description: "Finish the task and deliver the final answer.",
			Parameters:  final,
		},
	})
	return tools, nil
}
