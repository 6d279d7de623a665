package providers

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// AnthropicModel implements model.Model against the Anthropic messages API.
type AnthropicModel struct {
	client *anthropic.Client
	opts   Options
}

func NewAnthropic(opts Options) (*AnthropicModel, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider requires an API key")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("anthropic provider requires a model name")
	}
	return &AnthropicModel{
		client: anthropic.NewClient(opts.APIKey),
		opts:   opts.withDefaults(),
	}, nil
}

// NextAction implements model.Model.
func (m *AnthropicModel) NextAction(ctx context.Context, entries []memory.Entry, caps []capability.Schema) (model.Response, error) {
	req, err := m.request(entries, m.opts.Dispatch)
	if err != nil {
		return model.Response{}, err
	}
	if m.opts.Dispatch == DispatchToolCall {
		tools, err := m.toolDefs(caps)
		if err != nil {
			return model.Response{}, err
		}
		req.Tools = tools
	}

	resp, err := m.client.CreateMessages(ctx, req)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic messages: %w", err)
	}
	usage := memory.Usage{
		Prompt:     resp.Usage.InputTokens,
		Completion: resp.Usage.OutputTokens,
		Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	var text string
	for _, block := range resp.Content {
		switch {
		case block.Type == anthropic.MessagesContentTypeText && block.Text != nil:
			text += *block.Text
		case block.Type == anthropic.MessagesContentTypeToolUse && block.MessageContentToolUse != nil:
			tu := block.MessageContentToolUse
			act := executor.Action{Rationale: text}
			args := map[string]any{}
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &args); err != nil {
					args = map[string]any{}
				}
			}
			if tu.Name == model.FinalAnswerName {
				act.Kind = executor.ActionFinalAnswer
				if v, ok := args["answer"].(string); ok {
					act.Answer = v
				}
			} else {
				act.Kind = executor.ActionToolCall
				act.Name = tu.Name
				act.Args = args
			}
			return model.Response{Action: act, Raw: string(tu.Input), Usage: usage}, nil
		}
	}

	out, err := parseText(m.opts.Dispatch, text)
	if err != nil {
		return model.Response{}, err
	}
	out.Usage = usage
	return out, nil
}

// Plan implements model.Model.
func (m *AnthropicModel) Plan(ctx context.Context, entries []memory.Entry, _ []capability.Schema) (string, memory.Usage, error) {
	req, err := m.request(entries, DispatchCode)
	if err != nil {
		return "", memory.Usage{}, err
	}
	req.Messages = append(req.Messages, anthropic.Message{
		Role:    anthropic.RoleUser,
		Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(planPrompt)},
	})

	resp, err := m.client.CreateMessages(ctx, req)
	if err != nil {
		return "", memory.Usage{}, fmt.Errorf("anthropic plan: %w", err)
	}
	usage := memory.Usage{
		Prompt:     resp.Usage.InputTokens,
		Completion: resp.Usage.OutputTokens,
		Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text += *block.Text
		}
	}
	return text, usage, nil
}

func (m *AnthropicModel) request(entries []memory.Entry, dispatch Dispatch) (anthropic.MessagesRequest, error) {
	var system []anthropic.MessageSystemPart
	var msgs []anthropic.Message

	for _, rendered := range model.RenderTranscript(entries) {
		switch rendered.Role {
		case model.RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: rendered.Content})
		case model.RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(rendered.Content)},
			})
		case model.RoleAssistant:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(rendered.Content)},
			})
		}
	}
	if dispatch == DispatchCode {
		system = append(system, anthropic.MessageSystemPart{Type: "text", Text: codeModeReminder})
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(m.opts.Model),
		Messages:  msgs,
		MaxTokens: m.opts.MaxOutputTokens,
	}
	if m.opts.Temperature > 0 {
		t := m.opts.Temperature
		req.Temperature = &t
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	return req, nil
}

func (m *AnthropicModel) toolDefs(caps []capability.Schema) ([]anthropic.ToolDefinition, error) {
	tools := make([]anthropic.ToolDefinition, 0, len(caps)+1)
	for _, c := range caps {
		schema, err := parseSchema(c)
		if err != nil {
			return nil, err
		}
		tools = append(tools, anthropic.ToolDefinition{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: schema,
		})
	}

	var final map[string]any
	if err := json.Unmarshal([]byte(finalAnswerSchema), &final); err != nil {
		return nil, err
	}
	tools = append(tools, anthropic.ToolDefinition{
		Name:        model.FinalAnswerName,
		Description: "Finish the task and deliver the final answer.",
		InputSchema: final,
	})
	return tools, nil
}
