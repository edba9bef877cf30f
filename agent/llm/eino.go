package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

var _ contractx.Engine = (*EinoEngine)(nil)

// EinoEngine drives any eino ToolCallingChatModel (OpenRouter by default).
// One model graph is compiled per distinct tool set and reused.
type EinoEngine struct {
	model        einomodel.ToolCallingChatModel
	acceptsMedia bool

	mu      sync.Mutex
	runners map[string]compose.Runnable[[]*schema.Message, *schema.Message]
}

type EinoOption func(*EinoEngine)

// WithMedia marks the underlying model as able to take inline audio.
func WithMedia(ok bool) EinoOption {
	return func(e *EinoEngine) { e.acceptsMedia = ok }
}

func NewEinoEngine(chatModel einomodel.ToolCallingChatModel, opts ...EinoOption) (*EinoEngine, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	e := &EinoEngine{
		model:   chatModel,
		runners: make(map[string]compose.Runnable[[]*schema.Message, *schema.Message]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *EinoEngine) AcceptsMedia() bool { return e.acceptsMedia }

func (e *EinoEngine) Generate(ctx context.Context, req contractx.GenerateRequest) (contractx.GenerateResponse, error) {
	runner, err := e.runnerFor(ctx, req.Tools)
	if err != nil {
		return contractx.GenerateResponse{}, err
	}

	msgs, err := ToMessages(req)
	if err != nil {
		return contractx.GenerateResponse{}, err
	}

	msg, err := runner.Invoke(ctx, msgs)
	if err != nil {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: empty model response", contractx.ErrModelInvoke)
	}

	calls, err := fromToolCalls(msg.ToolCalls)
	if err != nil {
		return contractx.GenerateResponse{}, err
	}
	return contractx.GenerateResponse{Text: strings.TrimSpace(msg.Content), ToolCalls: calls}, nil
}

func (e *EinoEngine) runnerFor(ctx context.Context, defs []contractx.ToolDefinition) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	key := strings.Join(names, ",")

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runners[key]; ok {
		return r, nil
	}

	chatModel := e.model
	if len(defs) > 0 {
		bound, err := e.model.WithTools(ToolInfos(defs))
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
		}
		chatModel = bound
	}

	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "model"); err != nil {
		return nil, fmt.Errorf("add edge start->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add edge model->end: %w", err)
	}
	runner, err := graph.Compile(ctx, compose.WithGraphName("agent.model_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile model graph: %w", err)
	}
	e.runners[key] = runner
	return runner, nil
}

// ToMessages lays out a request as system, history, prompt, then the tool
// exchange of the current request.
func ToMessages(req contractx.GenerateRequest) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(req.History)+len(req.Steps)+2)
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		msgs = append(msgs, schema.SystemMessage(s))
	}
	for _, t := range req.History {
		m, err := toMessage(t)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if len(req.Prompt) == 0 {
		return nil, fmt.Errorf("%w: prompt has no parts", contractx.ErrPromptMissing)
	}
	msgs = append(msgs, userMessage(req.Prompt))
	for _, t := range req.Steps {
		m, err := toMessage(t)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func toMessage(t contractx.Turn) (*schema.Message, error) {
	switch t.Role {
	case contractx.RoleUser:
		return userMessage(t.Parts), nil
	case contractx.RoleModel:
		calls := make([]schema.ToolCall, 0, len(t.ToolCalls))
		for _, c := range t.ToolCalls {
			calls = append(calls, schema.ToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: schema.FunctionCall{Name: c.Name, Arguments: string(c.Arguments)},
			})
		}
		if len(calls) == 0 {
			calls = nil
		}
		return schema.AssistantMessage(joinText(t.Parts), calls), nil
	case contractx.RoleTool:
		if t.Result == nil {
			return nil, fmt.Errorf("%w: tool turn without result", contractx.ErrValidation)
		}
		raw, err := json.Marshal(t.Result.Payload())
		if err != nil {
			return nil, fmt.Errorf("%w: marshal tool result: %v", contractx.ErrValidation, err)
		}
		return schema.ToolMessage(string(raw), t.Result.CallID), nil
	default:
		return nil, fmt.Errorf("%w: unknown role %q", contractx.ErrValidation, t.Role)
	}
}

func userMessage(parts []contractx.PromptPart) *schema.Message {
	hasMedia := false
	for _, p := range parts {
		if p.Kind == contractx.PartMedia {
			hasMedia = true
			break
		}
	}
	if !hasMedia {
		return schema.UserMessage(joinText(parts))
	}

	msg := &schema.Message{Role: schema.User}
	for _, p := range parts {
		switch p.Kind {
		case contractx.PartMedia:
			msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeAudioURL,
				AudioURL: &schema.ChatMessageAudioURL{
					URL:      p.DataURI(),
					MIMEType: p.MIMEType,
				},
			})
		default:
			msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return msg
}

func joinText(parts []contractx.PromptPart) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Kind == contractx.PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func fromToolCalls(calls []schema.ToolCall) ([]contractx.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, fmt.Errorf("%w: invalid tool args for tool=%s", contractx.ErrSchemaViolation, name)
		}
		out = append(out, contractx.ToolCall{
			ID:        call.ID,
			Name:      name,
			Arguments: json.RawMessage(args),
		})
	}
	return out, nil
}
