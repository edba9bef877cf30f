package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	"google.golang.org/genai"
)

var _ contractx.Engine = (*GeminiEngine)(nil)

// ContentGenerator is the part of *genai.Models the engine needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiEngine talks to Gemini natively, so audio parts go in as inline data.
type GeminiEngine struct {
	models ContentGenerator
	cfg    GeminiConfig
}

func NewGeminiEngine(ctx context.Context, cfg GeminiConfig) (*GeminiEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: genai client: %v", contractx.ErrModelInvoke, err)
	}
	return NewGeminiEngineWith(client.Models, cfg)
}

func NewGeminiEngineWith(models ContentGenerator, cfg GeminiConfig) (*GeminiEngine, error) {
	if models == nil {
		return nil, errors.New("gemini content generator is required")
	}
	cfg.Model = strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	return &GeminiEngine{models: models, cfg: cfg}, nil
}

func (g *GeminiEngine) AcceptsMedia() bool { return true }

func (g *GeminiEngine) Generate(ctx context.Context, req contractx.GenerateRequest) (contractx.GenerateResponse, error) {
	cfg, contents, err := g.convRequest(req)
	if err != nil {
		return contractx.GenerateResponse{}, err
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, contents, cfg)
	if err != nil {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return contractx.GenerateResponse{}, fmt.Errorf("%w: no candidates", contractx.ErrModelInvoke)
	}
	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified, "":
	default:
		return contractx.GenerateResponse{}, fmt.Errorf("%w: unexpected finish reason %s", contractx.ErrModelInvoke, cand.FinishReason)
	}

	var (
		sb  strings.Builder
		out contractx.GenerateResponse
	)
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return contractx.GenerateResponse{}, fmt.Errorf("%w: tool args for %s: %v", contractx.ErrSchemaViolation, p.FunctionCall.Name, err)
			}
			if p.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, contractx.ToolCall{
				ID:        p.FunctionCall.ID,
				Name:      p.FunctionCall.Name,
				Arguments: args,
			})
		case p.Text != "" && !p.Thought:
			sb.WriteString(p.Text)
		}
	}
	out.Text = strings.TrimSpace(sb.String())
	return out, nil
}

func (g *GeminiEngine) convRequest(req contractx.GenerateRequest) (*genai.GenerateContentConfig, []*genai.Content, error) {
	temp := g.cfg.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	}
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(s)}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	if len(req.Prompt) == 0 {
		return nil, nil, fmt.Errorf("%w: prompt has no parts", contractx.ErrPromptMissing)
	}

	var (
		contents []*genai.Content
		last     *genai.Content
	)
	push := func(role string, parts []*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if last != nil && last.Role == role {
			last.Parts = append(last.Parts, parts...)
			return
		}
		last = &genai.Content{Role: role, Parts: parts}
		contents = append(contents, last)
	}

	turns := make([]contractx.Turn, 0, len(req.History)+len(req.Steps)+1)
	turns = append(turns, req.History...)
	turns = append(turns, contractx.Turn{Role: contractx.RoleUser, Parts: req.Prompt})
	turns = append(turns, req.Steps...)

	for _, t := range turns {
		switch t.Role {
		case contractx.RoleUser:
			push("user", geminiParts(t.Parts))
		case contractx.RoleModel:
			parts := geminiParts(t.Parts)
			for _, c := range t.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(c.Arguments, &args); err != nil {
					args = map[string]any{"text": string(c.Arguments)}
				}
				part := genai.NewPartFromFunctionCall(c.Name, args)
				part.FunctionCall.ID = c.ID
				parts = append(parts, part)
			}
			push("model", parts)
		case contractx.RoleTool:
			if t.Result == nil {
				return nil, nil, fmt.Errorf("%w: tool turn without result", contractx.ErrValidation)
			}
			part := genai.NewPartFromFunctionResponse(t.Result.Tool, t.Result.Payload())
			part.FunctionResponse.ID = t.Result.CallID
			push("user", []*genai.Part{part})
		default:
			return nil, nil, fmt.Errorf("%w: unknown role %q", contractx.ErrValidation, t.Role)
		}
	}
	return cfg, contents, nil
}

func geminiParts(parts []contractx.PromptPart) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case contractx.PartMedia:
			out = append(out, genai.NewPartFromBytes(p.Data, p.MIMEType))
		default:
			if p.Text != "" {
				out = append(out, genai.NewPartFromText(p.Text))
			}
		}
	}
	return out
}

func geminiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	enums := make([]string, 0, len(s.Enum))
	for _, v := range s.Enum {
		enums = append(enums, fmt.Sprint(v))
	}
	gs := &genai.Schema{
		Description: s.Description,
		Pattern:     s.Pattern,
		Items:       geminiSchema(s.Items),
		Required:    s.Required,
	}
	if len(enums) > 0 {
		gs.Enum = enums
	}
	if s.MinItems != nil {
		n := int64(*s.MinItems)
		gs.MinItems = &n
	}
	if n := len(s.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range s.Properties {
			gs.Properties[k] = geminiSchema(prop)
		}
	}
	switch schemaType(s) {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	for _, t := range s.Types {
		if t == "null" {
			nullable := true
			gs.Nullable = &nullable
		}
	}
	return gs
}
