package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog"
	bookingx "github.com/tanpawarit/chative-crm-agent/agent/booking"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	llmx "github.com/tanpawarit/chative-crm-agent/agent/llm"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
)

// ToolSpec is one named, schema-typed operation the model may request.
type ToolSpec struct {
	Name        string
	Description string
	Input       *jsonschema.Schema
	Output      *jsonschema.Schema
	Mutates     bool

	input  *jsonschema.Resolved
	output *jsonschema.Resolved
	invoke func(ctx context.Context, args json.RawMessage) (any, error)
}

// Catalog maps tool names to specs. It is built once and holds no mutable
// state; every side effect goes through the record repository.
type Catalog struct {
	specs map[string]*ToolSpec
	order []string

	repo      *recordx.Repository
	guard     *bookingx.Guard
	publisher contractx.EventPublisher

	invoiceLimit int
	searchLimit  int
}

type Option func(*Catalog)

// WithPublisher fans out business events after successful mutations.
func WithPublisher(p contractx.EventPublisher) Option {
	return func(c *Catalog) { c.publisher = p }
}

// WithSpec registers an extra tool, replacing any built-in of the same name.
func WithSpec(spec *ToolSpec) Option {
	return func(c *Catalog) {
		if spec == nil {
			return
		}
		if _, ok := c.specs[spec.Name]; !ok {
			c.order = append(c.order, spec.Name)
		}
		c.specs[spec.Name] = spec
	}
}

const (
	defaultInvoiceLimit = 5
	defaultSearchLimit  = 3
)

func NewCatalog(repo *recordx.Repository, opts ...Option) (*Catalog, error) {
	if repo == nil {
		return nil, errors.New("record repository is required")
	}
	guard, err := bookingx.NewGuard(repo)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		specs:        make(map[string]*ToolSpec, 8),
		repo:         repo,
		guard:        guard,
		invoiceLimit: defaultInvoiceLimit,
		searchLimit:  defaultSearchLimit,
	}

	builtins, err := c.builtins()
	if err != nil {
		return nil, err
	}
	for _, spec := range builtins {
		if _, dup := c.specs[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", spec.Name)
		}
		c.specs[spec.Name] = spec
		c.order = append(c.order, spec.Name)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSpec derives the input and output schemas from In and Out. tune may
// tighten the derived input schema (enums, patterns) before it is resolved.
func NewSpec[In, Out any](
	name, description string,
	mutates bool,
	fn func(ctx context.Context, in In) (Out, error),
	tune func(in *jsonschema.Schema),
) (*ToolSpec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("tool name is required")
	}
	in, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s input schema: %w", name, err)
	}
	if tune != nil {
		tune(in)
	}
	requireNonNull(in)
	out, err := jsonschema.For[Out](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s output schema: %w", name, err)
	}
	inResolved, err := in.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s resolve input schema: %w", name, err)
	}
	outResolved, err := out.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s resolve output schema: %w", name, err)
	}

	return &ToolSpec{
		Name:        name,
		Description: description,
		Input:       in,
		Output:      out,
		Mutates:     mutates,
		input:       inResolved,
		output:      outResolved,
		invoke: func(ctx context.Context, args json.RawMessage) (any, error) {
			var v In
			if err := json.Unmarshal(args, &v); err != nil {
				return nil, fmt.Errorf("%w: %s arguments: %v", contractx.ErrSchemaViolation, name, err)
			}
			return fn(ctx, v)
		},
	}, nil
}

// requireNonNull drops "null" from the types of required properties, at any
// depth. For derives slices and pointers as nullable, and a null would slip
// past constraints such as minItems.
func requireNonNull(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	for _, name := range s.Required {
		p := s.Properties[name]
		if p == nil || len(p.Types) == 0 {
			continue
		}
		types := slices.DeleteFunc(slices.Clone(p.Types), func(t string) bool { return t == "null" })
		if len(types) == 1 {
			p.Type, p.Types = types[0], nil
		} else {
			p.Types = types
		}
	}
	for _, p := range s.Properties {
		requireNonNull(p)
	}
	requireNonNull(s.Items)
}

func (c *Catalog) Lookup(name string) (*ToolSpec, bool) {
	spec, ok := c.specs[name]
	return spec, ok
}

// Specs returns the specs in registration order.
func (c *Catalog) Specs() []*ToolSpec {
	out := make([]*ToolSpec, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.specs[name])
	}
	return out
}

func (c *Catalog) Names() []string {
	return slices.Clone(c.order)
}

func (c *Catalog) Definitions() []contractx.ToolDefinition {
	out := make([]contractx.ToolDefinition, 0, len(c.order))
	for _, spec := range c.Specs() {
		out = append(out, contractx.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Input,
		})
	}
	return out
}

// Infos renders the catalog in eino's tool format.
func (c *Catalog) Infos() []*schema.ToolInfo {
	return llmx.ToolInfos(c.Definitions())
}

// Validate checks the tool name and its arguments without running anything.
func (c *Catalog) Validate(call contractx.ToolCall) error {
	_, _, err := c.prepare(call)
	return err
}

func (c *Catalog) prepare(call contractx.ToolCall) (*ToolSpec, json.RawMessage, error) {
	spec, ok := c.Lookup(call.Name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", contractx.ErrUnknownTool, call.Name)
	}
	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return nil, nil, fmt.Errorf("%w: %s arguments are not JSON: %v", contractx.ErrSchemaViolation, spec.Name, err)
	}
	if err := spec.input.Validate(instance); err != nil {
		return nil, nil, fmt.Errorf("%w: %s input: %v", contractx.ErrSchemaViolation, spec.Name, err)
	}
	return spec, args, nil
}

// Execute validates, runs and validates the output of one call. Store failures
// are reported through ToolResult.Error; only fatal errors are returned.
func (c *Catalog) Execute(ctx context.Context, call contractx.ToolCall) (contractx.ToolResult, error) {
	spec, args, err := c.prepare(call)
	if err != nil {
		return contractx.ToolResult{}, err
	}

	logger := zerolog.Ctx(ctx).With().Str("tool", spec.Name).Bool("mutates", spec.Mutates).Logger()
	start := time.Now()

	out, err := spec.invoke(ctx, args)
	if err != nil {
		if contractx.IsFatal(err) {
			logger.Error().Err(err).Dur("took", time.Since(start)).Msg("tool failed fatally")
			return contractx.ToolResult{}, err
		}
		logger.Warn().Err(err).Dur("took", time.Since(start)).Msg("tool failed")
		return contractx.ToolResult{
			CallID: call.ID,
			Tool:   spec.Name,
			Error:  fmt.Errorf("%w: %s: %v", contractx.ErrToolFailed, spec.Name, err).Error(),
		}, nil
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return contractx.ToolResult{}, fmt.Errorf("%w: %s output: %v", contractx.ErrSchemaViolation, spec.Name, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return contractx.ToolResult{}, fmt.Errorf("%w: %s output: %v", contractx.ErrSchemaViolation, spec.Name, err)
	}
	if err := spec.output.Validate(instance); err != nil {
		return contractx.ToolResult{}, fmt.Errorf("%w: %s output: %v", contractx.ErrSchemaViolation, spec.Name, err)
	}

	logger.Debug().Dur("took", time.Since(start)).Msg("tool executed")
	return contractx.ToolResult{CallID: call.ID, Tool: spec.Name, Result: instance}, nil
}

/* ------------------------------ side effects ------------------------------ */

type performerKey struct{}

// WithPerformer records who the agent acts for in audit entries.
func WithPerformer(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, performerKey{}, who)
}

func performer(ctx context.Context) string {
	if v, ok := ctx.Value(performerKey{}).(string); ok && v != "" {
		return v
	}
	return "ai_agent"
}

// recordMutation appends an audit entry and publishes event. Both are best
// effort; the mutation already happened.
func (c *Catalog) recordMutation(
	ctx context.Context,
	action recordx.AuditAction,
	collection, docID string,
	details map[string]any,
	event string,
) {
	logger := zerolog.Ctx(ctx)
	err := c.repo.AppendAudit(ctx, recordx.AuditEntry{
		Action:      action,
		Collection:  collection,
		DocID:       docID,
		Details:     details,
		Source:      recordx.AuditSourceAI,
		PerformedBy: performer(ctx),
	})
	if err != nil {
		logger.Warn().Err(err).Str("collection", collection).Str("doc_id", docID).Msg("append audit entry")
	}

	if c.publisher == nil || event == "" {
		return
	}
	payload := map[string]any{"collection": collection, "docId": docID}
	for k, v := range details {
		payload[k] = v
	}
	if err := c.publisher.Publish(ctx, event, payload); err != nil {
		logger.Warn().Err(err).Str("event", event).Msg("publish event")
	}
}
