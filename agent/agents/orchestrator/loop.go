package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
)

// DefaultMaxRounds bounds model round trips per request.
const DefaultMaxRounds = 6

type State string

const (
	StateAwaitingModel  State = "AWAITING_MODEL"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Trace records what one Run did.
type Trace struct {
	Rounds      int
	Transitions []State
	Calls       []contractx.ToolCall
	Results     []contractx.ToolResult
}

func (t *Trace) enter(s State) {
	t.Transitions = append(t.Transitions, s)
}

// Final is the last state entered.
func (t Trace) Final() State {
	if len(t.Transitions) == 0 {
		return ""
	}
	return t.Transitions[len(t.Transitions)-1]
}

type Outcome struct {
	Text  string
	Trace Trace
}

// Loop alternates model rounds and tool batches until the model answers
// with text or the run fails.
type Loop struct {
	engine    contractx.Engine
	tools     contractx.ToolExecutor
	maxRounds int
}

func NewLoop(engine contractx.Engine, tools contractx.ToolExecutor, maxRounds int) (*Loop, error) {
	if engine == nil {
		return nil, errors.New("inference engine is required")
	}
	if tools == nil {
		return nil, errors.New("tool executor is required")
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Loop{engine: engine, tools: tools, maxRounds: maxRounds}, nil
}

// Run returns the final text, or an error with the trace ending in FAILED.
func (l *Loop) Run(ctx context.Context, p promptx.Prompt) (Outcome, error) {
	logger := zerolog.Ctx(ctx)

	var trace Trace
	fail := func(err error) (Outcome, error) {
		trace.enter(StateFailed)
		logger.Warn().Err(err).Int("rounds", trace.Rounds).Msg("agent loop failed")
		return Outcome{Trace: trace}, err
	}

	req := contractx.GenerateRequest{
		SystemInstruction: p.SystemInstruction,
		History:           p.History,
		Prompt:            p.Parts,
		Tools:             l.tools.Definitions(),
	}

	for round := 1; round <= l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		trace.enter(StateAwaitingModel)
		trace.Rounds = round

		start := time.Now()
		resp, err := l.engine.Generate(ctx, req)
		if err != nil {
			if !errors.Is(err, contractx.ErrModelInvoke) && ctx.Err() == nil {
				err = fmt.Errorf("%w: %w", contractx.ErrModelInvoke, err)
			}
			return fail(err)
		}
		logger.Debug().Int("round", round).Int("tool_calls", len(resp.ToolCalls)).Dur("took", time.Since(start)).Msg("model responded")

		if !resp.WantsTools() {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return fail(fmt.Errorf("%w: response has neither text nor tool calls", contractx.ErrModelInvoke))
			}
			trace.enter(StateDone)
			return Outcome{Text: text, Trace: trace}, nil
		}

		calls := assignCallIDs(resp.ToolCalls, round)
		for _, call := range calls {
			if err := l.tools.Validate(call); err != nil {
				trace.Calls = append(trace.Calls, call)
				return fail(err)
			}
		}

		trace.enter(StateExecutingTools)
		trace.Calls = append(trace.Calls, calls...)
		results, err := l.execute(ctx, calls)
		if err != nil {
			return fail(err)
		}
		trace.Results = append(trace.Results, results...)

		req.Steps = append(req.Steps, contractx.Turn{Role: contractx.RoleModel, ToolCalls: calls})
		for i := range results {
			req.Steps = append(req.Steps, contractx.Turn{Role: contractx.RoleTool, Result: &results[i]})
		}
	}

	return fail(fmt.Errorf("%w: no answer after %d rounds", contractx.ErrRoundLimit, l.maxRounds))
}

// execute runs one batch concurrently. Results keep the requested order; a
// fatal error from any call fails the batch after all calls have returned.
func (l *Loop) execute(ctx context.Context, calls []contractx.ToolCall) ([]contractx.ToolResult, error) {
	results := make([]contractx.ToolResult, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.tools.Execute(ctx, call)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

func assignCallIDs(calls []contractx.ToolCall, round int) []contractx.ToolCall {
	out := make([]contractx.ToolCall, len(calls))
	for i, c := range calls {
		if strings.TrimSpace(c.ID) == "" {
			c.ID = fmt.Sprintf("call_%d_%d", round, i+1)
		}
		out[i] = c
	}
	return out
}
