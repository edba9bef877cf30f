package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	nodex "github.com/tanpawarit/chative-crm-agent/agent/nodes"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
	toolx "github.com/tanpawarit/chative-crm-agent/agent/tool"
	logx "github.com/tanpawarit/chative-crm-agent/pkg/logger"
)

// DefaultTimeout caps one request end to end.
const DefaultTimeout = 120 * time.Second

type Config struct {
	MaxRounds int
	Timeout   time.Duration
}

// Service is the single callable operation behind the transport.
type Service struct {
	loop        *Loop
	builder     nodex.PromptBuilder
	transcripts contractx.TranscriptStore

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// New wires the request graph. transcripts may be nil, in which case only
// history sent with the request is used.
func New(
	engine contractx.Engine,
	tools contractx.ToolExecutor,
	builder nodex.PromptBuilder,
	transcripts contractx.TranscriptStore,
	cfg Config,
) (*Service, error) {
	if builder == nil {
		return nil, errors.New("prompt builder is required")
	}
	loop, err := NewLoop(engine, tools, cfg.MaxRounds)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Service{
		loop:        loop,
		builder:     builder,
		transcripts: transcripts,
		timeout:     timeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}

	graphRunner, err := s.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner

	return s, nil
}

// HandleMessage answers one inbound message. Any error means the agent
// failed to answer; callers show contract.GenericFailureMessage.
func (s *Service) HandleMessage(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	requestID := s.newID()
	ctx = logx.WithRequest(ctx, requestID, req.SessionID)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.UserID != "" {
		ctx = toolx.WithPerformer(ctx, req.UserID)
	}

	logger := zerolog.Ctx(ctx)
	start := time.Now()

	out, err := s.graphRunner.Invoke(ctx, nodex.GraphInput{RequestID: requestID, Request: req})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(ctxErr, err)
		}
		logger.Error().Err(err).Dur("took", time.Since(start)).Msg("handle message failed")
		return contractx.AgentResponse{}, err
	}

	logger.Info().Dur("took", time.Since(start)).Msg("handled message")
	return contractx.AgentResponse{Text: out.Reply}, nil
}

func (s *Service) runLoop(ctx context.Context, p promptx.Prompt) (string, error) {
	outcome, err := s.loop.Run(ctx, p)
	zerolog.Ctx(ctx).Debug().
		Int("rounds", outcome.Trace.Rounds).
		Int("tool_calls", len(outcome.Trace.Calls)).
		Str("state", string(outcome.Trace.Final())).
		Msg("agent loop finished")
	if err != nil {
		return "", err
	}
	return outcome.Text, nil
}
