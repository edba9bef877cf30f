package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
)

// AgentRunner drives the model and tool rounds for one prompt and returns
// the final answer text.
type AgentRunner func(ctx context.Context, p promptx.Prompt) (string, error)

func RunAgentLoop(ctx context.Context, in *GraphState, run AgentRunner) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply, err := run(ctx, in.Prompt)
	if err != nil {
		return nil, err
	}
	in.Reply = reply
	return in, nil
}
