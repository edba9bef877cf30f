package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
)

type PromptBuilder interface {
	Build(ctx context.Context, req contractx.AgentRequest, history []contractx.HistoryMessage) (promptx.Prompt, error)
}

func BuildPrompt(ctx context.Context, in *GraphState, builder PromptBuilder) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	p, err := builder.Build(ctx, in.Request, in.History)
	if err != nil {
		return nil, err
	}
	in.Prompt = p
	return in, nil
}
