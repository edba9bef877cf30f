package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: agent returned empty answer", contractx.ErrModelInvoke)
	}
	return GraphOutput{Reply: reply}, nil
}
