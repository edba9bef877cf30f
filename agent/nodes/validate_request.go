package orchestratornode

import (
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
)

type GraphInput struct {
	RequestID string
	Request   contractx.AgentRequest
}

type GraphOutput struct {
	Reply string
}

// GraphState flows through every node of one request.
type GraphState struct {
	RequestID string
	SessionID string
	Request   contractx.AgentRequest
	Now       time.Time

	History []contractx.HistoryMessage
	Prompt  promptx.Prompt

	Reply string
}

// ValidateRequest normalizes the inbound request. Neither message nor audio
// is required; an empty request is answered with the default greeting.
func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	req := in.Request
	req.Message = strings.TrimSpace(req.Message)
	req.UserID = strings.TrimSpace(req.UserID)
	req.UserName = strings.TrimSpace(req.UserName)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if req.Audio != nil && strings.TrimSpace(req.Audio.Data) == "" {
		req.Audio = nil
	}
	if req.Audio != nil {
		if _, _, err := promptx.DecodeAudio(*req.Audio); err != nil {
			return nil, err
		}
	}

	return &GraphState{
		RequestID: in.RequestID,
		SessionID: req.SessionID,
		Request:   req,
		Now:       nowFn().UTC(),
	}, nil
}
