package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

// voiceNotePlaceholder stands in for the user turn when only audio was sent.
const voiceNotePlaceholder = "[voice message]"

// SaveTranscript appends the user turn and the answer to the session
// transcript. Persistence is best effort and never fails the request.
func SaveTranscript(ctx context.Context, in *GraphState, transcripts contractx.TranscriptStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if transcripts == nil || in.SessionID == "" {
		return in, nil
	}

	userText := in.Request.Message
	if userText == "" && in.Request.Audio != nil {
		userText = voiceNotePlaceholder
		for _, part := range in.Prompt.Parts {
			if part.Kind == contractx.PartText && strings.TrimSpace(part.Text) != "" {
				userText = part.Text
				break
			}
		}
	}

	msgs := make([]contractx.HistoryMessage, 0, 2)
	if userText != "" {
		msgs = append(msgs, contractx.HistoryMessage{
			Role:      contractx.RoleUser,
			Text:      userText,
			Sender:    in.Request.UserName,
			SenderID:  in.Request.UserID,
			Timestamp: in.Now,
		})
	}
	msgs = append(msgs, contractx.HistoryMessage{
		Role:      contractx.RoleModel,
		Text:      in.Reply,
		SenderID:  contractx.AgentSenderID,
		Timestamp: in.Now,
	})

	if err := transcripts.Append(ctx, in.SessionID, msgs...); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("append transcript")
	}
	return in, nil
}
