package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

// LoadHistory prefers the history sent with the request and falls back to the
// persisted transcript of the session. A transcript read failure degrades to
// an empty history.
func LoadHistory(ctx context.Context, in *GraphState, transcripts contractx.TranscriptStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	if len(in.Request.History) > 0 {
		in.History = in.Request.History
		return in, nil
	}
	if transcripts == nil || in.SessionID == "" {
		return in, nil
	}

	history, err := transcripts.Load(ctx, in.SessionID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("load transcript")
		return in, nil
	}
	in.History = history
	return in, nil
}
