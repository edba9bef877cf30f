package state

import (
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

// DefaultMaxEntries bounds the persisted transcript of one session.
const DefaultMaxEntries = 50

// prepare drops transient and empty messages and stamps missing timestamps.
func prepare(msgs []contractx.HistoryMessage, now time.Time) []contractx.HistoryMessage {
	out := make([]contractx.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Transient || strings.TrimSpace(m.Body()) == "" {
			continue
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		m.Timestamp = m.Timestamp.UTC()
		if m.Role == "" {
			m.Role = contractx.RoleUser
			if m.SenderID == contractx.AgentSenderID {
				m.Role = contractx.RoleModel
			}
		}
		out = append(out, m)
	}
	return out
}

// tail keeps the newest max messages.
func tail(msgs []contractx.HistoryMessage, max int) []contractx.HistoryMessage {
	if max > 0 && len(msgs) > max {
		return msgs[len(msgs)-max:]
	}
	return msgs
}
