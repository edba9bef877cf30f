package prompt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
	storex "github.com/tanpawarit/chative-crm-agent/agent/store"
)

const (
	DefaultGreeting     = "Hello"
	DefaultHistoryLimit = 10
	DefaultAudioMIME    = "audio/webm"
	DefaultBusinessName = "Wilco Plumbing"
)

// People resolves a caller id to a client or team member.
type People interface {
	Client(ctx context.Context, id string) (recordx.Client, error)
	TeamMember(ctx context.Context, id string) (recordx.TeamMember, error)
}

// Prompt is the assembled model-facing input of one request.
type Prompt struct {
	SystemInstruction string
	History           []contractx.Turn
	Parts             []contractx.PromptPart
}

type Config struct {
	BusinessName string
	HistoryLimit int
	// AcceptsMedia reports whether the engine takes inline audio. When false,
	// audio goes through Transcriber.
	AcceptsMedia bool
	Transcriber  contractx.Transcriber
}

type Builder struct {
	people       People
	template     einoprompt.ChatTemplate
	businessName string
	historyLimit int
	acceptsMedia bool
	transcriber  contractx.Transcriber
	now          func() time.Time
}

func NewBuilder(people People, cfg Config) (*Builder, error) {
	if people == nil {
		return nil, errors.New("people lookup is required")
	}
	name := strings.TrimSpace(cfg.BusinessName)
	if name == "" {
		name = DefaultBusinessName
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Builder{
		people:       people,
		template:     SystemTemplate(),
		businessName: name,
		historyLimit: limit,
		acceptsMedia: cfg.AcceptsMedia,
		transcriber:  cfg.Transcriber,
		now:          time.Now,
	}, nil
}

// Build assembles the system instruction, the bounded history and the prompt
// parts for req. history is the persisted conversation before this message.
func (b *Builder) Build(ctx context.Context, req contractx.AgentRequest, history []contractx.HistoryMessage) (Prompt, error) {
	system, err := b.SystemInstruction(ctx, req.UserID, req.UserName)
	if err != nil {
		return Prompt{}, err
	}
	parts, err := b.Parts(ctx, req.Message, req.Audio)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		SystemInstruction: system,
		History:           Truncate(history, b.historyLimit),
		Parts:             parts,
	}, nil
}

func (b *Builder) SystemInstruction(ctx context.Context, userID, userName string) (string, error) {
	now := b.now()
	system, err := renderSystem(ctx, b.template, map[string]any{
		"business_name":      b.businessName,
		"personalization":    b.personalization(ctx, userID, userName),
		"today":              now.Format(recordx.DateLayout),
		"weekday":            now.Weekday().String(),
		"language_directive": LanguageDirective,
	})
	if err != nil {
		return "", err
	}
	if !strings.Contains(system, LanguageDirective) {
		system += "\n" + LanguageDirective
	}
	return system, nil
}

// personalization looks the caller up as a client, then as a team member,
// then falls back to the name the client sent.
func (b *Builder) personalization(ctx context.Context, userID, userName string) string {
	logger := zerolog.Ctx(ctx)
	if id := strings.TrimSpace(userID); id != "" {
		client, err := b.people.Client(ctx, id)
		switch {
		case err == nil && strings.TrimSpace(client.Name) != "":
			return fmt.Sprintf("You are speaking with %s, a client.", client.Name)
		case err != nil && !errors.Is(err, storex.ErrNotFound):
			logger.Warn().Err(err).Str("user_id", id).Msg("client lookup failed")
		}

		member, err := b.people.TeamMember(ctx, id)
		switch {
		case err == nil && strings.TrimSpace(member.Name) != "":
			if member.Role != "" {
				return fmt.Sprintf("You are speaking with %s (%s at %s).", member.Name, member.Role, b.businessName)
			}
			return fmt.Sprintf("You are speaking with %s, a member of the team.", member.Name)
		case err != nil && !errors.Is(err, storex.ErrNotFound):
			logger.Warn().Err(err).Str("user_id", id).Msg("team lookup failed")
		}
	}
	if name := strings.TrimSpace(userName); name != "" {
		return fmt.Sprintf("You are speaking with %s.", name)
	}
	return ""
}

// Parts builds the current turn: text first, then audio. With neither, it is
// a plain greeting so the model never gets an empty prompt.
func (b *Builder) Parts(ctx context.Context, message string, audio *contractx.AudioInput) ([]contractx.PromptPart, error) {
	var parts []contractx.PromptPart
	if text := strings.TrimSpace(message); text != "" {
		parts = append(parts, contractx.TextPart(text))
	}

	if audio != nil && strings.TrimSpace(audio.Data) != "" {
		data, mime, err := DecodeAudio(*audio)
		if err != nil {
			return nil, err
		}
		switch {
		case b.acceptsMedia:
			parts = append(parts, contractx.MediaPart(data, mime))
		case b.transcriber != nil:
			text, err := b.transcriber.Transcribe(ctx, data, mime)
			if err != nil {
				return nil, err
			}
			if text != "" {
				parts = append(parts, contractx.TextPart(text))
			}
		default:
			return nil, fmt.Errorf("%w: audio input is not supported by the configured engine", contractx.ErrValidation)
		}
	}

	if len(parts) == 0 {
		parts = append(parts, contractx.TextPart(DefaultGreeting))
	}
	return parts, nil
}

// DecodeAudio validates the base64 payload. A data URI prefix is accepted and
// its MIME type wins over an empty mimeType.
func DecodeAudio(a contractx.AudioInput) ([]byte, string, error) {
	payload := strings.TrimSpace(a.Data)
	mime := strings.TrimSpace(a.MimeType)

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("%w: audio data uri must be base64", contractx.ErrValidation)
		}
		if mime == "" {
			mime = strings.TrimSuffix(header, ";base64")
		}
		payload = body
	}
	if mime == "" {
		mime = DefaultAudioMIME
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: audio is not valid base64: %v", contractx.ErrValidation, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: audio is empty", contractx.ErrValidation)
	}
	return data, mime, nil
}

// Truncate keeps the last limit non-transient messages with text and maps
// them to model or user turns by sender.
func Truncate(history []contractx.HistoryMessage, limit int) []contractx.Turn {
	kept := make([]contractx.HistoryMessage, 0, len(history))
	for _, m := range history {
		if m.Transient || strings.TrimSpace(m.Body()) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	turns := make([]contractx.Turn, 0, len(kept))
	for _, m := range kept {
		role := contractx.RoleUser
		if m.FromAgent() {
			role = contractx.RoleModel
		}
		turns = append(turns, contractx.Turn{
			Role:  role,
			Parts: []contractx.PromptPart{contractx.TextPart(m.Body())},
		})
	}
	return turns
}
