package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

var _ contractx.Transcriber = (*Transcriber)(nil)

// Transcriber turns audio into text through an OpenAI-compatible
// /audio/transcriptions endpoint.
type Transcriber struct {
	client *openaisdk.Client
	model  string
}

func NewTranscriber(client *openaisdk.Client, model string) (*Transcriber, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = string(openaisdk.AudioModelWhisper1)
	}
	return &Transcriber{client: client, model: model}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: audio is empty", contractx.ErrValidation)
	}
	out, err := t.client.Audio.Transcriptions.New(ctx, openaisdk.AudioTranscriptionNewParams{
		File:  openaisdk.File(bytes.NewReader(data), "audio"+extensionFor(mimeType), mimeType),
		Model: openaisdk.AudioModel(t.model),
	})
	if err != nil {
		return "", fmt.Errorf("%w: transcribe audio: %v", contractx.ErrModelInvoke, err)
	}
	return strings.TrimSpace(out.Text), nil
}

func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	default:
		return ".webm"
	}
}
