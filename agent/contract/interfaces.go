package contract

import "context"

// Engine is the inference engine contract required by the agent loop.
type Engine interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// MediaCapable is implemented by engines that accept inline audio parts.
type MediaCapable interface {
	AcceptsMedia() bool
}

// Transcriber converts audio into text for engines that cannot take audio directly.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ToolExecutor validates and runs tool calls requested by the model. Validate
// and Execute return errors for which IsFatal holds only when the request
// must abort; other failures come back as ToolResult.Error.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	Validate(call ToolCall) error
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// TranscriptStore persists the chat transcript of a session.
type TranscriptStore interface {
	Load(ctx context.Context, sessionID string) ([]HistoryMessage, error)
	Append(ctx context.Context, sessionID string, msgs ...HistoryMessage) error
}

// EventPublisher fans out business events after successful mutations.
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload any) error
}
