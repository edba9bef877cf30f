package contract

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// AgentSenderID marks persisted messages written by the agent itself.
const AgentSenderID = "ai_agent"

type PartKind string

const (
	PartText  PartKind = "text"
	PartMedia PartKind = "media"
)

// PromptPart is either a text fragment or inline media (audio) with its MIME type.
type PromptPart struct {
	Kind     PartKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	Data     []byte   `json:"data,omitempty"`
	MIMEType string   `json:"mime_type,omitempty"`
}

func TextPart(text string) PromptPart {
	return PromptPart{Kind: PartText, Text: text}
}

func MediaPart(data []byte, mimeType string) PromptPart {
	return PromptPart{Kind: PartMedia, Data: data, MIMEType: mimeType}
}

// DataURI renders a media part as data:<mime>;base64,<payload>.
func (p PromptPart) DataURI() string {
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Turn is one entry of the working conversation handed to the inference engine.
type Turn struct {
	Role      Role         `json:"role"`
	Parts     []PromptPart `json:"parts,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Result    *ToolResult  `json:"result,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolResult struct {
	CallID string `json:"call_id,omitempty"`
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Payload renders the result the way it is serialized back into the conversation.
func (r ToolResult) Payload() map[string]any {
	if r.Error != "" {
		return map[string]any{"error": r.Error}
	}
	return map[string]any{"result": r.Result}
}

// ToolDefinition is the engine-facing description of a catalog entry.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// GenerateRequest is what the agent loop submits each round. Steps holds the
// model tool-call turns and tool results produced so far in this request; they
// follow the prompt.
type GenerateRequest struct {
	SystemInstruction string
	History           []Turn
	Prompt            []PromptPart
	Steps             []Turn
	Tools             []ToolDefinition
}

// GenerateResponse carries either final text or one or more tool calls.
type GenerateResponse struct {
	Text      string
	ToolCalls []ToolCall
}

func (r GenerateResponse) WantsTools() bool {
	return len(r.ToolCalls) > 0
}

type AudioInput struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// HistoryMessage is a persisted chat message as stored by the CRM. Clients that
// already speak the model format send Content parts instead of Text.
type HistoryMessage struct {
	Role      Role          `json:"role,omitempty"`
	Text      string        `json:"text,omitempty"`
	Content   []HistoryPart `json:"content,omitempty"`
	Sender    string        `json:"sender,omitempty"`
	SenderID  string        `json:"senderId,omitempty"`
	Transient bool          `json:"isTemp,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
}

type HistoryPart struct {
	Text string `json:"text"`
}

// Body returns the message text, joining content parts when Text is empty.
func (m HistoryMessage) Body() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	texts := make([]string, 0, len(m.Content))
	for _, p := range m.Content {
		if strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// FromAgent reports whether the message was written by the agent.
func (m HistoryMessage) FromAgent() bool {
	return m.SenderID == AgentSenderID || m.Role == RoleModel
}

type AgentRequest struct {
	Message   string           `json:"message,omitempty"`
	Audio     *AudioInput      `json:"audio,omitempty"`
	UserID    string           `json:"userId,omitempty"`
	UserName  string           `json:"userName,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	History   []HistoryMessage `json:"history,omitempty"`
}

type AgentResponse struct {
	Text string `json:"text"`
}
