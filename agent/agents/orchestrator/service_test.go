package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	promptx "github.com/tanpawarit/chative-crm-agent/agent/prompt"
	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
	toolx "github.com/tanpawarit/chative-crm-agent/agent/tool"
)

type fakeTranscripts struct {
	mu      sync.Mutex
	stored  map[string][]contractx.HistoryMessage
	appends int
}

func (f *fakeTranscripts) Load(ctx context.Context, sessionID string) ([]contractx.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contractx.HistoryMessage(nil), f.stored[sessionID]...), nil
}

func (f *fakeTranscripts) Append(ctx context.Context, sessionID string, msgs ...contractx.HistoryMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = map[string][]contractx.HistoryMessage{}
	}
	f.stored[sessionID] = append(f.stored[sessionID], msgs...)
	f.appends++
	return nil
}

func newTestService(
	t *testing.T,
	engine contractx.Engine,
	transcripts contractx.TranscriptStore,
	cfg Config,
) (*Service, *recordx.Repository) {
	t.Helper()

	catalog, repo := newTestCatalog(t)
	builder, err := promptx.NewBuilder(repo, promptx.Config{})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	svc, err := New(engine, catalog, builder, transcripts, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, repo
}

func TestHandleMessageAnswersAndCarriesDirective(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{responses: []contractx.GenerateResponse{textReply("¡Hola! ¿En qué puedo ayudarle?")}}
	svc, _ := newTestService(t, engine, nil, Config{})

	for _, msg := range []string{"Hello there", "Hola, necesito un fontanero", ""} {
		resp, err := svc.HandleMessage(context.Background(), contractx.AgentRequest{Message: msg, UserID: "client_1"})
		if err != nil {
			t.Fatalf("HandleMessage(%q) error = %v", msg, err)
		}
		if resp.Text == "" {
			t.Fatalf("HandleMessage(%q) returned empty text", msg)
		}
	}

	for i, req := range engine.requests() {
		if !strings.Contains(req.SystemInstruction, promptx.LanguageDirective) {
			t.Fatalf("request %d lacks the language directive: %q", i, req.SystemInstruction)
		}
		if !strings.Contains(req.SystemInstruction, "John Doe") {
			t.Fatalf("request %d lacks personalization: %q", i, req.SystemInstruction)
		}
	}
	if got := engine.requests()[2].Prompt[0].Text; got != promptx.DefaultGreeting {
		t.Fatalf("empty message prompt = %q, want greeting", got)
	}
}

func TestHandleMessagePersistsTranscript(t *testing.T) {
	t.Parallel()

	transcripts := &fakeTranscripts{}
	engine := &scriptedEngine{responses: []contractx.GenerateResponse{textReply("We are open 9 to 5.")}}
	svc, _ := newTestService(t, engine, transcripts, Config{})

	ctx := context.Background()
	req := contractx.AgentRequest{Message: "When are you open?", SessionID: "sess-1"}
	if _, err := svc.HandleMessage(ctx, req); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if _, err := svc.HandleMessage(ctx, req); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	stored, _ := transcripts.Load(ctx, "sess-1")
	if len(stored) != 4 {
		t.Fatalf("transcript entries = %d, want 4", len(stored))
	}
	if !stored[1].FromAgent() || stored[0].FromAgent() {
		t.Fatalf("transcript roles = %+v", stored)
	}

	second := engine.requests()[1]
	if len(second.History) != 2 || second.History[1].Role != contractx.RoleModel {
		t.Fatalf("second request history = %+v", second.History)
	}
}

func TestHandleMessageFailsOnUnknownTool(t *testing.T) {
	t.Parallel()

	transcripts := &fakeTranscripts{}
	engine := &scriptedEngine{responses: []contractx.GenerateResponse{toolCall("deleteEverything", `{}`)}}
	svc, _ := newTestService(t, engine, transcripts, Config{})

	resp, err := svc.HandleMessage(context.Background(), contractx.AgentRequest{Message: "hi", SessionID: "s"})
	if !errors.Is(err, contractx.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if resp.Text != "" {
		t.Fatalf("failed request returned text %q", resp.Text)
	}
	if transcripts.appends != 0 {
		t.Fatal("failed request must not be persisted")
	}
}

func TestHandleMessageTimeout(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, &scriptedEngine{block: true}, nil, Config{Timeout: 50 * time.Millisecond})

	_, err := svc.HandleMessage(context.Background(), contractx.AgentRequest{Message: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestHandleMessageRejectsInvalidAudio(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{responses: []contractx.GenerateResponse{textReply("x")}}
	svc, _ := newTestService(t, engine, nil, Config{})

	_, err := svc.HandleMessage(context.Background(), contractx.AgentRequest{
		Audio: &contractx.AudioInput{Data: "%%%", MimeType: "audio/webm"},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(engine.requests()) != 0 {
		t.Fatal("engine must not run for invalid input")
	}
}

func TestHandleMessageAuditsOnBehalfOfUser(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{responses: []contractx.GenerateResponse{
		toolCall(toolx.ToolBookAppointment, `{"date":"2025-03-14","time":"11:00","serviceType":"Drain cleaning","clientName":"John Doe"}`),
		textReply("Booked for 11:00."),
	}}
	svc, repo := newTestService(t, engine, nil, Config{})

	resp, err := svc.HandleMessage(context.Background(), contractx.AgentRequest{Message: "book 11", UserID: "client_1"})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if resp.Text != "Booked for 11:00." {
		t.Fatalf("text = %q", resp.Text)
	}

	audit, err := repo.AuditLog(context.Background(), 5)
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	if len(audit) != 1 || audit[0].PerformedBy != "client_1" || audit[0].DocID != "slot_2025-03-14_1100" {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestNewRequiresBuilder(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	if _, err := New(&scriptedEngine{}, catalog, nil, nil, Config{}); err == nil {
		t.Fatal("expected error without prompt builder")
	}
}
