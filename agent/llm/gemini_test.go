package llm

import (
	"context"
	"testing"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
	"google.golang.org/genai"
)

type fakeContentGenerator struct {
	resp     *genai.GenerateContentResponse
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	model    string
}

func (f *fakeContentGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, nil
}

func TestGeminiEngineFunctionCallRoundTrip(t *testing.T) {
	t.Parallel()

	fake := &fakeContentGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				genai.NewPartFromFunctionCall("checkAvailability", map[string]any{"date": "2025-01-02"}),
			}},
		}},
	}}
	engine, err := NewGeminiEngineWith(fake, GeminiConfig{Model: "models/gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("NewGeminiEngineWith() error = %v", err)
	}

	out, err := engine.Generate(context.Background(), contractx.GenerateRequest{
		SystemInstruction: "be nice",
		History: []contractx.Turn{
			{Role: contractx.RoleUser, Parts: []contractx.PromptPart{contractx.TextPart("hi")}},
			{Role: contractx.RoleModel, Parts: []contractx.PromptPart{contractx.TextPart("hello")}},
		},
		Prompt: []contractx.PromptPart{contractx.MediaPart([]byte{1, 2}, "audio/webm")},
		Steps: []contractx.Turn{
			{Role: contractx.RoleModel, ToolCalls: []contractx.ToolCall{{ID: "a", Name: "checkAvailability", Arguments: []byte(`{"date":"2025-01-01"}`)}}},
			{Role: contractx.RoleTool, Result: &contractx.ToolResult{CallID: "a", Tool: "checkAvailability", Result: map[string]any{"available": false}}},
		},
		Tools: testDefinitions(t),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(out.ToolCalls) != 1 || string(out.ToolCalls[0].Arguments) != `{"date":"2025-01-02"}` {
		t.Fatalf("unexpected tool calls: %+v", out.ToolCalls)
	}
	if fake.model != "gemini-2.0-flash" {
		t.Fatalf("unexpected model %q", fake.model)
	}
	if fake.config.SystemInstruction == nil || len(fake.config.Tools) != 1 {
		t.Fatalf("expected system instruction and tools in config")
	}
	decl := fake.config.Tools[0].FunctionDeclarations[0]
	if decl.Parameters.Type != genai.TypeObject || decl.Parameters.Properties["date"].Type != genai.TypeString {
		t.Fatalf("unexpected parameters schema: %+v", decl.Parameters)
	}

	// user, model, user(audio), model(call), user(function response)
	if len(fake.contents) != 5 {
		t.Fatalf("expected 5 contents, got %d", len(fake.contents))
	}
	if fake.contents[2].Parts[0].InlineData == nil || fake.contents[2].Parts[0].InlineData.MIMEType != "audio/webm" {
		t.Fatalf("expected inline audio in prompt content")
	}
	if fake.contents[4].Parts[0].FunctionResponse == nil || fake.contents[4].Parts[0].FunctionResponse.Name != "checkAvailability" {
		t.Fatalf("expected function response in last content")
	}
	if !engine.AcceptsMedia() {
		t.Fatal("gemini engine must accept media")
	}
}

func TestGeminiEngineTextAnswer(t *testing.T) {
	t.Parallel()

	fake := &fakeContentGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				genai.NewPartFromText("Our warranty is "),
				genai.NewPartFromText("6 years."),
			}},
		}},
	}}
	engine, _ := NewGeminiEngineWith(fake, GeminiConfig{Model: "gemini-2.0-flash"})
	out, err := engine.Generate(context.Background(), contractx.GenerateRequest{
		Prompt: []contractx.PromptPart{contractx.TextPart("warranty?")},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Text != "Our warranty is 6 years." || out.WantsTools() {
		t.Fatalf("unexpected response: %+v", out)
	}
}
