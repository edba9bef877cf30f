package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openrouterx "github.com/tanpawarit/chative-crm-agent/pkg/openrouter"
)

func TestTranscriberPostsAudio(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("unexpected model %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"text": " book me tomorrow "})
	}))
	defer srv.Close()

	client := openrouterx.NewClient(openrouterx.Config{BaseURL: srv.URL, APIKey: "test"})
	tr, err := NewTranscriber(client, "")
	if err != nil {
		t.Fatalf("NewTranscriber() error = %v", err)
	}
	text, err := tr.Transcribe(context.Background(), []byte("fake-webm"), "audio/webm;codecs=opus")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "book me tomorrow" {
		t.Fatalf("unexpected text %q", text)
	}
}
