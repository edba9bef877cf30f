package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

func newTestStore(t *testing.T, handler http.HandlerFunc, opts ...StoreOption) *UpstashRedisStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]StoreOption{WithHTTPClient(server.Client())}, opts...)
	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, opts...)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store
}

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "crm:transcript:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "crm:transcript:abc")
	}
}

func TestUpstashRedisStoreRedisKeyEmptySession(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestNewUpstashRedisStoreRequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "t"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io"}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestUpstashRedisStoreLoadMissingKeyIsEmpty(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":[]}`)
	})

	msgs, err := store.Load(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("Load() = %v, want empty", msgs)
	}
	if len(gotCommand) != 4 || gotCommand[0] != "LRANGE" || gotCommand[1] != "crm:transcript:session-1" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
}

func TestUpstashRedisStoreLoadDecodesEntries(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		entries := []string{
			`{"role":"user","text":"hi"}`,
			`not json`,
			`{"role":"model","text":"hello","senderId":"ai_agent"}`,
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": entries})
	})

	msgs, err := store.Load(context.Background(), "s")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Load() len = %d, want 2 (corrupt entry skipped)", len(msgs))
	}
	if msgs[0].Text != "hi" || !msgs[1].FromAgent() {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestUpstashRedisStoreAppendRunsTransaction(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		path     string
		commands [][]any
	)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&commands); err != nil {
			t.Errorf("decode transaction: %v", err)
		}
		fmt.Fprint(w, `[{"result":2},{"result":"OK"},{"result":1}]`)
	}, WithMaxEntries(3))

	err := store.Append(context.Background(), "s1",
		contractx.HistoryMessage{Role: contractx.RoleUser, Text: "book me in"},
		contractx.HistoryMessage{Text: "   "},
		contractx.HistoryMessage{Text: "temp", Transient: true},
		contractx.HistoryMessage{SenderID: contractx.AgentSenderID, Text: "done"},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/multi-exec" {
		t.Fatalf("path = %q, want /multi-exec", path)
	}
	if len(commands) != 3 {
		t.Fatalf("commands = %#v, want RPUSH LTRIM EXPIRE", commands)
	}
	push := commands[0]
	if push[0] != "RPUSH" || push[1] != "crm:transcript:s1" || len(push) != 4 {
		t.Fatalf("push = %#v", push)
	}
	var last contractx.HistoryMessage
	if err := json.Unmarshal([]byte(push[3].(string)), &last); err != nil {
		t.Fatalf("decode pushed entry: %v", err)
	}
	if last.Role != contractx.RoleModel || last.Timestamp.IsZero() {
		t.Fatalf("pushed entry = %+v, want model role with timestamp", last)
	}
	trim := commands[1]
	if trim[0] != "LTRIM" || trim[2] != float64(-3) || trim[3] != float64(-1) {
		t.Fatalf("trim = %#v", trim)
	}
	expire := commands[2]
	if expire[0] != "EXPIRE" || expire[2] != float64(86400) {
		t.Fatalf("expire = %#v", expire)
	}
}

func TestUpstashRedisStoreAppendWithoutTTLSkipsExpire(t *testing.T) {
	t.Parallel()

	var commands [][]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&commands)
		fmt.Fprint(w, `[{"result":1},{"result":"OK"}]`)
	}, WithTTL(0))

	if err := store.Append(context.Background(), "s", contractx.HistoryMessage{Text: "x"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(commands) != 2 {
		t.Fatalf("commands = %#v, want RPUSH and LTRIM only", commands)
	}
}

func TestUpstashRedisStoreAppendNothingToWrite(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	if err := store.Append(context.Background(), "s", contractx.HistoryMessage{Text: "t", Transient: true}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func TestUpstashRedisStoreSurfacesErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/multi-exec") {
			fmt.Fprint(w, `{"error":"EXECABORT"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
	})

	if _, err := store.Load(context.Background(), "s"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Load() error = %v, want http status error", err)
	}
	if err := store.Append(context.Background(), "s", contractx.HistoryMessage{Text: "x"}); err == nil || err.Error() != "EXECABORT" {
		t.Fatalf("Append() error = %v, want EXECABORT", err)
	}
}

func TestTTLSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]int64{
		time.Millisecond:        1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		24 * time.Hour:          86400,
	}
	for in, want := range cases {
		if got := ttlSeconds(in); got != want {
			t.Fatalf("ttlSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}
