package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

var ErrInvalidSession = errors.New("session id is empty")

const (
	defaultStoreKeyPrefix = "crm:transcript:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

var _ contractx.TranscriptStore = (*UpstashRedisStore)(nil)

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithMaxEntries(n int) StoreOption {
	return func(s *UpstashRedisStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore keeps each session transcript as a Redis list, one JSON
// message per element, through the Upstash REST API.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	return store, nil
}

// Load returns the stored transcript, oldest first. A missing key is an
// empty transcript.
func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) ([]contractx.HistoryMessage, error) {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"LRANGE", key, 0, -1})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, nil
	}

	var encoded []string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode transcript payload: %w", err)
	}

	out := make([]contractx.HistoryMessage, 0, len(encoded))
	for i, item := range encoded {
		var msg contractx.HistoryMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Int("index", i).Msg("skip corrupt transcript entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Append pushes msgs, trims the list to the newest maxEntries and refreshes
// the TTL in one MULTI/EXEC transaction.
func (s *UpstashRedisStore) Append(ctx context.Context, sessionID string, msgs ...contractx.HistoryMessage) error {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return err
	}
	msgs = tail(prepare(msgs, s.now()), s.maxEntries)
	if len(msgs) == 0 {
		return nil
	}

	push := []any{"RPUSH", key}
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal transcript entry: %w", err)
		}
		push = append(push, string(payload))
	}

	commands := [][]any{
		push,
		{"LTRIM", key, -s.maxEntries, -1},
	}
	if s.ttl > 0 {
		commands = append(commands, []any{"EXPIRE", key, ttlSeconds(s.ttl)})
	}

	_, err = s.transaction(ctx, commands)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashRedisStore) redisKey(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return prefix + strings.TrimSpace(sessionID), nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}
	raw, err := s.post(ctx, s.baseURL, command)
	if err != nil {
		return nil, err
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

// transaction runs commands atomically through the /multi-exec endpoint.
func (s *UpstashRedisStore) transaction(ctx context.Context, commands [][]any) ([]redisRESTResponse, error) {
	if len(commands) == 0 {
		return nil, errors.New("empty redis transaction")
	}
	raw, err := s.post(ctx, s.baseURL+"/multi-exec", commands)
	if err != nil {
		return nil, err
	}

	// A failed transaction comes back as a single error object.
	var failed redisRESTResponse
	if err := json.Unmarshal(raw, &failed); err == nil && failed.Error != "" {
		return nil, errors.New(failed.Error)
	}

	var parsed []redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis transaction response: %w", err)
	}
	for i, r := range parsed {
		if r.Error != "" {
			return nil, fmt.Errorf("redis transaction command %d: %s", i, r.Error)
		}
	}
	return parsed, nil
}

func (s *UpstashRedisStore) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	if strings.TrimSpace(s.baseURL) == "" {
		return nil, errors.New("empty redis url")
	}
	if strings.TrimSpace(s.token) == "" {
		return nil, errors.New("empty redis token")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
