package registry

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

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

const (
	defaultKeyPrefix     = "stride:thread:"
	defaultInactivityTTL = 14 * 24 * time.Hour
	maxResponseSizeBytes = 2 << 20
)

// StoreOption customizes an UpstashRegistry.
type StoreOption func(*UpstashRegistry)

func WithKeyPrefix(prefix string) StoreOption {
	return func(r *UpstashRegistry) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			r.keyPrefix = trimmed
		}
	}
}

// WithInactivityTTL sets the window after which an untouched thread expires.
// Expiry only stops routing; past documents are unaffected.
func WithInactivityTTL(ttl time.Duration) StoreOption {
	return func(r *UpstashRegistry) {
		r.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(r *UpstashRegistry) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// UpstashRegistry persists ThreadRecords in Upstash Redis via REST. Records
// carry a TTL refreshed on every write, so inactive threads age out without
// explicit deletion.
type UpstashRegistry struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ contractx.ThreadRegistry = (*UpstashRegistry)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type Config struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstash(cfg Config, opts ...StoreOption) (*UpstashRegistry, error) {
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

	reg := &UpstashRegistry{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
		ttl:        defaultInactivityTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	if reg.ttl < 0 {
		return nil, errors.New("inactivity ttl must be >= 0")
	}
	return reg, nil
}

func (r *UpstashRegistry) GetOrCreate(ctx context.Context, threadID string, agentType contractx.AgentType, now time.Time) (*contractx.ThreadRecord, error) {
	rec, err := r.Get(ctx, threadID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, contractx.ErrThreadNotFound) {
		return nil, err
	}

	if !agentType.Valid() {
		return nil, fmt.Errorf("%w: agent type=%q", contractx.ErrValidation, agentType)
	}

	rec = &contractx.ThreadRecord{
		ThreadID:     strings.TrimSpace(threadID),
		AgentType:    agentType,
		Phase:        contractx.PhasePlanning,
		CreatedAt:    now.UTC(),
		LastActiveAt: now.UTC(),
	}
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *UpstashRegistry) Get(ctx context.Context, threadID string) (*contractx.ThreadRecord, error) {
	key, err := r.redisKey(threadID)
	if err != nil {
		return nil, err
	}

	resp, err := r.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, fmt.Errorf("%w: thread_id=%s", contractx.ErrThreadNotFound, threadID)
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode thread payload: %w", err)
	}

	var rec contractx.ThreadRecord
	if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal thread record: %w", err)
	}
	if !rec.AgentType.Valid() {
		return nil, fmt.Errorf("%w: stored agent type=%q", contractx.ErrValidation, rec.AgentType)
	}
	return &rec, nil
}

func (r *UpstashRegistry) UpdatePhase(ctx context.Context, threadID string, phase contractx.Phase, now time.Time) error {
	rec, err := r.Get(ctx, threadID)
	if err != nil {
		return err
	}
	rec.Phase = phase
	rec.LastActiveAt = now.UTC()
	return r.save(ctx, rec)
}

func (r *UpstashRegistry) Touch(ctx context.Context, threadID string, now time.Time) error {
	rec, err := r.Get(ctx, threadID)
	if err != nil {
		return err
	}
	rec.LastActiveAt = now.UTC()
	return r.save(ctx, rec)
}

func (r *UpstashRegistry) AppendMessage(ctx context.Context, threadID string, msg contractx.ThreadMessage, now time.Time) error {
	rec, err := r.Get(ctx, threadID)
	if err != nil {
		return err
	}
	rec.Messages = append(rec.Messages, msg)
	rec.LastActiveAt = now.UTC()
	return r.save(ctx, rec)
}

// save writes a record back, guarding agent-type immutability against the
// stored copy. Last writer wins on everything else.
func (r *UpstashRegistry) save(ctx context.Context, rec *contractx.ThreadRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil thread record", contractx.ErrValidation)
	}

	existing, err := r.Get(ctx, rec.ThreadID)
	if err != nil && !errors.Is(err, contractx.ErrThreadNotFound) {
		return err
	}
	if existing != nil && existing.AgentType != rec.AgentType {
		return fmt.Errorf("%w: thread_id=%s agent_type %s -> %s", contractx.ErrImmutableField, rec.ThreadID, existing.AgentType, rec.AgentType)
	}

	key, err := r.redisKey(rec.ThreadID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal thread record: %w", err)
	}

	cmd := []any{"SET", key, string(payload)}
	if r.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(r.ttl))
	}

	_, err = r.exec(ctx, cmd)
	return err
}

func (r *UpstashRegistry) redisKey(threadID string) (string, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", fmt.Errorf("%w: thread id is empty", contractx.ErrValidation)
	}
	return strings.TrimSpace(r.keyPrefix) + strings.TrimSpace(threadID), nil
}

func (r *UpstashRegistry) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
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

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
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
