package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// MemoryRegistry is an in-memory ThreadRegistry with the same contract as
// the Upstash-backed one, including the inactivity window.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]*contractx.ThreadRecord
	ttl     time.Duration
	now     func() time.Time
}

var _ contractx.ThreadRegistry = (*MemoryRegistry)(nil)

type MemoryOption func(*MemoryRegistry)

func MemoryWithInactivityTTL(ttl time.Duration) MemoryOption {
	return func(r *MemoryRegistry) {
		r.ttl = ttl
	}
}

func MemoryWithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		records: make(map[string]*contractx.ThreadRecord, 16),
		ttl:     defaultInactivityTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *MemoryRegistry) GetOrCreate(ctx context.Context, threadID string, agentType contractx.AgentType, now time.Time) (*contractx.ThreadRecord, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is empty", contractx.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.live(threadID); ok {
		out := cloneRecord(rec)
		return &out, nil
	}

	if !agentType.Valid() {
		return nil, fmt.Errorf("%w: agent type=%q", contractx.ErrValidation, agentType)
	}

	rec := &contractx.ThreadRecord{
		ThreadID:     threadID,
		AgentType:    agentType,
		Phase:        contractx.PhasePlanning,
		CreatedAt:    now.UTC(),
		LastActiveAt: now.UTC(),
	}
	r.records[threadID] = rec
	out := cloneRecord(rec)
	return &out, nil
}

func (r *MemoryRegistry) Get(ctx context.Context, threadID string) (*contractx.ThreadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: thread_id=%s", contractx.ErrThreadNotFound, threadID)
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *MemoryRegistry) UpdatePhase(ctx context.Context, threadID string, phase contractx.Phase, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(threadID)
	if !ok {
		return fmt.Errorf("%w: thread_id=%s", contractx.ErrThreadNotFound, threadID)
	}
	rec.Phase = phase
	rec.LastActiveAt = now.UTC()
	return nil
}

func (r *MemoryRegistry) Touch(ctx context.Context, threadID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(threadID)
	if !ok {
		return fmt.Errorf("%w: thread_id=%s", contractx.ErrThreadNotFound, threadID)
	}
	rec.LastActiveAt = now.UTC()
	return nil
}

func (r *MemoryRegistry) AppendMessage(ctx context.Context, threadID string, msg contractx.ThreadMessage, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(threadID)
	if !ok {
		return fmt.Errorf("%w: thread_id=%s", contractx.ErrThreadNotFound, threadID)
	}
	rec.Messages = append(rec.Messages, msg)
	rec.LastActiveAt = now.UTC()
	return nil
}

// SetAgentType exists only to surface the immutability guarantee: it always
// fails once a record exists.
func (r *MemoryRegistry) SetAgentType(ctx context.Context, threadID string, agentType contractx.AgentType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(threadID)
	if !ok {
		return fmt.Errorf("%w: thread_id=%s", contractx.ErrThreadNotFound, threadID)
	}
	if rec.AgentType != agentType {
		return fmt.Errorf("%w: thread_id=%s agent_type %s -> %s", contractx.ErrImmutableField, threadID, rec.AgentType, agentType)
	}
	return nil
}

// live returns a record only while it is inside the inactivity window.
// Expired records stop routing but are never removed from past documents.
func (r *MemoryRegistry) live(threadID string) (*contractx.ThreadRecord, bool) {
	rec, ok := r.records[strings.TrimSpace(threadID)]
	if !ok {
		return nil, false
	}
	if r.ttl > 0 && r.now().UTC().Sub(rec.LastActiveAt) > r.ttl {
		return nil, false
	}
	return rec, true
}

func cloneRecord(rec *contractx.ThreadRecord) contractx.ThreadRecord {
	out := *rec
	out.Messages = append([]contractx.ThreadMessage(nil), rec.Messages...)
	return out
}
