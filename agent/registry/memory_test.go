package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

func TestMemoryRegistryAgentTypeInvariantAcrossGetOrCreate(t *testing.T) {
	t.Parallel()

	reg := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	first, err := reg.GetOrCreate(ctx, "T1", contractx.AgentTypePeriodicGoals, now)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	for _, other := range []contractx.AgentType{
		contractx.AgentTypeSession,
		contractx.AgentTypeLongTermModel,
		contractx.AgentTypeDriftReview,
	} {
		rec, err := reg.GetOrCreate(ctx, "T1", other, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("GetOrCreate(%s) error = %v", other, err)
		}
		if rec.AgentType != first.AgentType {
			t.Fatalf("agent type drifted: %s -> %s", first.AgentType, rec.AgentType)
		}
	}
}

func TestMemoryRegistrySetAgentTypeImmutable(t *testing.T) {
	t.Parallel()

	reg := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := reg.GetOrCreate(ctx, "T2", contractx.AgentTypeSession, now); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	err := reg.SetAgentType(ctx, "T2", contractx.AgentTypeDriftReview)
	if !errors.Is(err, contractx.ErrImmutableField) {
		t.Fatalf("SetAgentType() error = %v, want ErrImmutableField", err)
	}
}

func TestMemoryRegistryInactivityExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	reg := NewMemory(
		MemoryWithInactivityTTL(48*time.Hour),
		MemoryWithClock(func() time.Time { return clock }),
	)
	ctx := context.Background()

	if _, err := reg.GetOrCreate(ctx, "T3", contractx.AgentTypeSession, now); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	clock = now.Add(72 * time.Hour)
	if _, err := reg.Get(ctx, "T3"); !errors.Is(err, contractx.ErrThreadNotFound) {
		t.Fatalf("expected expired thread to be not found, got %v", err)
	}

	// A new event on the same id starts a fresh thread.
	rec, err := reg.GetOrCreate(ctx, "T3", contractx.AgentTypeDriftReview, clock)
	if err != nil {
		t.Fatalf("GetOrCreate(after expiry) error = %v", err)
	}
	if rec.AgentType != contractx.AgentTypeDriftReview {
		t.Fatalf("AgentType = %s, want drift_review_agent", rec.AgentType)
	}
}

func TestMemoryRegistryAppendMessage(t *testing.T) {
	t.Parallel()

	reg := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := reg.GetOrCreate(ctx, "T4", contractx.AgentTypeSession, now); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := reg.AppendMessage(ctx, "T4", contractx.ThreadMessage{Role: "user", Text: "upper body today", At: now}, now); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := reg.AppendMessage(ctx, "T4", contractx.ThreadMessage{Role: "assistant", Text: "try option A", At: now}, now); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	rec, err := reg.Get(ctx, "T4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("messages len = %d, want 2", len(rec.Messages))
	}
	if rec.Messages[0].Role != "user" || rec.Messages[1].Role != "assistant" {
		t.Fatalf("messages out of order: %+v", rec.Messages)
	}
}
