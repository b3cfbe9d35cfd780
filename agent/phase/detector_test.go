package phase

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

func record(p contractx.Phase, createdAt time.Time) *contractx.ThreadRecord {
	return &contractx.ThreadRecord{
		ThreadID:     "T1",
		AgentType:    contractx.AgentTypeSession,
		Phase:        p,
		CreatedAt:    createdAt,
		LastActiveAt: createdAt,
	}
}

func TestDetectorPlanningToExecutionOnChoice(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	next, err := d.Next(record(contractx.PhasePlanning, created), contractx.InboundEvent{
		Text:      "lock it in, going with option B",
		Timestamp: created.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next != contractx.PhaseExecution {
		t.Fatalf("Next() = %s, want execution", next)
	}
}

func TestDetectorPlanningToExecutionOnLoggedActivity(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	next, err := d.Next(record(contractx.PhasePlanning, created), contractx.InboundEvent{
		Text:      "just finished the first superset",
		Timestamp: created.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next != contractx.PhaseExecution {
		t.Fatalf("Next() = %s, want execution", next)
	}
}

func TestDetectorPlanningAgesIntoExecution(t *testing.T) {
	t.Parallel()

	d := NewDetector(WithPlanningAge(2 * time.Hour))
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	next, err := d.Next(record(contractx.PhasePlanning, created), contractx.InboundEvent{
		Text:      "what do you think about volume this week?",
		Timestamp: created.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next != contractx.PhaseExecution {
		t.Fatalf("Next() = %s, want execution after age threshold", next)
	}

	// Under the threshold a planning question stays in planning.
	next, err = d.Next(record(contractx.PhasePlanning, created), contractx.InboundEvent{
		Text:      "what do you think about volume this week?",
		Timestamp: created.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next != contractx.PhasePlanning {
		t.Fatalf("Next() = %s, want planning", next)
	}
}

func TestDetectorExecutionToGuardrail(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	created := time.Now().UTC()

	for _, text := range []string{
		"sharp pain in my shoulder on the second set",
		"the rack is taken, no rack free",
		"can we swap incline press for dips",
	} {
		next, err := d.Next(record(contractx.PhaseExecution, created), contractx.InboundEvent{
			Text:      text,
			Timestamp: created.Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("Next(%q) error = %v", text, err)
		}
		if next != contractx.PhaseGuardrail {
			t.Fatalf("Next(%q) = %s, want guardrail", text, next)
		}
	}
}

func TestDetectorGuardrailResolvesToExecutionOnly(t *testing.T) {
	t.Parallel()

	d := NewDetector()

	if got := d.Resolve(contractx.PhaseGuardrail, true); got != contractx.PhaseExecution {
		t.Fatalf("Resolve(handled) = %s, want execution", got)
	}
	if got := d.Resolve(contractx.PhaseGuardrail, false); got != contractx.PhaseGuardrail {
		t.Fatalf("Resolve(unhandled) = %s, want guardrail", got)
	}
	if got := d.Resolve(contractx.PhaseExecution, true); got != contractx.PhaseExecution {
		t.Fatalf("Resolve(execution) = %s, want execution", got)
	}
}

func TestValidateTransitionNeverBackToPlanning(t *testing.T) {
	t.Parallel()

	for _, from := range []contractx.Phase{contractx.PhaseExecution, contractx.PhaseGuardrail} {
		err := ValidateTransition(from, contractx.PhasePlanning)
		if !errors.Is(err, contractx.ErrInvariantViolation) {
			t.Fatalf("ValidateTransition(%s, planning) = %v, want ErrInvariantViolation", from, err)
		}
	}

	if err := ValidateTransition(contractx.PhasePlanning, contractx.PhaseExecution); err != nil {
		t.Fatalf("planning -> execution should be allowed: %v", err)
	}
	if err := ValidateTransition(contractx.PhaseGuardrail, contractx.PhaseExecution); err != nil {
		t.Fatalf("guardrail -> execution should be allowed: %v", err)
	}
}

func TestClassifyGuardrailWinsOverChoice(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	signal := d.Classify(contractx.InboundEvent{
		Text: "let's do dips instead, shoulder pain on presses",
	})
	if signal != SignalGuardrail {
		t.Fatalf("Classify() = %s, want guardrail", signal)
	}
}
