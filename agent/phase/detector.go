package phase

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

const defaultPlanningAge = 4 * time.Hour

// Signal classifies what an inbound message expresses about the session.
type Signal string

const (
	SignalNone           Signal = "none"
	SignalConcreteChoice Signal = "concrete_choice"
	SignalLoggedActivity Signal = "logged_activity"
	SignalGuardrail      Signal = "guardrail"
)

// Default term lists: users pick an option or lock a plan, report logged
// sets, or flag pain and equipment problems mid-workout.
var (
	defaultChoiceTerms = []string{
		"lock it in", "option a", "option b", "option c",
		"going with", "let's do", "lets do", "i'll take", "ill take",
	}
	defaultLoggedTerms = []string{
		"logged", "just finished", "done with", "completed", "wrapped up",
	}
	defaultGuardrailTerms = []string{
		"pain", "hurts", "hurt", "sore", "tweaked", "pinch",
		"no rack", "rack is taken", "machine is taken", "machine's taken",
		"equipment", "unavailable", "out of order",
		"swap", "substitute", "sub out", "skip", "deviate", "can't do", "cant do",
	}
)

// Detector decides the next session phase for a thread given an inbound
// event. It is a pure state machine; it never chooses agent output.
type Detector struct {
	planningAge    time.Duration
	choiceTerms    []string
	loggedTerms    []string
	guardrailTerms []string
}

type Option func(*Detector)

// WithPlanningAge sets how old a thread may grow before Planning rolls into
// Execution even without a concrete choice.
func WithPlanningAge(age time.Duration) Option {
	return func(d *Detector) {
		if age > 0 {
			d.planningAge = age
		}
	}
}

func WithGuardrailTerms(terms []string) Option {
	return func(d *Detector) {
		if len(terms) > 0 {
			d.guardrailTerms = terms
		}
	}
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		planningAge:    defaultPlanningAge,
		choiceTerms:    defaultChoiceTerms,
		loggedTerms:    defaultLoggedTerms,
		guardrailTerms: defaultGuardrailTerms,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Classify maps an event's text onto a session signal. Guardrail terms win
// over choice terms: "swap incline press for dips" is a deviation even though
// it names a concrete exercise.
func (d *Detector) Classify(ev contractx.InboundEvent) Signal {
	text := strings.ToLower(ev.Text)
	if containsAny(text, d.guardrailTerms) {
		return SignalGuardrail
	}
	if containsAny(text, d.loggedTerms) {
		return SignalLoggedActivity
	}
	if containsAny(text, d.choiceTerms) {
		return SignalConcreteChoice
	}
	return SignalNone
}

// Next resolves the phase the thread should be in after this event.
// Transitions are monotonic: a thread never re-enters Planning; re-planning
// requires a new thread.
func (d *Detector) Next(rec *contractx.ThreadRecord, ev contractx.InboundEvent) (contractx.Phase, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: thread record is nil", contractx.ErrValidation)
	}

	signal := d.Classify(ev)

	switch rec.Phase {
	case contractx.PhasePlanning:
		if signal == SignalConcreteChoice || signal == SignalLoggedActivity {
			return contractx.PhaseExecution, nil
		}
		if !ev.Timestamp.IsZero() && ev.Timestamp.Sub(rec.CreatedAt) >= d.planningAge {
			return contractx.PhaseExecution, nil
		}
		return contractx.PhasePlanning, nil

	case contractx.PhaseExecution:
		if signal == SignalGuardrail {
			return contractx.PhaseGuardrail, nil
		}
		return contractx.PhaseExecution, nil

	case contractx.PhaseGuardrail:
		// Stays in guardrail until a substitution or cap has been issued;
		// the router then calls Resolve.
		return contractx.PhaseGuardrail, nil

	default:
		return "", fmt.Errorf("%w: unknown phase=%q", contractx.ErrValidation, rec.Phase)
	}
}

// Resolve returns the phase after the agent has answered. A handled
// guardrail drops back to Execution automatically.
func (d *Detector) Resolve(current contractx.Phase, guardrailHandled bool) contractx.Phase {
	if current == contractx.PhaseGuardrail && guardrailHandled {
		return contractx.PhaseExecution
	}
	return current
}

// ValidateTransition rejects any transition that would re-enter Planning.
func ValidateTransition(from, to contractx.Phase) error {
	if from != contractx.PhasePlanning && to == contractx.PhasePlanning {
		return fmt.Errorf("%w: phase %s -> planning; re-planning requires a new thread", contractx.ErrInvariantViolation, from)
	}
	return nil
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
