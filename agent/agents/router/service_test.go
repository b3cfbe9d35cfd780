package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	"github.com/pwachirah/stride-coach/agent/docstore"
	registryx "github.com/pwachirah/stride-coach/agent/registry"
	toolx "github.com/pwachirah/stride-coach/agent/tool"
)

type fakeAgent struct {
	resp contractx.AgentResponse
	err  error
	reqs []contractx.AgentRequest
}

func (f *fakeAgent) Run(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return contractx.AgentResponse{}, f.err
	}
	return f.resp, nil
}

type fakeModels struct {
	longTerm *fakeAgent
	goals    *fakeAgent
	session  *fakeAgent
	drift    *fakeAgent
}

func newFakeModels() *fakeModels {
	reply := func(msg string) *fakeAgent {
		return &fakeAgent{resp: contractx.AgentResponse{Message: msg}}
	}
	return &fakeModels{
		longTerm: reply("coach reply"),
		goals:    reply("goals reply"),
		session:  reply("session reply"),
		drift:    reply("drift reply"),
	}
}

func (f *fakeModels) LongTermModel() contractx.CoachAgent { return f.longTerm }
func (f *fakeModels) PeriodicGoals() contractx.CoachAgent { return f.goals }
func (f *fakeModels) Session() contractx.CoachAgent       { return f.session }
func (f *fakeModels) DriftReview() contractx.CoachAgent   { return f.drift }

type fakeSource struct{}

func (fakeSource) RecentWorkouts(ctx context.Context, days int) (string, error) {
	return fmt.Sprintf("workouts %dd", days), nil
}

func (fakeSource) ExerciseFrequency(ctx context.Context, days int) (string, error) {
	return fmt.Sprintf("frequency %dd", days), nil
}

func (fakeSource) ExerciseTrend(ctx context.Context, exerciseID string, days int) (string, error) {
	return "trend " + exerciseID, nil
}

type fakeRegen struct {
	requested []contractx.DocType
}

func (f *fakeRegen) RequestForcedRegeneration(docType contractx.DocType) error {
	f.requested = append(f.requested, docType)
	return nil
}

type routerFixture struct {
	router   *Router
	models   *fakeModels
	registry *registryx.MemoryRegistry
	docs     *docstore.MemoryStore
	regen    *fakeRegen
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()

	threads := registryx.NewMemory()
	docs := docstore.NewMemory()
	models := newFakeModels()
	regen := &fakeRegen{}

	gateway, err := toolx.NewGateway(toolx.Catalog(fakeSource{}, docs))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	r, err := New(threads, models, gateway, docs, WithForcedRegenerator(regen))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &routerFixture{router: r, models: models, registry: threads, docs: docs, regen: regen}
}

func event(threadID, text string) contractx.InboundEvent {
	return contractx.InboundEvent{
		ThreadID:  threadID,
		Author:    "athlete",
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func TestThreadLocksEvictedWhenIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.router.HandleEvent(ctx, event("T-lock-1", "/plan leg day")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if _, err := f.router.HandleEvent(ctx, event("T-lock-2", "/goals this week")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	// Lock entries live only while an event for the thread is in flight.
	f.router.mu.Lock()
	held := len(f.router.threadLocks)
	f.router.mu.Unlock()
	if held != 0 {
		t.Fatalf("thread lock map holds %d entries after events finished, want 0", held)
	}
}

func TestHandleEventUnroutableWithoutCommandOrRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.router.HandleEvent(context.Background(), event("T-new", "hey, what should I do today?"))
	if !errors.Is(err, contractx.ErrUnroutableEvent) {
		t.Fatalf("error = %v, want ErrUnroutableEvent", err)
	}

	// The unroutable event must not leave a record behind.
	if _, err := f.registry.Get(context.Background(), "T-new"); !errors.Is(err, contractx.ErrThreadNotFound) {
		t.Fatalf("expected no record, got %v", err)
	}
}

func TestHandleEventUnknownCommandUnroutable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.router.HandleEvent(context.Background(), event("T-cmd", "/weather today?"))
	if !errors.Is(err, contractx.ErrUnroutableEvent) {
		t.Fatalf("error = %v, want ErrUnroutableEvent", err)
	}
}

func TestHandleEventExplicitCommandCreatesThread(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	result, err := f.router.HandleEvent(context.Background(), event("T1", "/plan push day, 60 minutes"))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.AgentType != contractx.AgentTypeSession {
		t.Fatalf("AgentType = %s, want session_agent", result.AgentType)
	}
	if result.Phase != contractx.PhasePlanning {
		t.Fatalf("Phase = %s, want planning", result.Phase)
	}
	if result.Reply != "session reply" {
		t.Fatalf("Reply = %q", result.Reply)
	}

	rec, err := f.registry.Get(context.Background(), "T1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.AgentType != contractx.AgentTypeSession {
		t.Fatalf("record agent = %s, want session_agent", rec.AgentType)
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("transcript length = %d, want user+assistant", len(rec.Messages))
	}
}

func TestHandleEventExistingRecordWinsOverCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.router.HandleEvent(ctx, event("T1", "/plan leg day")); err != nil {
		t.Fatalf("first HandleEvent() error = %v", err)
	}

	// A later /goals command on the same thread does not re-bind it.
	result, err := f.router.HandleEvent(ctx, event("T1", "/goals what about this week?"))
	if err != nil {
		t.Fatalf("second HandleEvent() error = %v", err)
	}
	if result.AgentType != contractx.AgentTypeSession {
		t.Fatalf("AgentType = %s, want session_agent to stick", result.AgentType)
	}
}

func TestHandleEventPhaseAdvancesOnConcreteChoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.router.HandleEvent(ctx, event("T1", "/plan push day")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	result, err := f.router.HandleEvent(ctx, event("T1", "lock it in, option A"))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Phase != contractx.PhaseExecution {
		t.Fatalf("Phase = %s, want execution", result.Phase)
	}

	rec, err := f.registry.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Phase != contractx.PhaseExecution {
		t.Fatalf("persisted phase = %s, want execution", rec.Phase)
	}
}

func TestHandleEventGuardrailHandledReturnsToExecution(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.router.HandleEvent(ctx, event("T1", "/plan push day")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if _, err := f.router.HandleEvent(ctx, event("T1", "lock it in")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	f.models.session.resp = contractx.AgentResponse{
		Message:          "swap to dips, cap the load",
		GuardrailHandled: true,
	}
	result, err := f.router.HandleEvent(ctx, event("T1", "sharp pain in my shoulder"))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Phase != contractx.PhaseExecution {
		t.Fatalf("Phase = %s, want execution after handled guardrail", result.Phase)
	}

	// The agent ran under the guardrail phase even though the thread
	// settled back to execution.
	last := f.models.session.reqs[len(f.models.session.reqs)-1]
	if last.Phase != contractx.PhaseGuardrail {
		t.Fatalf("agent phase = %s, want guardrail", last.Phase)
	}
}

func TestHandleEventUnhandledGuardrailSticks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.router.HandleEvent(ctx, event("T1", "/plan push day")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if _, err := f.router.HandleEvent(ctx, event("T1", "just finished warmups")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	result, err := f.router.HandleEvent(ctx, event("T1", "no rack free anywhere"))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Phase != contractx.PhaseGuardrail {
		t.Fatalf("Phase = %s, want guardrail to persist", result.Phase)
	}

	rec, err := f.registry.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Phase != contractx.PhaseGuardrail {
		t.Fatalf("persisted phase = %s, want guardrail", rec.Phase)
	}
}

func TestHandleEventPersistsGoalDocWithDerivation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	coachDoc, err := f.docs.Put(ctx, contractx.PutRequest{
		DocType: contractx.DocTypeCoach,
		Content: []byte("# Coach Doc"),
	})
	if err != nil {
		t.Fatalf("seed coach doc: %v", err)
	}

	f.models.goals.resp = contractx.AgentResponse{
		Message: "locked in for the week",
		Document: &contractx.DraftDocument{
			DocType: contractx.DocTypeWeeklyGoals,
			Content: []byte(`{"markdown":"# Goals","goals":["squat 3x5"]}`),
		},
	}

	if _, err := f.router.HandleEvent(ctx, event("T-goals", "/goals lock it in")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	goals, err := f.docs.GetCurrent(ctx, contractx.DocTypeWeeklyGoals)
	if err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if goals == nil {
		t.Fatal("goal doc was not persisted")
	}
	if goals.DerivedFrom != coachDoc.ID {
		t.Fatalf("DerivedFrom = %s, want %s", goals.DerivedFrom, coachDoc.ID)
	}
}

func TestHandleEventRejectsWriteOutsideOwnedLayer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.models.session.resp = contractx.AgentResponse{
		Message: "here is a new plan",
		Document: &contractx.DraftDocument{
			DocType: contractx.DocTypeWeeklyGoals,
			Content: []byte("rogue goals"),
		},
	}

	_, err := f.router.HandleEvent(context.Background(), event("T1", "/plan push day"))
	if !errors.Is(err, contractx.ErrToolNotPermitted) {
		t.Fatalf("error = %v, want ErrToolNotPermitted", err)
	}
}

func TestHandleEventForceLongTermReachesScheduler(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.models.drift.resp = contractx.AgentResponse{
		Message:       "the plan has drifted structurally",
		ForceLongTerm: true,
	}

	if _, err := f.router.HandleEvent(context.Background(), event("T-r", "/review this is not working")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(f.regen.requested) != 1 || f.regen.requested[0] != contractx.DocTypeCoach {
		t.Fatalf("forced regeneration = %v, want [coach_doc]", f.regen.requested)
	}
}

func TestHandleEventToolRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// First invocation asks for data, second finalizes.
	calls := 0
	two := &toolThenReplyAgent{calls: &calls}
	gateway, err := toolx.NewGateway(toolx.Catalog(fakeSource{}, f.docs))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	r, err := New(f.registry, &twoStepModels{fakeModels: newFakeModels(), session: two}, gateway, f.docs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := r.HandleEvent(ctx, event("T1", "/plan how has my week looked?"))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("agent invoked %d times, want 2", calls)
	}
	if result.Reply != "based on your last workouts, push day" {
		t.Fatalf("Reply = %q", result.Reply)
	}
	if two.lastResults == nil || two.lastResults[0].Tool != toolx.ToolWorkoutHistory {
		t.Fatalf("tool results not passed back: %+v", two.lastResults)
	}
}

type toolThenReplyAgent struct {
	calls       *int
	lastResults []contractx.ToolResult
}

func (a *toolThenReplyAgent) Run(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	*a.calls++
	if len(req.ToolResults) == 0 {
		return contractx.AgentResponse{
			ToolRequests: []contractx.ToolRequest{{Tool: toolx.ToolWorkoutHistory, Args: map[string]any{"days": 7}}},
		}, nil
	}
	a.lastResults = req.ToolResults
	return contractx.AgentResponse{Message: "based on your last workouts, push day"}, nil
}

type twoStepModels struct {
	*fakeModels
	session contractx.CoachAgent
}

func (m *twoStepModels) Session() contractx.CoachAgent { return m.session }
