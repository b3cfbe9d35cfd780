package tool

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

type scriptedSource struct {
	workouts  func(ctx context.Context) (string, error)
	frequency func(ctx context.Context) (string, error)
	trend     func(ctx context.Context, exerciseID string) (string, error)
}

func (s *scriptedSource) RecentWorkouts(ctx context.Context, days int) (string, error) {
	if s.workouts == nil {
		return fmt.Sprintf("workouts over %d days", days), nil
	}
	return s.workouts(ctx)
}

func (s *scriptedSource) ExerciseFrequency(ctx context.Context, days int) (string, error) {
	if s.frequency == nil {
		return fmt.Sprintf("frequency over %d days", days), nil
	}
	return s.frequency(ctx)
}

func (s *scriptedSource) ExerciseTrend(ctx context.Context, exerciseID string, days int) (string, error) {
	if s.trend == nil {
		return fmt.Sprintf("trend for %s", exerciseID), nil
	}
	return s.trend(ctx, exerciseID)
}

type nopDocs struct{}

func (nopDocs) Put(context.Context, contractx.PutRequest) (contractx.VersionedDocument, error) {
	return contractx.VersionedDocument{}, errors.New("not implemented")
}

func (nopDocs) GetCurrent(context.Context, contractx.DocType) (*contractx.VersionedDocument, error) {
	return nil, nil
}

func (nopDocs) GetHistory(context.Context, contractx.DocType, int) ([]contractx.VersionedDocument, error) {
	return nil, nil
}

func newTestGateway(t *testing.T, src WorkoutSource, opts ...GatewayOption) *Gateway {
	t.Helper()
	opts = append([]GatewayOption{withSleep(func(time.Duration) {})}, opts...)
	g, err := NewGateway(Catalog(src, nopDocs{}), opts...)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return g
}

func TestExecuteDeniesUnpermittedToolWithoutAbortingBatch(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, &scriptedSource{})

	// drift_review_agent may read goal docs, nothing else.
	results, err := g.Execute(context.Background(), contractx.AgentTypeDriftReview, []contractx.ToolRequest{
		{Tool: ToolWorkoutHistory},
		{Tool: ToolGoalsDocRead},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Error == "" || !strings.Contains(results[0].Error, "not permitted") {
		t.Fatalf("denied call error = %q, want permission failure", results[0].Error)
	}
	if results[1].Error != "" {
		t.Fatalf("permitted call failed: %q", results[1].Error)
	}
}

func TestInvokeNotPermittedIsSentinel(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, &scriptedSource{})

	_, err := g.Invoke(context.Background(), contractx.AgentTypeDriftReview, contractx.ToolRequest{Tool: ToolExerciseTrend})
	if !errors.Is(err, contractx.ErrToolNotPermitted) {
		t.Fatalf("Invoke() error = %v, want ErrToolNotPermitted", err)
	}
}

func TestInvokeRetriesOnceAfterTimeout(t *testing.T) {
	t.Parallel()

	calls := 0
	src := &scriptedSource{
		workouts: func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "fresh data", nil
		},
	}
	g := newTestGateway(t, src, WithCallTimeout(20*time.Millisecond))

	res, err := g.Invoke(context.Background(), contractx.AgentTypeSession, contractx.ToolRequest{Tool: ToolWorkoutHistory})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("tool called %d times, want 2", calls)
	}
	if res.Stale || res.Result != "fresh data" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInvokeServesStaleAfterRepeatedTimeout(t *testing.T) {
	t.Parallel()

	healthy := true
	src := &scriptedSource{
		workouts: func(ctx context.Context) (string, error) {
			if healthy {
				return "last good snapshot", nil
			}
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	g := newTestGateway(t, src, WithCallTimeout(20*time.Millisecond))

	if _, err := g.Invoke(context.Background(), contractx.AgentTypeSession, contractx.ToolRequest{Tool: ToolWorkoutHistory}); err != nil {
		t.Fatalf("warm-up Invoke() error = %v", err)
	}

	healthy = false
	res, err := g.Invoke(context.Background(), contractx.AgentTypeSession, contractx.ToolRequest{Tool: ToolWorkoutHistory})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !res.Stale {
		t.Fatal("fallback result not marked stale")
	}
	if res.Result != "last good snapshot" {
		t.Fatalf("Result = %v, want cached snapshot", res.Result)
	}
}

func TestInvokeStaleFallbackIsPerArguments(t *testing.T) {
	t.Parallel()

	healthy := true
	src := &scriptedSource{
		trend: func(ctx context.Context, exerciseID string) (string, error) {
			if healthy {
				return "trend for " + exerciseID, nil
			}
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	g := newTestGateway(t, src, WithCallTimeout(20*time.Millisecond))

	benchReq := contractx.ToolRequest{Tool: ToolExerciseTrend, Args: map[string]any{"exercise_id": "bench-press"}}
	if _, err := g.Invoke(context.Background(), contractx.AgentTypeSession, benchReq); err != nil {
		t.Fatalf("warm-up Invoke() error = %v", err)
	}

	// A timed-out query for a different exercise must not be answered with
	// the bench press snapshot.
	healthy = false
	deadliftReq := contractx.ToolRequest{Tool: ToolExerciseTrend, Args: map[string]any{"exercise_id": "deadlift"}}
	_, err := g.Invoke(context.Background(), contractx.AgentTypeSession, deadliftReq)
	if !errors.Is(err, contractx.ErrToolTimeout) {
		t.Fatalf("Invoke() error = %v, want ErrToolTimeout", err)
	}

	// The exercise that was actually cached still degrades gracefully.
	res, err := g.Invoke(context.Background(), contractx.AgentTypeSession, benchReq)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !res.Stale || res.Result != "trend for bench-press" {
		t.Fatalf("fallback = %+v, want stale bench press trend", res)
	}
}

func TestInvokeTimeoutWithoutCacheIsSentinel(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		workouts: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	g := newTestGateway(t, src, WithCallTimeout(20*time.Millisecond))

	_, err := g.Invoke(context.Background(), contractx.AgentTypeSession, contractx.ToolRequest{Tool: ToolWorkoutHistory})
	if !errors.Is(err, contractx.ErrToolTimeout) {
		t.Fatalf("Invoke() error = %v, want ErrToolTimeout", err)
	}
}

func TestInvokeToolFailureBecomesResultError(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		workouts: func(ctx context.Context) (string, error) {
			return "", errors.New("upstream 500")
		},
	}
	g := newTestGateway(t, src)

	res, err := g.Invoke(context.Background(), contractx.AgentTypeSession, contractx.ToolRequest{Tool: ToolWorkoutHistory})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(res.Error, "upstream 500") {
		t.Fatalf("Error = %q, want upstream failure", res.Error)
	}
}

func TestPermittedToolsPerAgentType(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, &scriptedSource{})

	tests := []struct {
		agentType contractx.AgentType
		want      []string
	}{
		{contractx.AgentTypeSession, []string{ToolGoalsDocRead, ToolExerciseFrequency, ToolExerciseTrend, ToolWorkoutHistory}},
		{contractx.AgentTypePeriodicGoals, []string{ToolLongTermDocRead, ToolExerciseFrequency, ToolExerciseTrend, ToolWorkoutHistory}},
		{contractx.AgentTypeLongTermModel, []string{ToolGoalsDocRead, ToolExerciseFrequency, ToolWorkoutHistory}},
		{contractx.AgentTypeDriftReview, []string{ToolGoalsDocRead}},
	}
	for _, tt := range tests {
		got := g.PermittedTools(tt.agentType)
		want := append([]string(nil), tt.want...)
		sort.Strings(want)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("PermittedTools(%s) = %v, want %v", tt.agentType, got, want)
		}
	}
}

func TestCanWriteDocOwnership(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, &scriptedSource{})

	if !g.CanWriteDoc(contractx.AgentTypeLongTermModel, contractx.DocTypeCoach) {
		t.Fatal("long-term agent must own the coach doc")
	}
	if !g.CanWriteDoc(contractx.AgentTypePeriodicGoals, contractx.DocTypeWeeklyGoals) {
		t.Fatal("goals agent must own the weekly goals doc")
	}
	if g.CanWriteDoc(contractx.AgentTypeLongTermModel, contractx.DocTypeWeeklyGoals) {
		t.Fatal("long-term agent must not write goal docs")
	}
	if g.CanWriteDoc(contractx.AgentTypeSession, contractx.DocTypeCoach) {
		t.Fatal("session agent must not write documents")
	}
	if g.CanWriteDoc(contractx.AgentTypeDriftReview, contractx.DocTypeWeeklyGoals) {
		t.Fatal("drift review agent must not write documents")
	}
}
