package tool

import (
	"context"
	"fmt"
	"sort"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// The fixed tool set. There is no plugin surface: adding a tool means
// editing this file and the permission table together.
const (
	ToolWorkoutHistory    = "workout.history"
	ToolExerciseTrend     = "exercise.trend"
	ToolExerciseFrequency = "exercise.frequency"
	ToolLongTermDocRead   = "doc.long_term.read"
	ToolGoalsDocRead      = "doc.goals.read"
)

// permissions is the static allow-list per agent type. Enforced before any
// external call is made.
var permissions = map[contractx.AgentType]map[string]struct{}{
	contractx.AgentTypeSession: {
		ToolWorkoutHistory:    {},
		ToolExerciseTrend:     {},
		ToolExerciseFrequency: {},
		ToolGoalsDocRead:      {},
	},
	contractx.AgentTypePeriodicGoals: {
		ToolWorkoutHistory:    {},
		ToolExerciseTrend:     {},
		ToolExerciseFrequency: {},
		ToolLongTermDocRead:   {},
	},
	contractx.AgentTypeLongTermModel: {
		ToolWorkoutHistory:    {},
		ToolExerciseFrequency: {},
		ToolGoalsDocRead:      {},
	},
	contractx.AgentTypeDriftReview: {
		ToolGoalsDocRead: {},
	},
}

// docWrites maps each agent type to the doc type it may author. An agent
// only ever writes its own layer.
var docWrites = map[contractx.AgentType]contractx.DocType{
	contractx.AgentTypeLongTermModel: contractx.DocTypeCoach,
	contractx.AgentTypePeriodicGoals: contractx.DocTypeWeeklyGoals,
}

// WorkoutSource is the external read-only workout data collaborator.
type WorkoutSource interface {
	RecentWorkouts(ctx context.Context, days int) (string, error)
	ExerciseFrequency(ctx context.Context, days int) (string, error)
	ExerciseTrend(ctx context.Context, exerciseID string, days int) (string, error)
}

// Func executes one tool call with already-validated arguments.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Catalog binds the fixed tool set to its backing collaborators.
func Catalog(workouts WorkoutSource, docs contractx.DocumentStore) map[string]Func {
	return map[string]Func{
		ToolWorkoutHistory: func(ctx context.Context, args map[string]any) (any, error) {
			return workouts.RecentWorkouts(ctx, intArg(args, "days", 14))
		},
		ToolExerciseFrequency: func(ctx context.Context, args map[string]any) (any, error) {
			return workouts.ExerciseFrequency(ctx, intArg(args, "days", 30))
		},
		ToolExerciseTrend: func(ctx context.Context, args map[string]any) (any, error) {
			id, _ := args["exercise_id"].(string)
			if id == "" {
				return nil, fmt.Errorf("%w: exercise_id is required", contractx.ErrValidation)
			}
			return workouts.ExerciseTrend(ctx, id, intArg(args, "days", 90))
		},
		ToolLongTermDocRead: func(ctx context.Context, args map[string]any) (any, error) {
			doc, err := docs.GetCurrent(ctx, contractx.DocTypeCoach)
			if err != nil {
				return nil, err
			}
			return doc, nil
		},
		ToolGoalsDocRead: func(ctx context.Context, args map[string]any) (any, error) {
			n := intArg(args, "n", 1)
			if n == 1 {
				doc, err := docs.GetCurrent(ctx, contractx.DocTypeWeeklyGoals)
				if err != nil {
					return nil, err
				}
				return doc, nil
			}
			return docs.GetHistory(ctx, contractx.DocTypeWeeklyGoals, n)
		},
	}
}

// PermittedTools returns the sorted allow-list for an agent type.
func PermittedTools(agentType contractx.AgentType) []string {
	allowed := permissions[agentType]
	out := make([]string, 0, len(allowed))
	for id := range allowed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func permitted(agentType contractx.AgentType, toolID string) bool {
	allowed, ok := permissions[agentType]
	if !ok {
		return false
	}
	_, ok = allowed[toolID]
	return ok
}

// CanWriteDoc reports whether an agent type may author a given doc type.
func CanWriteDoc(agentType contractx.AgentType, docType contractx.DocType) bool {
	owned, ok := docWrites[agentType]
	return ok && owned == docType
}

func intArg(args map[string]any, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}
