package coach

import (
	"github.com/cloudwego/eino/schema"
	contractx "github.com/pwachirah/stride-coach/agent/contract"
	toolx "github.com/pwachirah/stride-coach/agent/tool"
)

// toolInfos describes every tool the gateway can execute. Which agent sees
// which subset is decided by the gateway's permission table so the model
// never learns about tools it cannot call.
var toolInfos = map[string]*schema.ToolInfo{
	toolx.ToolWorkoutHistory: {
		Name: toolx.ToolWorkoutHistory,
		Desc: "Fetch the athlete's logged workouts over the last N days, formatted as text.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"days": {Type: schema.Integer, Desc: "Lookback window in days", Required: false},
		}),
	},
	toolx.ToolExerciseFrequency: {
		Name: toolx.ToolExerciseFrequency,
		Desc: "Summarize how often each exercise appears over the last N days, sorted by sessions.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"days": {Type: schema.Integer, Desc: "Lookback window in days", Required: false},
		}),
	},
	toolx.ToolExerciseTrend: {
		Name: toolx.ToolExerciseTrend,
		Desc: "Per-session trend for one exercise: volume, max weight, estimated 1RM, notes.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"exercise_id": {Type: schema.String, Desc: "Hevy exercise template id", Required: true},
			"days":        {Type: schema.Integer, Desc: "Lookback window in days", Required: false},
		}),
	},
	toolx.ToolLongTermDocRead: {
		Name: toolx.ToolLongTermDocRead,
		Desc: "Read the current long-term coach doc.",
	},
	toolx.ToolGoalsDocRead: {
		Name: toolx.ToolGoalsDocRead,
		Desc: "Read the current weekly goal doc, or the last N versions when n > 1.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"n": {Type: schema.Integer, Desc: "Number of versions, most recent first", Required: false},
		}),
	},
}

func coachTools(agentType contractx.AgentType) []*schema.ToolInfo {
	ids := toolx.PermittedTools(agentType)
	tools := make([]*schema.ToolInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := toolInfos[id]; ok {
			tools = append(tools, info)
		}
	}
	return tools
}
