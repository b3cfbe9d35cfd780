package routernode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// DispatchAgent runs the agent turn. The first invocation may return tool
// requests; the gateway executes them and the agent is invoked once more
// with the results. Stale results are surfaced to the agent through the
// context so the reply can flag possibly outdated data.
func DispatchAgent(ctx context.Context, in *GraphState, models contractx.Registry, gateway contractx.ToolGateway) (*GraphState, error) {
	agent, err := pickAgent(in.Record.AgentType, models)
	if err != nil {
		return nil, err
	}

	req := contractx.AgentRequest{
		Event:   in.Event,
		Phase:   in.Phase,
		Context: in.Context,
	}

	resp, err := agent.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.ToolRequests) > 0 {
		results, err := gateway.Execute(ctx, in.Record.AgentType, resp.ToolRequests)
		if err != nil {
			return nil, fmt.Errorf("execute tool requests: %w", err)
		}
		for _, res := range results {
			if res.Stale {
				req.Context.StaleData = append(req.Context.StaleData, res.Tool)
			}
		}

		req.ToolResults = results
		resp, err = agent.Run(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.ToolRequests) > 0 {
			return nil, fmt.Errorf("%w: agent=%s requested tools twice in one turn", contractx.ErrSchemaViolation, in.Record.AgentType)
		}
	}

	if strings.TrimSpace(resp.Message) == "" {
		return nil, fmt.Errorf("%w: agent=%s produced no reply", contractx.ErrSchemaViolation, in.Record.AgentType)
	}

	in.Context = req.Context
	in.Response = resp
	return in, nil
}

func pickAgent(agentType contractx.AgentType, models contractx.Registry) (contractx.CoachAgent, error) {
	switch agentType {
	case contractx.AgentTypeLongTermModel:
		return models.LongTermModel(), nil
	case contractx.AgentTypePeriodicGoals:
		return models.PeriodicGoals(), nil
	case contractx.AgentTypeSession:
		return models.Session(), nil
	case contractx.AgentTypeDriftReview:
		return models.DriftReview(), nil
	default:
		return nil, fmt.Errorf("%w: unknown agent type=%q", contractx.ErrValidation, agentType)
	}
}
