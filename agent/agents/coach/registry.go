package coach

import (
	"context"
	"fmt"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	llmx "github.com/pwachirah/stride-coach/agent/llm"
	promptx "github.com/pwachirah/stride-coach/agent/prompt"
)

type registryImpl struct {
	longTerm contractx.CoachAgent
	goals    contractx.CoachAgent
	session  contractx.CoachAgent
	drift    contractx.CoachAgent
}

func (r *registryImpl) LongTermModel() contractx.CoachAgent {
	return r.longTerm
}

func (r *registryImpl) PeriodicGoals() contractx.CoachAgent {
	return r.goals
}

func (r *registryImpl) Session() contractx.CoachAgent {
	return r.session
}

func (r *registryImpl) DriftReview() contractx.CoachAgent {
	return r.drift
}

func NewRegistry(ctx context.Context, cfg llmx.Config) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompts := promptx.LoadPromptSet()

	build := func(agentType contractx.AgentType, systemPrompt string) (contractx.CoachAgent, error) {
		modelCfg := cfg.OpenRouterFor(agentType)
		chatModel, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create model for agent=%s: %v", contractx.ErrModelInvoke, agentType, err)
		}
		return newCoach(ctx, agentType, chatModel, systemPrompt)
	}

	longTerm, err := build(contractx.AgentTypeLongTermModel, prompts.Coach)
	if err != nil {
		return nil, err
	}
	goals, err := build(contractx.AgentTypePeriodicGoals, prompts.Goals)
	if err != nil {
		return nil, err
	}
	session, err := build(contractx.AgentTypeSession, prompts.Session)
	if err != nil {
		return nil, err
	}
	drift, err := build(contractx.AgentTypeDriftReview, prompts.Drift)
	if err != nil {
		return nil, err
	}

	return &registryImpl{
		longTerm: longTerm,
		goals:    goals,
		session:  session,
		drift:    drift,
	}, nil
}
