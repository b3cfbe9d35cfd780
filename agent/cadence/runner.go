package cadence

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	toolx "github.com/pwachirah/stride-coach/agent/tool"
)

// Runner executes regeneration requests: it invokes the owning agent with
// the documents it may read, runs the tool round trip, and persists the
// resulting version with the optimistic concurrency token from the request.
type Runner struct {
	models contractx.Registry
	tools  contractx.ToolGateway
	docs   contractx.DocumentStore
	now    func() time.Time
}

func NewRunner(models contractx.Registry, tools contractx.ToolGateway, docs contractx.DocumentStore) (*Runner, error) {
	if models == nil {
		return nil, errors.New("agent registry is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	return &Runner{models: models, tools: tools, docs: docs, now: time.Now}, nil
}

// Regenerate is a RegenFunc.
func (r *Runner) Regenerate(ctx context.Context, req RegenRequest) error {
	agentType, agent, err := r.owningAgent(req.DocType)
	if err != nil {
		return err
	}

	agentCtx, err := r.buildContext(ctx, agentType)
	if err != nil {
		return err
	}

	trigger := "scheduled regeneration"
	if req.Forced {
		trigger = "forced regeneration"
	}
	agentReq := contractx.AgentRequest{
		Event: contractx.InboundEvent{
			ThreadID:  fmt.Sprintf("cadence:%s:%s", req.DocType, req.ID),
			Author:    "scheduler",
			Text:      trigger,
			Timestamp: r.now().UTC(),
		},
		Phase:   contractx.PhaseExecution,
		Context: agentCtx,
	}

	resp, err := agent.Run(ctx, agentReq)
	if err != nil {
		return err
	}
	if len(resp.ToolRequests) > 0 {
		results, err := r.tools.Execute(ctx, agentType, resp.ToolRequests)
		if err != nil {
			return fmt.Errorf("execute tool requests: %w", err)
		}
		for _, res := range results {
			if res.Stale {
				agentReq.Context.StaleData = append(agentReq.Context.StaleData, res.Tool)
			}
		}
		agentReq.ToolResults = results
		resp, err = agent.Run(ctx, agentReq)
		if err != nil {
			return err
		}
	}

	if resp.Document == nil {
		return fmt.Errorf("%w: agent=%s produced no document", contractx.ErrSchemaViolation, agentType)
	}
	if resp.Document.DocType != req.DocType {
		return fmt.Errorf("%w: agent=%s wrote doc_type=%s, expected %s", contractx.ErrSchemaViolation, agentType, resp.Document.DocType, req.DocType)
	}

	put := contractx.PutRequest{
		DocType:    req.DocType,
		Content:    resp.Document.Content,
		Supersedes: req.Supersedes,
		Forced:     req.Forced,
	}
	if req.DocType == contractx.DocTypeWeeklyGoals {
		if coachDoc := agentCtx.Documents[contractx.DocTypeCoach]; coachDoc != nil {
			put.DerivedFrom = coachDoc.ID
		}
	}

	if _, err := r.docs.Put(ctx, put); err != nil {
		return err
	}
	return nil
}

func (r *Runner) owningAgent(docType contractx.DocType) (contractx.AgentType, contractx.CoachAgent, error) {
	switch docType {
	case contractx.DocTypeCoach:
		return contractx.AgentTypeLongTermModel, r.models.LongTermModel(), nil
	case contractx.DocTypeWeeklyGoals:
		return contractx.AgentTypePeriodicGoals, r.models.PeriodicGoals(), nil
	default:
		return "", nil, fmt.Errorf("%w: no owning agent for doc_type=%q", contractx.ErrValidation, docType)
	}
}

func (r *Runner) buildContext(ctx context.Context, agentType contractx.AgentType) (contractx.AgentContext, error) {
	documents := make(map[contractx.DocType]*contractx.VersionedDocument, 2)
	for _, toolID := range r.tools.PermittedTools(agentType) {
		var docType contractx.DocType
		switch toolID {
		case toolx.ToolLongTermDocRead:
			docType = contractx.DocTypeCoach
		case toolx.ToolGoalsDocRead:
			docType = contractx.DocTypeWeeklyGoals
		default:
			continue
		}
		doc, err := r.docs.GetCurrent(ctx, docType)
		if err != nil {
			return contractx.AgentContext{}, fmt.Errorf("load doc_type=%s for regeneration: %w", docType, err)
		}
		if doc != nil {
			documents[docType] = doc
		}
	}

	// The regenerating agent also sees the version it is replacing.
	for _, docType := range []contractx.DocType{contractx.DocTypeCoach, contractx.DocTypeWeeklyGoals} {
		if _, ok := documents[docType]; ok {
			continue
		}
		if ownedDocWriter(agentType) == docType {
			doc, err := r.docs.GetCurrent(ctx, docType)
			if err != nil {
				return contractx.AgentContext{}, fmt.Errorf("load doc_type=%s for regeneration: %w", docType, err)
			}
			if doc != nil {
				documents[docType] = doc
			}
		}
	}

	return contractx.AgentContext{Documents: documents}, nil
}

func ownedDocWriter(agentType contractx.AgentType) contractx.DocType {
	switch agentType {
	case contractx.AgentTypeLongTermModel:
		return contractx.DocTypeCoach
	case contractx.AgentTypePeriodicGoals:
		return contractx.DocTypeWeeklyGoals
	}
	return ""
}
