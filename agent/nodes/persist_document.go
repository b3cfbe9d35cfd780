package routernode

import (
	"context"
	"fmt"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// PersistDocument writes the draft document emitted by the agent, when any.
// Ownership is enforced here: an agent writing outside its own layer is a
// permission failure, not a store error. Supersedes and derivation links
// are filled from the context the agent was shown, so a concurrent writer
// surfaces as a version conflict.
func PersistDocument(ctx context.Context, in *GraphState, docs contractx.DocumentStore, gateway contractx.ToolGateway) (*GraphState, error) {
	draft := in.Response.Document
	if draft == nil {
		return in, nil
	}

	agentType := in.Record.AgentType
	if !gateway.CanWriteDoc(agentType, draft.DocType) {
		return nil, fmt.Errorf("%w: agent=%s cannot write doc_type=%s", contractx.ErrToolNotPermitted, agentType, draft.DocType)
	}

	req := contractx.PutRequest{
		DocType:     draft.DocType,
		Content:     draft.Content,
		Supersedes:  draft.Supersedes,
		DerivedFrom: draft.DerivedFrom,
		Forced:      draft.Forced,
	}
	if req.Supersedes == "" {
		if current := in.Context.Documents[draft.DocType]; current != nil {
			req.Supersedes = current.ID
		}
	}
	// A goal doc derives from the coach doc version that informed it.
	if req.DerivedFrom == "" && draft.DocType == contractx.DocTypeWeeklyGoals {
		if coachDoc := in.Context.Documents[contractx.DocTypeCoach]; coachDoc != nil {
			req.DerivedFrom = coachDoc.ID
		}
	}

	doc, err := docs.Put(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("persist doc_type=%s: %w", draft.DocType, err)
	}

	in.Persisted = &doc
	return in, nil
}
