package routernode

import (
	"context"
	"fmt"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	toolx "github.com/pwachirah/stride-coach/agent/tool"
)

// BuildContext assembles the bounded context for the agent turn: the current
// versions of the documents this agent type may read, plus the thread
// transcript. Nothing outside the permission table ever enters the context.
func BuildContext(ctx context.Context, in *GraphState, docs contractx.DocumentStore, gateway contractx.ToolGateway) (*GraphState, error) {
	agentType := in.Record.AgentType

	readable := make(map[contractx.DocType]string, 2)
	for _, toolID := range gateway.PermittedTools(agentType) {
		switch toolID {
		case toolx.ToolLongTermDocRead:
			readable[contractx.DocTypeCoach] = toolID
		case toolx.ToolGoalsDocRead:
			readable[contractx.DocTypeWeeklyGoals] = toolID
		}
	}

	documents := make(map[contractx.DocType]*contractx.VersionedDocument, len(readable))
	for docType := range readable {
		doc, err := docs.GetCurrent(ctx, docType)
		if err != nil {
			return nil, fmt.Errorf("load doc_type=%s for context: %w", docType, err)
		}
		if doc != nil {
			documents[docType] = doc
		}
	}

	in.Context = contractx.AgentContext{
		Documents: documents,
		Messages:  in.Record.Messages,
	}
	return in, nil
}
