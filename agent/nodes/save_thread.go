package routernode

import (
	"context"
	"fmt"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	phasex "github.com/pwachirah/stride-coach/agent/phase"
)

// ForcedRegenerator requests an out-of-cycle document regeneration.
type ForcedRegenerator interface {
	RequestForcedRegeneration(docType contractx.DocType) error
}

// SaveThread resolves the final phase for the turn, persists it, and appends
// both sides of the exchange to the thread transcript.
func SaveThread(ctx context.Context, in *GraphState, registry contractx.ThreadRegistry, detector *phasex.Detector) (*GraphState, error) {
	final := detector.Resolve(in.Phase, in.Response.GuardrailHandled)
	if err := phasex.ValidateTransition(in.Phase, final); err != nil {
		return nil, err
	}

	if final != in.Record.Phase {
		if err := registry.UpdatePhase(ctx, in.Record.ThreadID, final, in.Now); err != nil {
			return nil, fmt.Errorf("update phase: %w", err)
		}
	}
	in.Phase = final

	userMsg := contractx.ThreadMessage{Role: "user", Text: in.Event.Text, At: in.Event.Timestamp}
	if err := registry.AppendMessage(ctx, in.Record.ThreadID, userMsg, in.Now); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	assistantMsg := contractx.ThreadMessage{Role: "assistant", Text: in.Response.Message, At: in.Now}
	if err := registry.AppendMessage(ctx, in.Record.ThreadID, assistantMsg, in.Now); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	if err := registry.Touch(ctx, in.Record.ThreadID, in.Now); err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}

	return in, nil
}

// ForceRegeneration forwards the agent's out-of-cycle regeneration signal
// to the cadence layer. Repeated signals OR-combine there.
func ForceRegeneration(in *GraphState, regen ForcedRegenerator) (*GraphState, error) {
	if !in.Response.ForceLongTerm || regen == nil {
		return in, nil
	}
	if err := regen.RequestForcedRegeneration(contractx.DocTypeCoach); err != nil {
		return nil, fmt.Errorf("request forced regeneration: %w", err)
	}
	return in, nil
}

// FinalizeResult shapes the routing outcome for the delivery layer.
func FinalizeResult(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Record == nil {
		return GraphOutput{}, fmt.Errorf("%w: routing state is incomplete", contractx.ErrValidation)
	}
	return GraphOutput{
		Result: contractx.RouteResult{
			AgentType: in.Record.AgentType,
			Phase:     in.Phase,
			Context:   in.Context,
			Reply:     in.Response.Message,
		},
	}, nil
}
