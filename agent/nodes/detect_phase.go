package routernode

import (
	"fmt"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
	phasex "github.com/pwachirah/stride-coach/agent/phase"
)

// DetectPhase computes the phase this turn runs under. The transition is
// validated here, before the agent sees the event, so a regression to
// planning can never reach a model.
func DetectPhase(in *GraphState, detector *phasex.Detector) (*GraphState, error) {
	if in.Record == nil {
		return nil, fmt.Errorf("%w: thread record is missing", contractx.ErrValidation)
	}

	next, err := detector.Next(in.Record, in.Event)
	if err != nil {
		return nil, err
	}
	if err := phasex.ValidateTransition(in.Record.Phase, next); err != nil {
		return nil, err
	}

	in.Phase = next
	return in, nil
}
