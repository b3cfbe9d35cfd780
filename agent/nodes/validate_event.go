package routernode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

type GraphInput struct {
	Event contractx.InboundEvent
}

type GraphOutput struct {
	Result contractx.RouteResult
}

// GraphState is threaded through the routing pipeline.
type GraphState struct {
	Event contractx.InboundEvent
	Now   time.Time

	// CommandType is set when the event carried an explicit agent command.
	CommandType contractx.AgentType
	HasCommand  bool

	Record  *contractx.ThreadRecord
	Created bool

	Phase    contractx.Phase
	Context  contractx.AgentContext
	Response contractx.AgentResponse

	// Persisted is the document version written this turn, when any.
	Persisted *contractx.VersionedDocument
}

// ValidateEvent normalizes the inbound event and extracts an explicit agent
// command when one is present, either in the command field or as a leading
// slash token.
func ValidateEvent(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.Event.ThreadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is empty", contractx.ErrValidation)
	}

	text := strings.TrimSpace(in.Event.Text)
	command := strings.TrimSpace(in.Event.Command)
	if command == "" && strings.HasPrefix(text, "/") {
		command = strings.Fields(text)[0]
	}
	if text == "" && command == "" {
		return nil, fmt.Errorf("%w: event has no text", contractx.ErrValidation)
	}

	state := &GraphState{
		Event: contractx.InboundEvent{
			ThreadID:  threadID,
			Author:    strings.TrimSpace(in.Event.Author),
			Text:      text,
			Timestamp: in.Event.Timestamp,
			Command:   command,
		},
		Now: nowFn().UTC(),
	}
	if state.Event.Timestamp.IsZero() {
		state.Event.Timestamp = state.Now
	}

	if command != "" {
		agentType, ok := contractx.ParseAgentCommand(command)
		if !ok {
			return nil, fmt.Errorf("%w: unknown command %q", contractx.ErrUnroutableEvent, command)
		}
		state.CommandType = agentType
		state.HasCommand = true
	}

	return state, nil
}
