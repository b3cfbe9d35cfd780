package routernode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// ResolveThread binds the event to a thread record. An existing record wins
// unconditionally: the agent type of a thread never changes, even when a
// later event carries a different command. A new thread requires an explicit
// command; without one the event is unroutable.
func ResolveThread(ctx context.Context, in *GraphState, registry contractx.ThreadRegistry) (*GraphState, error) {
	record, err := registry.Get(ctx, in.Event.ThreadID)
	switch {
	case err == nil:
		in.Record = record
		return in, nil

	case errors.Is(err, contractx.ErrThreadNotFound):
		if !in.HasCommand {
			return nil, fmt.Errorf("%w: thread=%s has no record and no explicit command", contractx.ErrUnroutableEvent, in.Event.ThreadID)
		}

		record, err := registry.GetOrCreate(ctx, in.Event.ThreadID, in.CommandType, in.Now)
		if err != nil {
			return nil, fmt.Errorf("create thread record: %w", err)
		}
		in.Record = record
		in.Created = true
		return in, nil

	default:
		return nil, fmt.Errorf("load thread record: %w", err)
	}
}
