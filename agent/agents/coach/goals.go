package coach

import (
	"encoding/json"
	"errors"
	"fmt"
)

// GoalsEnvelope is the content shape of the weekly goal doc. The store
// treats content as opaque bytes; this envelope is owned by the goals agent
// and is what the mid-period diff predicate inspects.
type GoalsEnvelope struct {
	Markdown string   `json:"markdown"`
	Goals    []string `json:"goals"`
	Deload   bool     `json:"deload,omitempty"`
}

// GoalsScopeReduced accepts a mid-period weekly goal replacement only when
// it reduces scope: an explicit deload, or strictly fewer goals than the
// version it replaces. Raising ambition mid-week waits for the next cycle.
func GoalsScopeReduced(prev, next []byte) error {
	var nextEnv GoalsEnvelope
	if err := json.Unmarshal(next, &nextEnv); err != nil {
		return fmt.Errorf("goal doc content is not a valid envelope: %w", err)
	}
	if len(nextEnv.Goals) == 0 {
		return errors.New("goal doc has no goals")
	}
	if nextEnv.Deload {
		return nil
	}

	var prevEnv GoalsEnvelope
	if err := json.Unmarshal(prev, &prevEnv); err != nil {
		// An older version predating the envelope cannot be compared; only a
		// deload may replace it mid-period.
		return errors.New("previous goal doc is not comparable, only a deload may replace it mid-period")
	}
	if len(nextEnv.Goals) < len(prevEnv.Goals) {
		return nil
	}
	return fmt.Errorf("scope not reduced: %d goals would replace %d", len(nextEnv.Goals), len(prevEnv.Goals))
}
