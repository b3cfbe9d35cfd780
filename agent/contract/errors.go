package contract

import "errors"

// Routing and storage failure kinds. Every failure in the core resolves to
// one of these; nothing here crashes the hosting process.
var (
	ErrUnroutableEvent    = errors.New("no agent resolvable for event")
	ErrImmutableField     = errors.New("immutable field modified")
	ErrVersionConflict    = errors.New("document version conflict")
	ErrInvariantViolation = errors.New("document invariant violated")
	ErrToolNotPermitted   = errors.New("tool not permitted for agent")
	ErrToolTimeout        = errors.New("tool call timed out")
	ErrThreadNotFound     = errors.New("thread record not found")
)

// Model-layer failure kinds, shared by the coach agents.
var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
)
