package contract

import (
	"context"
	"time"
)

// CoachAgent executes one conversational turn for its agent type.
type CoachAgent interface {
	Run(ctx context.Context, req AgentRequest) (AgentResponse, error)
}

// Registry resolves the fixed set of coach agents.
type Registry interface {
	LongTermModel() CoachAgent
	PeriodicGoals() CoachAgent
	Session() CoachAgent
	DriftReview() CoachAgent
}

// ToolGateway enforces the static per-agent allow-list before any external
// call is made.
type ToolGateway interface {
	PermittedTools(agentType AgentType) []string
	CanWriteDoc(agentType AgentType, docType DocType) bool
	Execute(ctx context.Context, agentType AgentType, reqs []ToolRequest) ([]ToolResult, error)
}

// DocumentStore is the durable, append-only, versioned document layer.
// GetCurrent returns nil when no version exists yet.
type DocumentStore interface {
	Put(ctx context.Context, req PutRequest) (VersionedDocument, error)
	GetCurrent(ctx context.Context, docType DocType) (*VersionedDocument, error)
	GetHistory(ctx context.Context, docType DocType, n int) ([]VersionedDocument, error)
}

// ThreadRegistry is the durable thread-to-agent mapping. Records expire after
// an inactivity window but are never explicitly deleted by the core.
type ThreadRegistry interface {
	GetOrCreate(ctx context.Context, threadID string, agentType AgentType, now time.Time) (*ThreadRecord, error)
	Get(ctx context.Context, threadID string) (*ThreadRecord, error)
	UpdatePhase(ctx context.Context, threadID string, phase Phase, now time.Time) error
	Touch(ctx context.Context, threadID string, now time.Time) error
	AppendMessage(ctx context.Context, threadID string, msg ThreadMessage, now time.Time) error
}
