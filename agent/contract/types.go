package contract

import (
	"strings"
	"time"
)

type AgentType string

const (
	AgentTypeLongTermModel AgentType = "long_term_model_agent"
	AgentTypePeriodicGoals AgentType = "periodic_goals_agent"
	AgentTypeSession       AgentType = "session_agent"
	AgentTypeDriftReview   AgentType = "drift_review_agent"
)

// commandAliases maps explicit command tokens to agent types. Slash aliases
// mirror the chat commands the bot answers to; bare agent names are accepted
// for programmatic callers.
var commandAliases = map[string]AgentType{
	"/plan":   AgentTypeSession,
	"/goals":  AgentTypePeriodicGoals,
	"/coach":  AgentTypeLongTermModel,
	"/review": AgentTypeDriftReview,

	string(AgentTypeLongTermModel): AgentTypeLongTermModel,
	string(AgentTypePeriodicGoals): AgentTypePeriodicGoals,
	string(AgentTypeSession):       AgentTypeSession,
	string(AgentTypeDriftReview):   AgentTypeDriftReview,
}

// ParseAgentCommand resolves an explicit command token to an agent type.
func ParseAgentCommand(token string) (AgentType, bool) {
	at, ok := commandAliases[strings.ToLower(strings.TrimSpace(token))]
	return at, ok
}

func (a AgentType) Valid() bool {
	switch a {
	case AgentTypeLongTermModel, AgentTypePeriodicGoals, AgentTypeSession, AgentTypeDriftReview:
		return true
	}
	return false
}

type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseExecution Phase = "execution"
	PhaseGuardrail Phase = "guardrail"
)

type DocType string

const (
	// DocTypeCoach is the slow, biweekly long-term model of the athlete.
	DocTypeCoach DocType = "coach_doc"
	// DocTypeWeeklyGoals is the weekly goal doc derived from the coach doc.
	DocTypeWeeklyGoals DocType = "weekly_goals"
)

func (d DocType) Valid() bool {
	return d == DocTypeCoach || d == DocTypeWeeklyGoals
}

// InboundEvent is one conversational event entering the router.
type InboundEvent struct {
	ThreadID  string    `json:"thread_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command,omitempty"`
}

type ThreadMessage struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ThreadRecord is the per-thread routing state. AgentType never changes for
// the lifetime of a thread.
type ThreadRecord struct {
	ThreadID     string          `json:"thread_id"`
	AgentType    AgentType       `json:"agent_type"`
	Phase        Phase           `json:"phase"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActiveAt time.Time       `json:"last_active_at"`
	Messages     []ThreadMessage `json:"messages,omitempty"`
}

// VersionedDocument is one immutable version of a document layer. Content is
// opaque to the core; the authoring agent owns its shape.
type VersionedDocument struct {
	ID          string    `json:"id"`
	DocType     DocType   `json:"doc_type"`
	Version     int64     `json:"version"`
	Content     []byte    `json:"content"`
	Supersedes  string    `json:"supersedes,omitempty"`
	DerivedFrom string    `json:"derived_from,omitempty"`
	Forced      bool      `json:"forced"`
	CreatedAt   time.Time `json:"created_at"`
}

// PutRequest carries a new document version into the store.
type PutRequest struct {
	DocType     DocType
	Content     []byte
	Supersedes  string
	DerivedFrom string
	Forced      bool
}

// DraftDocument is a document version authored by an agent, not yet persisted.
type DraftDocument struct {
	DocType     DocType `json:"doc_type"`
	Content     []byte  `json:"content"`
	Supersedes  string  `json:"supersedes,omitempty"`
	DerivedFrom string  `json:"derived_from,omitempty"`
	Forced      bool    `json:"forced"`
}

// AgentContext is the bounded context assembled for one agent turn: the
// current document versions the agent may read, plus the thread transcript.
type AgentContext struct {
	Documents map[DocType]*VersionedDocument `json:"documents,omitempty"`
	Messages  []ThreadMessage                `json:"messages,omitempty"`
	StaleData []string                       `json:"stale_data,omitempty"`
}

// RouteResult is what Route returns to the delivery layer.
type RouteResult struct {
	AgentType AgentType
	Phase     Phase
	Context   AgentContext
	Reply     string
}

type AgentRequest struct {
	Event   InboundEvent `json:"event"`
	Phase   Phase        `json:"phase"`
	Context AgentContext `json:"context"`
	// ToolResults is populated on the second invocation of a turn, after the
	// gateway has executed the agent's tool requests.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

type AgentResponse struct {
	Message      string         `json:"message"`
	Document     *DraftDocument `json:"document,omitempty"`
	ToolRequests []ToolRequest  `json:"tool_requests,omitempty"`
	// GuardrailHandled reports that a substitution or cap was issued in
	// response to a guardrail signal, returning the thread to execution.
	GuardrailHandled bool `json:"guardrail_handled,omitempty"`
	// ForceLongTerm requests an out-of-cycle coach doc regeneration.
	ForceLongTerm bool `json:"force_long_term,omitempty"`
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	// Stale marks a result served from the last known good payload after
	// the live call timed out.
	Stale bool `json:"stale,omitempty"`
}
