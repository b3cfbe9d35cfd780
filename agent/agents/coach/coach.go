package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

type coachImpl struct {
	agentType        contractx.AgentType
	structuredRunner compose.Runnable[map[string]any, coachLLMOutput]
	toolRunner       compose.Runnable[map[string]any, *schema.Message]
	runtimeRunner    compose.Runnable[contractx.AgentRequest, contractx.AgentResponse]
	allowedTools     map[string]struct{}
	ownedDoc         contractx.DocType
	docRequired      bool
}

type coachDocOutput struct {
	Content string `json:"content"`
}

type coachLLMOutput struct {
	Message          string          `json:"message"`
	Document         *coachDocOutput `json:"document,omitempty"`
	GuardrailHandled bool            `json:"guardrail_handled,omitempty"`
	ForceLongTerm    bool            `json:"force_long_term,omitempty"`
}

func newCoach(
	ctx context.Context,
	agentType contractx.AgentType,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
) (*coachImpl, error) {
	structuredRunner, err := compileStructuredGraph(ctx, chatModel, systemPrompt, "coach.structured_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile structured coach graph: %v", contractx.ErrModelInvoke, err)
	}

	tools := coachTools(agentType)
	var toolRunner compose.Runnable[map[string]any, *schema.Message]
	if len(tools) > 0 {
		toolModel, err := chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for agent=%s: %v", contractx.ErrModelInvoke, agentType, err)
		}
		toolRunner, err = compileToolPlanningGraph(ctx, toolModel, systemPrompt)
		if err != nil {
			return nil, fmt.Errorf("%w: compile tool planner graph: %v", contractx.ErrModelInvoke, err)
		}
	}

	allowedTools := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			continue
		}
		allowedTools[t.Name] = struct{}{}
	}

	agent := &coachImpl{
		agentType:        agentType,
		structuredRunner: structuredRunner,
		toolRunner:       toolRunner,
		allowedTools:     allowedTools,
		ownedDoc:         ownedDocType(agentType),
		docRequired:      agentType == contractx.AgentTypeLongTermModel,
	}

	runtimeRunner, err := compileRuntimeGraph(ctx, agent.runToolPlanning, agent.runStructured, len(tools) > 0)
	if err != nil {
		return nil, fmt.Errorf("%w: compile coach runtime graph: %v", contractx.ErrModelInvoke, err)
	}
	agent.runtimeRunner = runtimeRunner

	return agent, nil
}

func (c *coachImpl) Run(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	out, err := c.runtimeRunner.Invoke(ctx, req)
	if err != nil {
		return contractx.AgentResponse{}, err
	}
	return out, nil
}

func (c *coachImpl) runStructured(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	input, err := marshalPayload("finalize", req, true)
	if err != nil {
		return contractx.AgentResponse{}, err
	}

	out, err := c.structuredRunner.Invoke(ctx, map[string]any{
		"input": input,
	})
	if err != nil {
		return contractx.AgentResponse{}, fmt.Errorf("%w: coach invoke agent=%s: %v", contractx.ErrModelInvoke, c.agentType, err)
	}

	message := strings.TrimSpace(out.Message)
	if message == "" {
		return contractx.AgentResponse{}, fmt.Errorf("%w: agent=%s message is empty", contractx.ErrSchemaViolation, c.agentType)
	}

	resp := contractx.AgentResponse{
		Message:       message,
		ForceLongTerm: out.ForceLongTerm,
	}
	if c.agentType == contractx.AgentTypeSession {
		resp.GuardrailHandled = out.GuardrailHandled
	}

	if out.Document != nil {
		if c.ownedDoc == "" {
			return contractx.AgentResponse{}, fmt.Errorf("%w: agent=%s may not author documents", contractx.ErrSchemaViolation, c.agentType)
		}
		content := strings.TrimSpace(out.Document.Content)
		if content == "" {
			return contractx.AgentResponse{}, fmt.Errorf("%w: agent=%s emitted an empty document", contractx.ErrSchemaViolation, c.agentType)
		}
		resp.Document = &contractx.DraftDocument{
			DocType: c.ownedDoc,
			Content: []byte(content),
		}
	} else if c.docRequired {
		return contractx.AgentResponse{}, fmt.Errorf("%w: agent=%s must emit a document", contractx.ErrSchemaViolation, c.agentType)
	}

	return resp, nil
}

func (c *coachImpl) runToolPlanning(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	input, err := marshalPayload("act", req, false)
	if err != nil {
		return contractx.AgentResponse{}, err
	}

	msg, err := c.toolRunner.Invoke(ctx, map[string]any{
		"input": input,
	})
	if err != nil {
		return contractx.AgentResponse{}, fmt.Errorf("%w: tool planning invoke agent=%s: %v", contractx.ErrModelInvoke, c.agentType, err)
	}
	if msg == nil {
		return contractx.AgentResponse{}, fmt.Errorf("%w: empty tool planning response", contractx.ErrSchemaViolation)
	}

	toolRequests, err := toToolRequests(msg.ToolCalls)
	if err != nil {
		return contractx.AgentResponse{}, err
	}

	if len(toolRequests) == 0 {
		// The model decided it can answer without data. Fall through to the
		// structured flow so the output schema is still enforced.
		return c.runStructured(ctx, req)
	}

	for _, tr := range toolRequests {
		if _, ok := c.allowedTools[tr.Tool]; !ok {
			return contractx.AgentResponse{}, fmt.Errorf("%w: tool=%s is not allowed for agent=%s", contractx.ErrSchemaViolation, tr.Tool, c.agentType)
		}
	}

	return contractx.AgentResponse{
		ToolRequests: toolRequests,
	}, nil
}

func marshalPayload(mode string, req contractx.AgentRequest, includeResults bool) (string, error) {
	payload := map[string]any{
		"mode":         mode,
		"phase":        req.Phase,
		"user_message": req.Event.Text,
		"transcript":   transcriptPayload(req.Context.Messages),
		"documents":    documentsPayload(req.Context.Documents),
	}
	if len(req.Context.StaleData) > 0 {
		payload["stale_data"] = req.Context.StaleData
	}
	if includeResults && len(req.ToolResults) > 0 {
		payload["tool_results"] = req.ToolResults
	}

	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal coach payload: %v", contractx.ErrValidation, err)
	}
	return string(input), nil
}

func transcriptPayload(messages []contractx.ThreadMessage) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"role": m.Role,
			"text": m.Text,
		})
	}
	return out
}

func documentsPayload(docs map[contractx.DocType]*contractx.VersionedDocument) map[string]any {
	out := make(map[string]any, len(docs))
	for docType, doc := range docs {
		if doc == nil {
			continue
		}
		out[string(docType)] = map[string]any{
			"version": doc.Version,
			"content": string(doc.Content),
		}
	}
	return out
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		reqs = append(reqs, contractx.ToolRequest{
			Tool: tool,
			Args: args,
		})
	}
	return reqs, nil
}

func ownedDocType(agentType contractx.AgentType) contractx.DocType {
	switch agentType {
	case contractx.AgentTypeLongTermModel:
		return contractx.DocTypeCoach
	case contractx.AgentTypePeriodicGoals:
		return contractx.DocTypeWeeklyGoals
	}
	return ""
}
