package coach

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

func compileStructuredGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, coachLLMOutput], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[coachLLMOutput](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, coachLLMOutput]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add structured edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}

func compileToolPlanningGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add tool planning prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add tool planning model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add tool planning edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add tool planning edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add tool planning edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("coach.tool_planning_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile tool planning graph: %w", err)
	}
	return runner, nil
}

func compileRuntimeGraph(
	ctx context.Context,
	toolFlow func(context.Context, contractx.AgentRequest) (contractx.AgentResponse, error),
	structuredFlow func(context.Context, contractx.AgentRequest) (contractx.AgentResponse, error),
	hasTools bool,
) (compose.Runnable[contractx.AgentRequest, contractx.AgentResponse], error) {
	graph := compose.NewGraph[contractx.AgentRequest, contractx.AgentResponse]()

	if err := graph.AddLambdaNode("validate",
		compose.InvokableLambda(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentRequest, error) {
			if req.Event.ThreadID == "" {
				return contractx.AgentRequest{}, fmt.Errorf("%w: thread id is required", contractx.ErrValidation)
			}
			return req, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add runtime validate node: %w", err)
	}

	if err := graph.AddLambdaNode("tool_path",
		compose.InvokableLambda(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
			return toolFlow(ctx, req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add runtime tool node: %w", err)
	}

	if err := graph.AddLambdaNode("structured_path",
		compose.InvokableLambda(func(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
			return structuredFlow(ctx, req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add runtime structured node: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, req contractx.AgentRequest) (string, error) {
			if hasTools && len(req.ToolResults) == 0 {
				return "tool_path", nil
			}
			return "structured_path", nil
		},
		map[string]bool{
			"tool_path":       true,
			"structured_path": true,
		},
	)

	if err := graph.AddBranch("validate", branch); err != nil {
		return nil, fmt.Errorf("add runtime branch: %w", err)
	}
	if err := graph.AddEdge(compose.START, "validate"); err != nil {
		return nil, fmt.Errorf("add runtime edge start->validate: %w", err)
	}
	if err := graph.AddEdge("tool_path", compose.END); err != nil {
		return nil, fmt.Errorf("add runtime edge tool->end: %w", err)
	}
	if err := graph.AddEdge("structured_path", compose.END); err != nil {
		return nil, fmt.Errorf("add runtime edge structured->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("coach.runtime_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile runtime graph: %w", err)
	}
	return runner, nil
}
