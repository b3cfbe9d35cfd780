package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

const (
	defaultCallTimeout  = 15 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
)

// Gateway enforces the static per-agent allow-list and wraps every external
// call with a timeout, one retry, and a stale-data fallback.
type Gateway struct {
	catalog map[string]Func
	timeout time.Duration
	backoff time.Duration
	sleep   func(time.Duration)

	mu       sync.Mutex
	lastGood map[string]any
}

var _ contractx.ToolGateway = (*Gateway)(nil)

type GatewayOption func(*Gateway)

func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithRetryBackoff(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d >= 0 {
			g.backoff = d
		}
	}
}

// withSleep replaces the backoff sleep; tests use this to avoid real delays.
func withSleep(fn func(time.Duration)) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

func NewGateway(catalog map[string]Func, opts ...GatewayOption) (*Gateway, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%w: tool catalog is empty", contractx.ErrValidation)
	}
	g := &Gateway{
		catalog:  catalog,
		timeout:  defaultCallTimeout,
		backoff:  defaultRetryBackoff,
		sleep:    time.Sleep,
		lastGood: make(map[string]any, len(catalog)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Gateway) PermittedTools(agentType contractx.AgentType) []string {
	return PermittedTools(agentType)
}

func (g *Gateway) CanWriteDoc(agentType contractx.AgentType, docType contractx.DocType) bool {
	return CanWriteDoc(agentType, docType)
}

// Execute runs a batch of tool requests for one agent turn. A denied or
// failed call becomes an error result; it does not abort the rest of the
// batch, so the agent can proceed without it.
func (g *Gateway) Execute(ctx context.Context, agentType contractx.AgentType, reqs []contractx.ToolRequest) ([]contractx.ToolResult, error) {
	results := make([]contractx.ToolResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := g.Invoke(ctx, agentType, req)
		if err != nil {
			res = contractx.ToolResult{Tool: req.Tool, Error: err.Error()}
		}
		results = append(results, res)
	}
	return results, nil
}

// Invoke runs a single tool call. Permission is checked before anything
// reaches the external collaborator.
func (g *Gateway) Invoke(ctx context.Context, agentType contractx.AgentType, req contractx.ToolRequest) (contractx.ToolResult, error) {
	if !permitted(agentType, req.Tool) {
		return contractx.ToolResult{}, fmt.Errorf("%w: tool=%s agent=%s", contractx.ErrToolNotPermitted, req.Tool, agentType)
	}

	fn, ok := g.catalog[req.Tool]
	if !ok {
		return contractx.ToolResult{}, fmt.Errorf("%w: tool=%s has no backing implementation", contractx.ErrValidation, req.Tool)
	}

	key := cacheKey(req.Tool, req.Args)

	result, err := g.callWithTimeout(ctx, fn, req.Args)
	if errors.Is(err, context.DeadlineExceeded) {
		g.sleep(g.backoff)
		result, err = g.callWithTimeout(ctx, fn, req.Args)
	}

	switch {
	case err == nil:
		g.remember(key, result)
		return contractx.ToolResult{Tool: req.Tool, Result: result}, nil

	case errors.Is(err, context.DeadlineExceeded):
		if stale, ok := g.recall(key); ok {
			log.Warn().Str("tool", req.Tool).Msg("tool timed out twice, serving stale data")
			return contractx.ToolResult{Tool: req.Tool, Result: stale, Stale: true}, nil
		}
		return contractx.ToolResult{}, fmt.Errorf("%w: tool=%s", contractx.ErrToolTimeout, req.Tool)

	default:
		return contractx.ToolResult{Tool: req.Tool, Error: err.Error()}, nil
	}
}

func (g *Gateway) callWithTimeout(ctx context.Context, fn Func, args map[string]any) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(callCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// cacheKey identifies one tool call by id plus its arguments, so a stale
// fallback never answers a different question than the one that timed out.
// json.Marshal writes map keys in sorted order, making the encoding canonical.
func cacheKey(toolID string, args map[string]any) string {
	if len(args) == 0 {
		return toolID
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		// Args arrive JSON-decoded, so this is unreachable in practice;
		// fmt also prints map keys sorted.
		return fmt.Sprintf("%s?%v", toolID, args)
	}
	return toolID + "?" + string(encoded)
}

func (g *Gateway) remember(key string, result any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastGood[key] = result
}

func (g *Gateway) recall(key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	result, ok := g.lastGood[key]
	return result, ok
}
