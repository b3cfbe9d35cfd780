package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/pwachirah/stride-coach/agent/contract"
	nodex "github.com/pwachirah/stride-coach/agent/nodes"
	phasex "github.com/pwachirah/stride-coach/agent/phase"
)

// Router is the single entry point for conversational events. It binds each
// event to exactly one agent, runs the turn, and persists the outcome.
// Events for the same thread are serialized; different threads proceed
// concurrently.
type Router struct {
	registry contractx.ThreadRegistry
	models   contractx.Registry
	tools    contractx.ToolGateway
	docs     contractx.DocumentStore
	regen    nodex.ForcedRegenerator
	detector *phasex.Detector

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	mu          sync.Mutex
	threadLocks map[string]*threadLock

	now func() time.Time
}

// threadLock serializes events for one thread id. refs counts waiters so the
// entry can be dropped from the map as soon as the thread goes quiet.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Router)

// WithForcedRegenerator wires the cadence scheduler's forced-regeneration
// signal. Without it, force_long_term flags are dropped.
func WithForcedRegenerator(regen nodex.ForcedRegenerator) Option {
	return func(r *Router) {
		r.regen = regen
	}
}

func WithDetector(detector *phasex.Detector) Option {
	return func(r *Router) {
		if detector != nil {
			r.detector = detector
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func New(
	registry contractx.ThreadRegistry,
	models contractx.Registry,
	tools contractx.ToolGateway,
	docs contractx.DocumentStore,
	opts ...Option,
) (*Router, error) {
	if registry == nil {
		return nil, errors.New("thread registry is required")
	}
	if models == nil {
		return nil, errors.New("agent registry is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if docs == nil {
		return nil, errors.New("document store is required")
	}

	r := &Router{
		registry:    registry,
		models:      models,
		tools:       tools,
		docs:        docs,
		detector:    phasex.NewDetector(),
		threadLocks: make(map[string]*threadLock),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	graphRunner, err := r.compileHandleEventGraph(context.Background())
	if err != nil {
		return nil, err
	}
	r.graphRunner = graphRunner

	return r, nil
}

// HandleEvent routes one inbound event through its thread's agent.
func (r *Router) HandleEvent(ctx context.Context, event contractx.InboundEvent) (contractx.RouteResult, error) {
	lock := r.acquireThreadLock(event.ThreadID)
	defer r.releaseThreadLock(event.ThreadID, lock)

	out, err := r.graphRunner.Invoke(ctx, nodex.GraphInput{Event: event})
	if err != nil {
		return contractx.RouteResult{}, err
	}
	return out.Result, nil
}

func (r *Router) acquireThreadLock(threadID string) *threadLock {
	r.mu.Lock()
	lock, ok := r.threadLocks[threadID]
	if !ok {
		lock = &threadLock{}
		r.threadLocks[threadID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (r *Router) releaseThreadLock(threadID string, lock *threadLock) {
	lock.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.threadLocks, threadID)
	}
}
