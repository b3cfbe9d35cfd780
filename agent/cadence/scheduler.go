package cadence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

const (
	// DefaultCoachPeriod is the biweekly cadence of the long-term model doc.
	DefaultCoachPeriod = 14 * 24 * time.Hour
	// DefaultGoalsPeriod is the weekly cadence of the goal doc.
	DefaultGoalsPeriod = 7 * 24 * time.Hour
)

// RegenRequest asks one cadence agent to produce a new document version.
type RegenRequest struct {
	ID                string
	DocType           contractx.DocType
	Supersedes        string
	SupersededVersion int64
	Forced            bool
	DueAt             time.Time
}

// RegenFunc performs one regeneration: invoke the owning agent and persist
// the resulting version through the document store.
type RegenFunc func(ctx context.Context, req RegenRequest) error

// state is the cadence bookkeeping for one doc type. It is derived data:
// Rebuild reconstructs it from document history.
type state struct {
	lastGeneratedAt time.Time
	period          time.Duration
	forcedPending   bool
	inFlight        bool
}

// Scheduler decides when each document layer regenerates. One regeneration
// per doc type is in flight at a time; overlapping due signals coalesce.
type Scheduler struct {
	mu     sync.Mutex
	states map[contractx.DocType]*state
	store  contractx.DocumentStore
	group  singleflight.Group
	now    func() time.Time
}

type Option func(*Scheduler)

func WithPeriod(docType contractx.DocType, period time.Duration) Option {
	return func(s *Scheduler) {
		if period > 0 {
			s.states[docType] = &state{period: period}
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store contractx.DocumentStore, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: document store is required", contractx.ErrValidation)
	}
	s := &Scheduler{
		states: map[contractx.DocType]*state{
			contractx.DocTypeCoach:       {period: DefaultCoachPeriod},
			contractx.DocTypeWeeklyGoals: {period: DefaultGoalsPeriod},
		},
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Rebuild reconstructs cadence state from stored document history. Wiping
// the scheduler and calling Rebuild converges to the same due decisions.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	for docType := range s.snapshotDocTypes() {
		current, err := s.store.GetCurrent(ctx, docType)
		if err != nil {
			return fmt.Errorf("rebuild cadence for doc_type=%s: %w", docType, err)
		}

		s.mu.Lock()
		st := s.states[docType]
		if current != nil {
			st.lastGeneratedAt = current.CreatedAt
		} else {
			st.lastGeneratedAt = time.Time{}
		}
		st.forcedPending = false
		st.inFlight = false
		s.mu.Unlock()
	}
	return nil
}

// RequestForcedRegeneration marks a doc type for out-of-cycle regeneration.
// Multiple triggers (stagnation, pain, challenge) OR-combine; the signal is
// idempotent and cleared on the next successful generation.
func (s *Scheduler) RequestForcedRegeneration(docType contractx.DocType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[docType]
	if !ok {
		return fmt.Errorf("%w: no cadence for doc_type=%q", contractx.ErrValidation, docType)
	}
	if !st.forcedPending {
		log.Info().Str("doc_type", string(docType)).Msg("forced regeneration requested")
	}
	st.forcedPending = true
	return nil
}

// Tick returns a regeneration request for every due doc type. A doc type
// with a regeneration already in flight is skipped: the pending run covers
// the new due signal.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]RegenRequest, error) {
	now = now.UTC()

	var due []contractx.DocType
	s.mu.Lock()
	for docType, st := range s.states {
		if st.inFlight {
			continue
		}
		if st.forcedPending || st.lastGeneratedAt.IsZero() || now.Sub(st.lastGeneratedAt) >= st.period {
			due = append(due, docType)
		}
	}
	s.mu.Unlock()

	reqs := make([]RegenRequest, 0, len(due))
	for _, docType := range due {
		current, err := s.store.GetCurrent(ctx, docType)
		if err != nil {
			return nil, fmt.Errorf("tick doc_type=%s: %w", docType, err)
		}

		s.mu.Lock()
		st := s.states[docType]
		if st.inFlight {
			s.mu.Unlock()
			continue
		}
		req := RegenRequest{
			ID:      uuid.NewString(),
			DocType: docType,
			Forced:  st.forcedPending,
			DueAt:   now,
		}
		if current != nil {
			req.Supersedes = current.ID
			req.SupersededVersion = current.Version
		}
		st.inFlight = true
		s.mu.Unlock()

		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Execute runs one regeneration request. Concurrent executions for the same
// doc type collapse into a single run; completion releases the in-flight
// guard and, on success, advances the cadence clock and clears the forced
// flag.
func (s *Scheduler) Execute(ctx context.Context, req RegenRequest, fn RegenFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: regen func is required", contractx.ErrValidation)
	}

	_, err, shared := s.group.Do(string(req.DocType), func() (any, error) {
		err := fn(ctx, req)
		s.complete(req.DocType, err)
		return nil, err
	})
	if shared {
		log.Debug().
			Str("doc_type", string(req.DocType)).
			Msg("coalesced concurrent regeneration")
	}
	if err != nil {
		return fmt.Errorf("regenerate doc_type=%s: %w", req.DocType, err)
	}
	return nil
}

// Abandon releases the in-flight guard for a request that will never be
// executed (e.g. the driver is shutting down).
func (s *Scheduler) Abandon(docType contractx.DocType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[docType]; ok {
		st.inFlight = false
	}
}

// Due reports whether a doc type would regenerate at the given instant.
func (s *Scheduler) Due(docType contractx.DocType, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[docType]
	if !ok {
		return false
	}
	return st.forcedPending || st.lastGeneratedAt.IsZero() || now.UTC().Sub(st.lastGeneratedAt) >= st.period
}

func (s *Scheduler) complete(docType contractx.DocType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[docType]
	if !ok {
		return
	}
	st.inFlight = false
	if err != nil {
		log.Warn().Err(err).Str("doc_type", string(docType)).Msg("regeneration failed")
		return
	}
	st.lastGeneratedAt = s.now().UTC()
	st.forcedPending = false
}

func (s *Scheduler) snapshotDocTypes() map[contractx.DocType]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[contractx.DocType]struct{}, len(s.states))
	for docType := range s.states {
		out[docType] = struct{}{}
	}
	return out
}
