package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// MemoryStore is an in-memory DocumentStore with the same contract as the
// Postgres-backed Store. Used in tests and when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[contractx.DocType][]contractx.VersionedDocument
	rules map[contractx.DocType]MidPeriodRule
	now   func() time.Time
}

var _ contractx.DocumentStore = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

func MemoryWithMidPeriodRule(docType contractx.DocType, rule MidPeriodRule) MemoryOption {
	return func(s *MemoryStore) {
		if rule.Period > 0 && rule.Diff != nil {
			s.rules[docType] = rule
		}
	}
}

func MemoryWithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:  make(map[contractx.DocType][]contractx.VersionedDocument, 2),
		rules: make(map[contractx.DocType]MidPeriodRule, 2),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, req contractx.PutRequest) (contractx.VersionedDocument, error) {
	if !req.DocType.Valid() {
		return contractx.VersionedDocument{}, fmt.Errorf("%w: unknown doc type=%q", contractx.ErrValidation, req.DocType)
	}
	if len(req.Content) == 0 {
		return contractx.VersionedDocument{}, fmt.Errorf("%w: document content is empty", contractx.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	versions := s.docs[req.DocType]

	var current *contractx.VersionedDocument
	if len(versions) > 0 {
		current = &versions[len(versions)-1]
	}

	if current == nil {
		if req.Supersedes != "" {
			return contractx.VersionedDocument{}, fmt.Errorf("%w: doc_type=%s has no versions, supersedes=%s", contractx.ErrVersionConflict, req.DocType, req.Supersedes)
		}
	} else if req.Supersedes != current.ID {
		return contractx.VersionedDocument{}, fmt.Errorf("%w: doc_type=%s current=%s supersedes=%s", contractx.ErrVersionConflict, req.DocType, current.ID, req.Supersedes)
	}

	if current != nil {
		if rule, ok := s.rules[req.DocType]; ok && !req.Forced && now.Sub(current.CreatedAt) < rule.Period {
			if err := rule.Diff(current.Content, req.Content); err != nil {
				return contractx.VersionedDocument{}, fmt.Errorf("%w: mid-period write for doc_type=%s: %v", contractx.ErrInvariantViolation, req.DocType, err)
			}
		}
	}

	doc := contractx.VersionedDocument{
		ID:          uuid.NewString(),
		DocType:     req.DocType,
		Version:     1,
		Content:     append([]byte(nil), req.Content...),
		Supersedes:  req.Supersedes,
		DerivedFrom: req.DerivedFrom,
		Forced:      req.Forced,
		CreatedAt:   now,
	}
	if current != nil {
		doc.Version = current.Version + 1
	}

	s.docs[req.DocType] = append(versions, doc)
	return doc, nil
}

func (s *MemoryStore) GetCurrent(ctx context.Context, docType contractx.DocType) (*contractx.VersionedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.docs[docType]
	if len(versions) == 0 {
		return nil, nil
	}
	doc := versions[len(versions)-1]
	return &doc, nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, docType contractx.DocType, n int) ([]contractx.VersionedDocument, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.docs[docType]
	out := make([]contractx.VersionedDocument, 0, n)
	for i := len(versions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, versions[i])
	}
	return out, nil
}
