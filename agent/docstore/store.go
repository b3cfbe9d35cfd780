package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/pwachirah/stride-coach/agent/contract"
)

// DiffPredicate validates a replacement content blob against the version it
// supersedes. The store never inspects content itself; the authoring agent
// supplies the predicate for its own doc type.
type DiffPredicate func(prev, next []byte) error

// MidPeriodRule gates writes that land inside the doc type's normal cadence
// period without a forced flag: the diff predicate must accept the change.
type MidPeriodRule struct {
	Period time.Duration
	Diff   DiffPredicate
}

type Config struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// documentRow is the bun model for the append-only documents table.
type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          string    `bun:"id,pk"`
	DocType     string    `bun:"doc_type,notnull"`
	Version     int64     `bun:"version,notnull"`
	Content     []byte    `bun:"content,notnull"`
	Supersedes  string    `bun:"supersedes"`
	DerivedFrom string    `bun:"derived_from"`
	Forced      bool      `bun:"forced,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

func WithMidPeriodRule(docType contractx.DocType, rule MidPeriodRule) StoreOption {
	return func(s *Store) {
		if rule.Period > 0 && rule.Diff != nil {
			s.rules[docType] = rule
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store persists versioned documents in Postgres. Versions are append-only;
// nothing is ever mutated or deleted.
type Store struct {
	db    *bun.DB
	rules map[contractx.DocType]MidPeriodRule
	now   func() time.Time
}

var _ contractx.DocumentStore = (*Store)(nil)

func New(cfg Config, opts ...StoreOption) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("docstore dsn is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	store := &Store{
		db:    db,
		rules: make(map[contractx.DocType]MidPeriodRule, 2),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Init creates the documents table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*documentRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*documentRow)(nil)).
		Index("documents_doc_type_version_uq").
		Unique().
		IfNotExists().
		Column("doc_type", "version").
		Exec(ctx); err != nil {
		return fmt.Errorf("create documents version index: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, req contractx.PutRequest) (contractx.VersionedDocument, error) {
	if !req.DocType.Valid() {
		return contractx.VersionedDocument{}, fmt.Errorf("%w: unknown doc type=%q", contractx.ErrValidation, req.DocType)
	}
	if len(req.Content) == 0 {
		return contractx.VersionedDocument{}, fmt.Errorf("%w: document content is empty", contractx.ErrValidation)
	}

	now := s.now().UTC()
	var out contractx.VersionedDocument

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var current documentRow
		err := tx.NewSelect().
			Model(&current).
			Where("doc_type = ?", string(req.DocType)).
			OrderExpr("version DESC").
			Limit(1).
			For("UPDATE").
			Scan(ctx)
		hasCurrent := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load current version: %w", err)
		}

		if err := checkSupersedes(req, &current, hasCurrent); err != nil {
			return err
		}
		if hasCurrent {
			if err := s.checkMidPeriod(req, &current, now); err != nil {
				return err
			}
		}

		row := documentRow{
			ID:          uuid.NewString(),
			DocType:     string(req.DocType),
			Version:     1,
			Content:     req.Content,
			Supersedes:  req.Supersedes,
			DerivedFrom: req.DerivedFrom,
			Forced:      req.Forced,
			CreatedAt:   now,
		}
		if hasCurrent {
			row.Version = current.Version + 1
		}

		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			// A concurrent writer that slipped past the row lock surfaces
			// as a unique violation on (doc_type, version).
			var pgErr pgdriver.Error
			if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
				return fmt.Errorf("%w: doc_type=%s supersedes=%s", contractx.ErrVersionConflict, req.DocType, req.Supersedes)
			}
			return fmt.Errorf("insert document version: %w", err)
		}

		out = toDocument(&row)
		return nil
	})
	if err != nil {
		return contractx.VersionedDocument{}, err
	}
	return out, nil
}

func (s *Store) GetCurrent(ctx context.Context, docType contractx.DocType) (*contractx.VersionedDocument, error) {
	var row documentRow
	err := s.db.NewSelect().
		Model(&row).
		Where("doc_type = ?", string(docType)).
		OrderExpr("version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current doc_type=%s: %w", docType, err)
	}
	doc := toDocument(&row)
	return &doc, nil
}

func (s *Store) GetHistory(ctx context.Context, docType contractx.DocType, n int) ([]contractx.VersionedDocument, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []documentRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("doc_type = ?", string(docType)).
		OrderExpr("version DESC").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get history doc_type=%s: %w", docType, err)
	}
	docs := make([]contractx.VersionedDocument, 0, len(rows))
	for i := range rows {
		docs = append(docs, toDocument(&rows[i]))
	}
	return docs, nil
}

func (s *Store) checkMidPeriod(req contractx.PutRequest, current *documentRow, now time.Time) error {
	rule, ok := s.rules[req.DocType]
	if !ok || req.Forced {
		return nil
	}
	if now.Sub(current.CreatedAt) >= rule.Period {
		return nil
	}
	if err := rule.Diff(current.Content, req.Content); err != nil {
		return fmt.Errorf("%w: mid-period write for doc_type=%s: %v", contractx.ErrInvariantViolation, req.DocType, err)
	}
	return nil
}

func checkSupersedes(req contractx.PutRequest, current *documentRow, hasCurrent bool) error {
	if !hasCurrent {
		if req.Supersedes != "" {
			return fmt.Errorf("%w: doc_type=%s has no versions, supersedes=%s", contractx.ErrVersionConflict, req.DocType, req.Supersedes)
		}
		return nil
	}
	if req.Supersedes != current.ID {
		return fmt.Errorf("%w: doc_type=%s current=%s supersedes=%s", contractx.ErrVersionConflict, req.DocType, current.ID, req.Supersedes)
	}
	return nil
}

func toDocument(row *documentRow) contractx.VersionedDocument {
	return contractx.VersionedDocument{
		ID:          row.ID,
		DocType:     contractx.DocType(row.DocType),
		Version:     row.Version,
		Content:     row.Content,
		Supersedes:  row.Supersedes,
		DerivedFrom: row.DerivedFrom,
		Forced:      row.Forced,
		CreatedAt:   row.CreatedAt,
	}
}
