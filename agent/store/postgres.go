package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// Postgres stores every collection in one jsonb documents table. Exclusive
// takes transaction-scoped advisory locks and propagates the transaction
// through the context so the store calls made by fn join it.
type Postgres struct {
	db *bun.DB
}

var _ Store = (*Postgres)(nil)

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	Collection string         `bun:"collection,pk"`
	ID         string         `bun:"id,pk"`
	Seq        int64          `bun:"seq,scanonly"`
	Data       map[string]any `bun:"data,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

const documentsDDL = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	id text NOT NULL,
	seq bigserial,
	data jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (collection, seq);
`

type txKey struct{}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("store: postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	return &Postgres{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

// Migrate creates the documents table when it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, documentsDDL); err != nil {
		return fmt.Errorf("store: migrate documents: %w", err)
	}
	return nil
}

func (p *Postgres) conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return p.db
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Doc, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	var row documentRow
	err := p.conn(ctx).NewSelect().
		Model(&row).
		Where("collection = ?", collection).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	return Doc(row.Data), nil
}

func (p *Postgres) Query(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	var rows []documentRow
	sel := p.conn(ctx).NewSelect().
		Model(&rows).
		Where("collection = ?", collection).
		OrderExpr("seq ASC")
	switch q.Op {
	case OpEqual:
		sel = sel.Where("data->>? = ?", q.Field, fmt.Sprint(q.Value))
	case OpNotEqual:
		sel = sel.Where("data->>? IS DISTINCT FROM ?", q.Field, fmt.Sprint(q.Value))
	}
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}
	if err := sel.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: query %s: %w", collection, err)
	}

	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, Snapshot{ID: row.ID, Doc: Doc(row.Data)})
	}
	return out, nil
}

func (p *Postgres) Create(ctx context.Context, collection, id string, doc Doc) (string, error) {
	if err := validateCollection(collection); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	row := &documentRow{Collection: collection, ID: id, Data: doc}
	res, err := p.conn(ctx).NewInsert().
		Model(row).
		On("CONFLICT (collection, id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("store: create %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", ErrAlreadyExists
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, patch Doc) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	rawPatch, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("store: encode patch %s/%s: %w", collection, id, err)
	}
	res, err := p.conn(ctx).NewUpdate().
		Model((*documentRow)(nil)).
		Set("data = d.data || ?::jsonb", string(rawPatch)).
		Set("updated_at = now()").
		Where("collection = ?", collection).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: update %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) BatchWrite(ctx context.Context, collection string, writes []Write) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	apply := func(ctx context.Context, db bun.IDB) error {
		for i, w := range writes {
			if strings.TrimSpace(w.ID) == "" {
				return fmt.Errorf("%w: batch write %d has no id", ErrInvalidQuery, i)
			}
			onConflict := "data = EXCLUDED.data"
			if w.Merge {
				onConflict = "data = d.data || EXCLUDED.data"
			}
			_, err := db.NewInsert().
				Model(&documentRow{Collection: collection, ID: w.ID, Data: w.Doc}).
				On("CONFLICT (collection, id) DO UPDATE").
				Set(onConflict).
				Set("updated_at = now()").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("store: batch write %s/%s: %w", collection, w.ID, err)
			}
		}
		return nil
	}

	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return apply(ctx, tx)
	}
	err := p.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return apply(ctx, tx)
	})
	if err != nil {
		return err
	}
	log.Debug().Str("collection", collection).Int("writes", len(writes)).Msg("postgres batch committed")
	return nil
}

func (p *Postgres) Exclusive(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	return p.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, key := range sorted {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", key); err != nil {
				return fmt.Errorf("store: advisory lock %q: %w", key, err)
			}
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
