package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	storex "github.com/tanpawarit/chative-crm-agent/agent/store"
)

// Repository wraps a Store with the typed collections used by the agent.
type Repository struct {
	store storex.Store
	now   func() time.Time
}

type Option func(*Repository)

// WithClock overrides the time source used for timestamps and seed dates.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRepository(store storex.Store, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	r := &Repository{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Repository) Store() storex.Store { return r.store }

func (r *Repository) Now() time.Time { return r.now().UTC() }

/* ------------------------------- Schedule ------------------------------- */

func (r *Repository) SlotsOn(ctx context.Context, date string) ([]ScheduleSlot, error) {
	return list[ScheduleSlot](ctx, r.store, CollectionSchedule, storex.Where("date", storex.OpEqual, date))
}

/* ------------------------------- Catalog -------------------------------- */

func (r *Repository) Products(ctx context.Context) ([]Product, error) {
	return list[Product](ctx, r.store, CollectionProducts, storex.Query{})
}

// Invoices returns up to limit invoices whose status equals status ignoring
// case. An empty status or "all" matches every invoice.
func (r *Repository) Invoices(ctx context.Context, status string, limit int) ([]Invoice, error) {
	all, err := list[Invoice](ctx, r.store, CollectionInvoices, storex.Query{})
	if err != nil {
		return nil, err
	}
	status = strings.TrimSpace(status)
	matchAll := status == "" || strings.EqualFold(status, "all")

	out := make([]Invoice, 0, min(len(all), max(limit, 0)))
	for _, inv := range all {
		if !matchAll && !strings.EqualFold(strings.TrimSpace(inv.Status), status) {
			continue
		}
		out = append(out, inv)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *Repository) Knowledge(ctx context.Context) ([]KnowledgeArticle, error) {
	return list[KnowledgeArticle](ctx, r.store, CollectionKnowledge, storex.Query{})
}

/* ------------------------------- Quotes --------------------------------- */

// CreateQuote persists q under a generated id and returns it.
func (r *Repository) CreateQuote(ctx context.Context, q Quote) (string, error) {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = r.Now()
	}
	q.ID = ""
	doc, err := storex.Encode(q)
	if err != nil {
		return "", err
	}
	return r.store.Create(ctx, CollectionQuotes, "", doc)
}

func (r *Repository) Quote(ctx context.Context, id string) (Quote, error) {
	return get[Quote](ctx, r.store, CollectionQuotes, id)
}

/* ------------------------------- People --------------------------------- */

func (r *Repository) Client(ctx context.Context, id string) (Client, error) {
	return get[Client](ctx, r.store, CollectionClients, id)
}

func (r *Repository) TeamMember(ctx context.Context, id string) (TeamMember, error) {
	return get[TeamMember](ctx, r.store, CollectionTeam, id)
}

/* -------------------------------- Audit --------------------------------- */

func (r *Repository) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.Now()
	}
	if e.Source == "" {
		e.Source = AuditSourceAI
	}
	e.ID = ""
	doc, err := storex.Encode(e)
	if err != nil {
		return err
	}
	_, err = r.store.Create(ctx, CollectionAudit, "", doc)
	return err
}

// AuditLog returns the most recent limit entries, newest first.
func (r *Repository) AuditLog(ctx context.Context, limit int) ([]AuditEntry, error) {
	all, err := list[AuditEntry](ctx, r.store, CollectionAudit, storex.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

/* ------------------------------- helpers -------------------------------- */

type identified[T any] interface {
	*T
	setID(string)
}

func list[T any, P identified[T]](ctx context.Context, s storex.Store, collection string, q storex.Query) ([]T, error) {
	snaps, err := s.Query(ctx, collection, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := storex.Decode(snap.Doc, P(&v)); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, snap.ID, err)
		}
		P(&v).setID(snap.ID)
		out = append(out, v)
	}
	return out, nil
}

func get[T any, P identified[T]](ctx context.Context, s storex.Store, collection, id string) (T, error) {
	var v T
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return v, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := storex.Decode(doc, P(&v)); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	P(&v).setID(id)
	return v, nil
}
