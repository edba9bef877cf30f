// Package store is the record store adapter: a small document-database
// contract (get, query, create, update, atomic batch write, keyed exclusion)
// with an embedded Badger backend and a Postgres backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("store: document not found")
	ErrAlreadyExists = errors.New("store: document already exists")
	ErrClosed        = errors.New("store: closed")
	ErrInvalidQuery  = errors.New("store: invalid query")
)

// Doc is a schemaless document body.
type Doc map[string]any

// Snapshot is a document together with its id.
type Snapshot struct {
	ID  string
	Doc Doc
}

type Op string

const (
	OpAll      Op = ""
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
)

// Query selects documents of one collection. Results keep store insertion order.
type Query struct {
	Field string
	Op    Op
	Value any
	Limit int
}

func Where(field string, op Op, value any) Query {
	return Query{Field: field, Op: op, Value: value}
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

func (q Query) validate() error {
	switch q.Op {
	case OpAll:
		return nil
	case OpEqual, OpNotEqual:
		if strings.TrimSpace(q.Field) == "" {
			return fmt.Errorf("%w: field is required for op %q", ErrInvalidQuery, q.Op)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported op %q", ErrInvalidQuery, q.Op)
	}
}

// matches compares field values by their printed form so that numbers decoded
// by different codecs still compare equal.
func (q Query) matches(doc Doc) bool {
	if q.Op == OpAll {
		return true
	}
	v, ok := doc[q.Field]
	equal := ok && fmt.Sprint(v) == fmt.Sprint(q.Value)
	if q.Op == OpEqual {
		return equal
	}
	return !equal
}

// Write is one entry of an atomic batch. Merge patches an existing document
// instead of replacing it.
type Write struct {
	ID    string
	Doc   Doc
	Merge bool
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	// Create inserts doc under id, generating one when id is empty. It fails with
	// ErrAlreadyExists when id is taken, which makes it a conditional write.
	Create(ctx context.Context, collection, id string, doc Doc) (string, error)
	Update(ctx context.Context, collection, id string, patch Doc) error
	// BatchWrite applies every write or none of them.
	BatchWrite(ctx context.Context, collection string, writes []Write) error
	// Exclusive runs fn while holding every key. Holders of an overlapping key
	// never run concurrently.
	Exclusive(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
	Close() error
}

// Encode converts a typed record into a Doc using its JSON shape.
func Encode(v any) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode document: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: encode document: %w", err)
	}
	return doc, nil
}

// Decode fills dst from a Doc using its JSON shape.
func Decode(doc Doc, dst any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: decode document: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("store: decode document: %w", err)
	}
	return nil
}

func merge(base Doc, patch Doc) Doc {
	out := make(Doc, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func validateCollection(collection string) error {
	if strings.TrimSpace(collection) == "" || strings.ContainsAny(collection, "/:") {
		return fmt.Errorf("%w: invalid collection %q", ErrInvalidQuery, collection)
	}
	return nil
}
