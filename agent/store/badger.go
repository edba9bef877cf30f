package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	docPrefix      = "d/"
	orderPrefix    = "o/"
	sequencePrefix = "s/"

	sequenceBandwidth = 100
	conflictRetries   = 3
)

type BadgerConfig struct {
	Dir      string `envconfig:"DIR" split_words:"true" default:"./data/records"`
	InMemory bool   `envconfig:"IN_MEMORY" split_words:"true" default:"false"`
}

// Badger is a Store backed by an embedded BadgerDB. Every write call runs in a
// single Badger transaction, and Exclusive relies on an in-process keyed
// mutex since the database is owned by one process.
type Badger struct {
	db     *badger.DB
	locks  *keyedMutex
	closed atomic.Bool

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

var _ Store = (*Badger)(nil)

// envelope is the stored value: insertion sequence plus document body.
type envelope struct {
	Seq  uint64         `msgpack:"seq"`
	Data map[string]any `msgpack:"data"`
}

func NewBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("store: badger dir is required for on-disk mode")
	}
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{
		db:    db,
		locks: newKeyedMutex(),
		seqs:  make(map[string]*badger.Sequence),
	}, nil
}

func (b *Badger) Get(_ context.Context, collection, id string) (Doc, error) {
	if err := b.check(collection); err != nil {
		return nil, err
	}
	var env envelope
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		env, err = readEnvelope(txn, docKey(collection, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return Doc(env.Data), nil
}

func (b *Badger) Query(_ context.Context, collection string, q Query) ([]Snapshot, error) {
	if err := b.check(collection); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	var out []Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(orderPrefix + collection + "/")
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rawID, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			id := string(rawID)
			env, err := readEnvelope(txn, docKey(collection, id))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			doc := Doc(env.Data)
			if !q.matches(doc) {
				continue
			}
			out = append(out, Snapshot{ID: id, Doc: doc})
			if q.Limit > 0 && len(out) >= q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Create(_ context.Context, collection, id string, doc Doc) (string, error) {
	if err := b.check(collection); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	seq, err := b.nextSeq(collection)
	if err != nil {
		return "", err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(docKey(collection, id))
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putNew(txn, collection, id, seq, doc)
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction wrote the same id first.
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *Badger) Update(_ context.Context, collection, id string, patch Doc) error {
	if err := b.check(collection); err != nil {
		return err
	}
	return b.retryConflicts(func(txn *badger.Txn) error {
		env, err := readEnvelope(txn, docKey(collection, id))
		if err != nil {
			return err
		}
		env.Data = merge(env.Data, patch)
		return putEnvelope(txn, docKey(collection, id), env)
	})
}

func (b *Badger) BatchWrite(_ context.Context, collection string, writes []Write) error {
	if err := b.check(collection); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	seqs := make([]uint64, len(writes))
	for i := range writes {
		if strings.TrimSpace(writes[i].ID) == "" {
			return fmt.Errorf("%w: batch write %d has no id", ErrInvalidQuery, i)
		}
		seq, err := b.nextSeq(collection)
		if err != nil {
			return err
		}
		seqs[i] = seq
	}

	err := b.retryConflicts(func(txn *badger.Txn) error {
		for i, w := range writes {
			key := docKey(collection, w.ID)
			env, err := readEnvelope(txn, key)
			switch {
			case errors.Is(err, ErrNotFound):
				if err := putNew(txn, collection, w.ID, seqs[i], w.Doc); err != nil {
					return err
				}
				continue
			case err != nil:
				return err
			}
			if w.Merge {
				env.Data = merge(env.Data, w.Doc)
			} else {
				env.Data = w.Doc
			}
			if err := putEnvelope(txn, key, env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Str("collection", collection).Int("writes", len(writes)).Msg("badger batch committed")
	return nil
}

func (b *Badger) Exclusive(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	release, err := b.locks.lock(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Close releases sequences and closes the database. Later calls on b fail
// with ErrClosed; closing twice is a no-op.
func (b *Badger) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.seqMu.Lock()
	for name, seq := range b.seqs {
		if err := seq.Release(); err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("release badger sequence")
		}
	}
	b.seqs = map[string]*badger.Sequence{}
	b.seqMu.Unlock()
	return b.db.Close()
}

func (b *Badger) check(collection string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return validateCollection(collection)
}

func (b *Badger) retryConflicts(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *Badger) nextSeq(collection string) (uint64, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	seq, ok := b.seqs[collection]
	if !ok {
		var err error
		seq, err = b.db.GetSequence([]byte(sequencePrefix+collection), sequenceBandwidth)
		if err != nil {
			return 0, fmt.Errorf("store: sequence for %s: %w", collection, err)
		}
		b.seqs[collection] = seq
	}
	return seq.Next()
}

func putNew(txn *badger.Txn, collection, id string, seq uint64, doc Doc) error {
	if err := putEnvelope(txn, docKey(collection, id), envelope{Seq: seq, Data: doc}); err != nil {
		return err
	}
	return txn.Set(orderKey(collection, seq), []byte(id))
}

func readEnvelope(txn *badger.Txn, key []byte) (envelope, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return envelope{}, ErrNotFound
	}
	if err != nil {
		return envelope{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("store: decode %s: %w", key, err)
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return env, nil
}

func putEnvelope(txn *badger.Txn, key []byte, env envelope) error {
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return txn.Set(key, raw)
}

func docKey(collection, id string) []byte {
	return []byte(docPrefix + collection + "/" + id)
}

// orderKey zero-pads the sequence so lexicographic order equals insertion order.
func orderKey(collection string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", orderPrefix, collection, seq))
}

type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	log.Error().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	log.Warn().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
