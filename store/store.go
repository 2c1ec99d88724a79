// Package store persists finalized utterance results in BadgerDB.
//
// Results are keyed by session and by a time-ordered utterance id, so
// listing a session's prefix returns its utterances in the order they were
// finalized.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no result has the requested id.
var ErrNotFound = errors.New("store: not found")

const (
	resultPrefix = "result/"
	indexPrefix  = "id/"
)

// Arc is one word arc of a posterior lattice.
type Arc struct {
	From      int     `msgpack:"from" json:"from" yaml:"from"`
	To        int     `msgpack:"to" json:"to" yaml:"to"`
	Word      string  `msgpack:"word" json:"word" yaml:"word"`
	Posterior float64 `msgpack:"posterior" json:"posterior" yaml:"posterior"`
}

// Result is one finalized utterance.
type Result struct {
	ID              string    `msgpack:"id" json:"id" yaml:"id"`
	Session         string    `msgpack:"session" json:"session" yaml:"session"`
	Text            string    `msgpack:"text" json:"text" yaml:"text"`
	Words           []string  `msgpack:"words" json:"words" yaml:"words"`
	Cost            float64   `msgpack:"cost" json:"cost" yaml:"cost"`
	TotalLikelihood float64   `msgpack:"total_likelihood" json:"total_likelihood" yaml:"total_likelihood"`
	Frames          int       `msgpack:"frames" json:"frames" yaml:"frames"`
	EndpointRule    int       `msgpack:"endpoint_rule,omitempty" json:"endpoint_rule,omitempty" yaml:"endpoint_rule,omitempty"`
	Arcs            []Arc     `msgpack:"arcs,omitempty" json:"arcs,omitempty" yaml:"arcs,omitempty"`
	CreatedAt       time.Time `msgpack:"created_at" json:"created_at" yaml:"created_at"`
}

// Options configures a Store.
type Options struct {
	// Dir is the directory for BadgerDB files. Required unless InMemory.
	Dir string
	// InMemory keeps everything in memory.
	InMemory bool
	// ReadOnly opens an existing database without write access.
	ReadOnly bool
	Logger   zerolog.Logger
}

// Store is a result store backed by BadgerDB.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{opts.Logger}).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Dir, err)
	}
	return &Store{db: db, log: opts.Logger, now: time.Now}, nil
}

func resultKey(session, id string) []byte {
	return []byte(resultPrefix + session + "/" + id)
}

// Put stores r. An empty ID is filled with a new time-ordered id and an
// unset CreatedAt with the current time. It returns the stored id.
func (s *Store) Put(_ context.Context, r Result) (string, error) {
	if strings.Contains(r.Session, "/") {
		return "", fmt.Errorf("store: session %q contains '/'", r.Session)
	}
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("store: new id: %w", err)
		}
		r.ID = id.String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	val, err := msgpack.Marshal(&r)
	if err != nil {
		return "", fmt.Errorf("store: encode result: %w", err)
	}
	key := resultKey(r.Session, r.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+r.ID), key)
	})
	if err != nil {
		return "", fmt.Errorf("store: put %s: %w", r.ID, err)
	}
	s.log.Debug().Str("id", r.ID).Str("session", r.Session).Msg("result stored")
	return r.ID, nil
}

// Get returns the result with the given id.
func (s *Store) Get(_ context.Context, id string) (Result, error) {
	var r Result
	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(indexPrefix + id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("store: get %s: %w", id, err)
	}
	return r, nil
}

// List iterates over the results of session in the order they were
// stored, or over every result when session is empty.
func (s *Store) List(_ context.Context, session string) iter.Seq2[Result, error] {
	prefix := []byte(resultPrefix)
	if session != "" {
		prefix = []byte(resultPrefix + session + "/")
	}
	return func(yield func(Result, error) bool) {
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var r Result
				err := it.Item().Value(func(val []byte) error {
					return msgpack.Unmarshal(val, &r)
				})
				if err != nil {
					err = fmt.Errorf("store: decode %s: %w", it.Item().Key(), err)
				}
				if !yield(r, err) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Result{}, fmt.Errorf("store: list: %w", err))
		}
	}
}

// Delete removes the result with the given id. Deleting a missing id is
// not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(indexPrefix + id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete([]byte(indexPrefix + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's own messages to zerolog, dropping info and
// debug chatter.
type badgerLogger struct{ l zerolog.Logger }

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error().Msgf(strings.TrimSpace(f), v...) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn().Msgf(strings.TrimSpace(f), v...) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
