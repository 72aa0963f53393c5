// Package store holds the volatile key/value mapping mutated by the pipeline.
//
// A Store is not safe for concurrent use. It is meant to be owned by exactly
// one goroutine for its whole lifetime; other goroutines reach it only by
// sending commands to that owner.
package store

import (
	"errors"
	"fmt"
	"maps"

	"github.com/fluxorio/kvpipe/pkg/command"
)

// ErrKeyNotFound is returned by Get and Delete for a missing key
var ErrKeyNotFound = errors.New("key not found")

// Result describes a successful operation
type Result struct {
	Kind  command.Kind
	Key   string
	Value string // stored, read or removed value
}

func (r Result) String() string {
	switch r.Kind {
	case command.KindSet:
		return fmt.Sprintf("SET %s = %s", r.Key, r.Value)
	case command.KindGet:
		return fmt.Sprintf("GET %s = %s", r.Key, r.Value)
	case command.KindDelete:
		return fmt.Sprintf("DELETED %s (was: %s)", r.Key, r.Value)
	default:
		return fmt.Sprintf("%s %s", r.Kind, r.Key)
	}
}

// MissError carries the key of a failed lookup and wraps ErrKeyNotFound
type MissError struct {
	Kind command.Kind
	Key  string
}

func (e *MissError) Error() string { return fmt.Sprintf("key %q not found", e.Key) }

func (e *MissError) Unwrap() error { return ErrKeyNotFound }

type Store struct {
	kv map[string]string
}

func New() *Store {
	return &Store{kv: make(map[string]string)}
}

// Set inserts or overwrites key
func (s *Store) Set(key, value string) Result {
	s.kv[key] = value
	return Result{Kind: command.KindSet, Key: key, Value: value}
}

func (s *Store) Get(key string) (Result, error) {
	v, ok := s.kv[key]
	if !ok {
		return Result{}, &MissError{Kind: command.KindGet, Key: key}
	}
	return Result{Kind: command.KindGet, Key: key, Value: v}, nil
}

// Delete removes key and reports the value it held
func (s *Store) Delete(key string) (Result, error) {
	v, ok := s.kv[key]
	if !ok {
		return Result{}, &MissError{Kind: command.KindDelete, Key: key}
	}
	delete(s.kv, key)
	return Result{Kind: command.KindDelete, Key: key, Value: v}, nil
}

// Apply executes cmd against the store
func (s *Store) Apply(cmd command.Command) (Result, error) {
	switch cmd.Kind {
	case command.KindSet:
		return s.Set(cmd.Key, cmd.Value), nil
	case command.KindGet:
		return s.Get(cmd.Key)
	case command.KindDelete:
		return s.Delete(cmd.Key)
	default:
		return Result{}, fmt.Errorf("unsupported command kind %d", cmd.Kind)
	}
}

func (s *Store) Len() int { return len(s.kv) }

// Snapshot returns a copy of the current contents
func (s *Store) Snapshot() map[string]string {
	return maps.Clone(s.kv)
}
