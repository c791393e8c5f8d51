// Package kv is the flat key-value record store every entity is persisted in.
//
// Values are JSON documents. Keys follow the "<entity>:<ownerId>:<entityId>"
// convention and ListByPrefix is the only listing primitive.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Store is the record store contract shared by all backends.
type Store interface {
	// Get returns the stored document and true, or nil and false when the key is absent.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Set encodes value as JSON and overwrites whatever is stored under key.
	Set(ctx context.Context, key string, value any) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// ListByPrefix returns every document whose key starts with prefix, ordered by key.
	ListByPrefix(ctx context.Context, prefix string) ([]json.RawMessage, error)
	Close() error
}

// StorageError reports a failure of the underlying storage.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kv %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kv %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	Namespace     string
	DatabaseURL   string
}

// Open builds the backend named by opts.Backend. An empty backend means memory.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.Namespace)
	case BackendPostgres:
		return NewGormStore(opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func encode(key string, value any) ([]byte, error) {
	if value == nil {
		return nil, storageErr("set", key, errors.New("nil value"))
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, storageErr("encode", key, err)
	}
	return data, nil
}
