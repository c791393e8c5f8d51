package store

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"farmassist/pkg/domain"
	"farmassist/pkg/kv"
)

// Clock returns the current time. Tests replace it to get stable IDs.
type Clock func() time.Time

// Option customizes the repositories.
type Option func(*base)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(b *base) { b.now = c }
}

// WithIntN overrides the random source used for farmer IDs.
func WithIntN(fn func(n int) int) Option {
	return func(b *base) { b.intn = fn }
}

type base struct {
	kv   kv.Store
	now  Clock
	intn func(n int) int
}

// Repositories bundles every entity repository over one record store.
type Repositories struct {
	Users   *Users
	Sensors *Sensors
	Vitals  *VitalsRepo
	Alerts  *Alerts
	Claims  *Claims
	Chats   *Chats
	Proofs  *Proofs
}

// New builds the repositories on top of records.
func New(records kv.Store, opts ...Option) *Repositories {
	b := &base{
		kv:   records,
		now:  func() time.Time { return time.Now().UTC() },
		intn: rand.IntN,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return &Repositories{
		Users:   &Users{b},
		Sensors: &Sensors{b},
		Vitals:  &VitalsRepo{b},
		Alerts:  &Alerts{b},
		Claims:  &Claims{b},
		Chats:   &Chats{b},
		Proofs:  &Proofs{b},
	}
}

func getJSON[T any](ctx context.Context, s kv.Store, key string) (T, bool, error) {
	var out T
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, &kv.StorageError{Op: "decode", Key: key, Err: err}
	}
	return out, true, nil
}

func listJSON[T any](ctx context.Context, s kv.Store, prefix string) ([]T, error) {
	values, err := s.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(values))
	for _, raw := range values {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &kv.StorageError{Op: "decode", Key: prefix, Err: err}
		}
		out = append(out, item)
	}
	return out, nil
}

func (b *base) exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.kv.Get(ctx, key)
	return ok, err
}

// uniqueID derives an ID from the clock and checks it is unused. On a
// collision it regenerates once from a later instant and gives up with a
// ConflictError if that one is taken too.
func (b *base) uniqueID(ctx context.Context, entity string, gen func(time.Time) string, key func(string) string) (string, time.Time, error) {
	now := b.now()
	id := gen(now)
	taken, err := b.exists(ctx, key(id))
	if err != nil {
		return "", now, err
	}
	if !taken {
		return id, now, nil
	}
	retry := b.now()
	if !retry.After(now) {
		retry = now.Add(time.Millisecond)
	}
	id = gen(retry)
	taken, err = b.exists(ctx, key(id))
	if err != nil {
		return "", now, err
	}
	if taken {
		return "", now, &domain.ConflictError{Message: entity + " id collision, retry the request"}
	}
	return id, retry, nil
}

// lastDigits returns the trailing n digits of the millisecond timestamp.
func lastDigits(t time.Time, n int) string {
	s := strconv.FormatInt(t.UnixMilli(), 10)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
