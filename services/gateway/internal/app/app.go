package app

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"farmassist/pkg/ai"
	"farmassist/pkg/kv"
	"farmassist/pkg/market"
	"farmassist/pkg/queue"
	"farmassist/pkg/storage"
	"farmassist/pkg/store"
)

// Sessions issues and verifies login tokens.
type Sessions interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, error)
}

// PriceSource is the commodity price API.
type PriceSource interface {
	Prices(ctx context.Context, f market.Filter) (market.Prices, error)
	States(ctx context.Context) ([]string, error)
}

// ProofQueue defers proof anchoring to a background worker.
type ProofQueue interface {
	Enqueue(ctx context.Context, userID, claimID string) (queue.ProofJob, error)
}

// Recorder receives outcome counts for metrics.
type Recorder interface {
	UpstreamCall(service string, err error)
	ProofAnchored(outcome string)
}

// Config holds the collaborators of the application core. Records and
// Sessions are required; everything else is optional.
type Config struct {
	Records   kv.Store
	Sessions  Sessions
	Prices    PriceSource
	Generator ai.AnswerGenerator
	Objects   storage.ObjectStore
	Proofs    ProofQueue
	Recorder  Recorder

	// ProofURLExpiry bounds presigned manifest download links.
	ProofURLExpiry time.Duration
	// Now and Float replace the clock and the [0, 1) random source in tests.
	Now   func() time.Time
	Float func() float64
}

// App implements the farm assistant use cases on top of the repositories.
type App struct {
	repos     *store.Repositories
	sessions  Sessions
	prices    PriceSource
	generator ai.AnswerGenerator
	objects   storage.ObjectStore
	proofs    ProofQueue
	recorder  Recorder
	urlExpiry time.Duration
	now       func() time.Time
	float     func() float64
}

// New wires the application core.
func New(cfg Config) (*App, error) {
	if cfg.Records == nil {
		return nil, errors.New("record store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	a := &App{
		repos:     store.New(cfg.Records, store.WithClock(now)),
		sessions:  cfg.Sessions,
		prices:    cfg.Prices,
		generator: cfg.Generator,
		objects:   cfg.Objects,
		proofs:    cfg.Proofs,
		recorder:  cfg.Recorder,
		urlExpiry: cfg.ProofURLExpiry,
		now:       now,
		float:     cfg.Float,
	}
	if a.urlExpiry <= 0 {
		a.urlExpiry = 15 * time.Minute
	}
	if a.float == nil {
		a.float = rand.Float64
	}
	if a.recorder == nil {
		a.recorder = nopRecorder{}
	}
	if a.generator == nil {
		slog.Warn("answer generator not configured; /chat/advisor will return 503")
	}
	return a, nil
}

type nopRecorder struct{}

func (nopRecorder) UpstreamCall(string, error) {}
func (nopRecorder) ProofAnchored(string)       {}
