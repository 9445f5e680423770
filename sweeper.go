package identity

import (
	"context"
	"time"
)

// DefaultSweepInterval is the reference cleanup cadence.
var DefaultSweepInterval = 24 * time.Hour

// Sweeper reclaims expired session and proof-token rows. Deletion criteria
// are purely time-based, so sweeps are safe to run concurrently with live
// traffic: a non-expired row is never touched, revoked or not.
type Sweeper struct {
	sessions SessionStore
	proofs   ProofTokenStore
	interval time.Duration
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewSweeper will create a new Sweeper.
func NewSweeper(sessions SessionStore, proofs ProofTokenStore) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		proofs:   proofs,
		interval: DefaultSweepInterval,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (s *Sweeper) WithLogger(logger Logger) *Sweeper {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink sets the sink used to report completed sweeps.
func (s *Sweeper) WithActivitySink(sink ActivitySink) *Sweeper {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithInterval overrides the sweep cadence.
func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	if clock != nil {
		s.now = clock
	}
	return s
}

// SweepExpiredSessions deletes sessions whose expiry has passed, regardless
// of revoked state.
func (s *Sweeper) SweepExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

// SweepExpiredProofTokens deletes proof tokens whose expiry has passed,
// consumed or not.
func (s *Sweeper) SweepExpiredProofTokens(ctx context.Context) (int64, error) {
	return s.proofs.DeleteExpired(ctx, s.now())
}

// Sweep runs both reclamations once and reports counts. Partial failure
// still attempts the other store; errors are logged and retried on the
// next scheduled run, never fatal.
func (s *Sweeper) Sweep(ctx context.Context) (sessions, proofs int64) {
	var err error

	if sessions, err = s.SweepExpiredSessions(ctx); err != nil {
		s.logger.Error("failed to sweep expired sessions: %v", err)
	}

	if proofs, err = s.SweepExpiredProofTokens(ctx); err != nil {
		s.logger.Error("failed to sweep expired proof tokens: %v", err)
	}

	event := ActivityEvent{
		EventType: ActivityEventMaintenanceSweep,
		Actor:     ActorRef{Type: "system"},
		Metadata: map[string]any{
			"sessions_deleted":     sessions,
			"proof_tokens_deleted": proofs,
		},
		OccurredAt: s.now(),
	}
	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}

	return sessions, proofs
}

// Run sweeps on the configured cadence until the context is cancelled.
// Also invocable on demand through Sweep.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
