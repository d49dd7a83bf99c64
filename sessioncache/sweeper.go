package sessioncache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/projection"
	"go.uber.org/zap"
)

// SweepReason is the abandon reason recorded by the sweeper.
const SweepReason = "idle timeout"

// An Abandoner abandons a session. *ordersession.Service implements
// Abandoner.
type Abandoner interface {
	Abandon(ctx context.Context, id uuid.UUID, reason string, meta event.Metadata) error
}

// An IdleIndex lists the non-terminal sessions whose last activity is at or
// before a given time. *projection.SessionList implements IdleIndex.
type IdleIndex interface {
	IdleSince(t time.Time) []projection.SessionEntry
}

// A Sweeper periodically abandons idle sessions. Abandoning is idempotent on
// the aggregate, so multiple sweepers can run concurrently without double
// abandoning.
type Sweeper struct {
	sessions  IdleIndex
	abandoner Abandoner
	idleAfter time.Duration
	interval  time.Duration
	log       *zap.Logger
}

// SweeperOption is a Sweeper option.
type SweeperOption func(*Sweeper)

// SweepInterval returns a SweeperOption that sets how often the sweeper
// scans for idle sessions. Defaults to 1 minute.
func SweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = d
	}
}

// IdleAfter returns a SweeperOption that sets how long a session may stay
// inactive before it is abandoned. Defaults to 30 minutes.
func IdleAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.idleAfter = d
	}
}

// SweepLogger returns a SweeperOption that sets the logger of the sweeper.
func SweepLogger(log *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.log = log
	}
}

// NewSweeper returns an idle session sweeper.
func NewSweeper(sessions IdleIndex, abandoner Abandoner, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		sessions:  sessions,
		abandoner: abandoner,
		idleAfter: 30 * time.Minute,
		interval:  time.Minute,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep abandons every session that has been idle for at least the
// configured duration. Failures are logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.idleAfter)

	for _, entry := range s.sessions.IdleSince(cutoff) {
		meta := event.Metadata{CauserID: "sweeper"}
		if err := s.abandoner.Abandon(ctx, entry.ID, SweepReason, meta); err != nil {
			s.log.Warn("abandon idle session",
				zap.String("sessionId", entry.ID.String()),
				zap.Error(err),
			)
			continue
		}
		s.log.Info("abandoned idle session",
			zap.String("sessionId", entry.ID.String()),
			zap.Time("lastActivityAt", entry.LastActivityAt),
		)
	}
}
