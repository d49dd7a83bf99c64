package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/jpkontreras/orderflow/event/eventbus"
	"github.com/jpkontreras/orderflow/event/eventlog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// A Projector keeps a set of projections up to date with the event log. It
// catches every projection up from its own checkpoint, so a projection that
// was offline resumes where it left off and a freshly added one replays the
// whole log.
//
// Projections fail independently: an error in one projection stops advancing
// that projection's checkpoint but never the others. The failing projection
// retries on the next run.
type Projector struct {
	log         eventlog.Log
	checkpoints CheckpointStore
	projections []Projection
	bus         eventbus.Bus
	wakeNames   []string
	interval    time.Duration
	batchSize   int
	logger      *zap.Logger
}

// ProjectorOption is a Projector option.
type ProjectorOption func(*Projector)

// WithBus returns a ProjectorOption that additionally wakes the projector
// whenever one of the given event names is published, instead of waiting for
// the next polling interval.
func WithBus(bus eventbus.Bus, names ...string) ProjectorOption {
	return func(p *Projector) {
		p.bus = bus
		p.wakeNames = names
	}
}

// WithInterval returns a ProjectorOption that sets the polling interval of
// the projector. Defaults to 3 seconds.
func WithInterval(d time.Duration) ProjectorOption {
	return func(p *Projector) {
		p.interval = d
	}
}

// WithBatchSize returns a ProjectorOption that sets how many events are read
// from the log per batch. Defaults to 100.
func WithBatchSize(n int) ProjectorOption {
	return func(p *Projector) {
		p.batchSize = n
	}
}

// WithLogger returns a ProjectorOption that sets the logger of the
// projector.
func WithLogger(logger *zap.Logger) ProjectorOption {
	return func(p *Projector) {
		p.logger = logger
	}
}

// NewProjector returns a Projector that applies events from the given log to
// the given projections.
func NewProjector(log eventlog.Log, checkpoints CheckpointStore, projections []Projection, opts ...ProjectorOption) *Projector {
	p := &Projector{
		log:         log,
		checkpoints: checkpoints,
		projections: projections,
		interval:    3 * time.Second,
		batchSize:   100,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run catches the projections up and keeps them up to date until ctx is
// canceled.
func (p *Projector) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)

	g, ctx := errgroup.WithContext(ctx)

	if p.bus != nil {
		events, err := p.bus.Subscribe(ctx, p.wakeNames...)
		if err != nil {
			return fmt.Errorf("subscribe for wake-ups: %w", err)
		}
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case _, ok := <-events:
					if !ok {
						return nil
					}
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.CatchUp(ctx)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			case <-wake:
			}
			p.CatchUp(ctx)
		}
	})

	return g.Wait()
}

// CatchUp applies every new event of the log to every projection, advancing
// the checkpoints. Projections fail independently.
func (p *Projector) CatchUp(ctx context.Context) {
	for _, proj := range p.projections {
		if err := p.catchUpOne(ctx, proj); err != nil {
			p.logger.Warn("projection catch-up failed",
				zap.String("projection", proj.Name()),
				zap.Error(err),
			)
		}
	}
}

func (p *Projector) catchUpOne(ctx context.Context, proj Projection) error {
	pos, err := p.checkpoints.Load(ctx, proj.Name())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	for {
		batch, err := p.log.ReadAll(ctx, pos, p.batchSize)
		if err != nil {
			return fmt.Errorf("read log after %d: %w", pos, err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, stored := range batch {
			if err := proj.ApplyEvent(stored.Event); err != nil {
				return fmt.Errorf("apply %q at %d: %w", stored.Event.Name(), stored.GlobalPos, err)
			}
			pos = stored.GlobalPos
		}

		if err := p.checkpoints.Save(ctx, proj.Name(), pos); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
}

// Rebuild resets every projection and replays the whole log into it from
// position zero.
func (p *Projector) Rebuild(ctx context.Context) error {
	for _, proj := range p.projections {
		if err := proj.Reset(); err != nil {
			return fmt.Errorf("reset %q: %w", proj.Name(), err)
		}
		if err := p.checkpoints.Save(ctx, proj.Name(), 0); err != nil {
			return fmt.Errorf("reset checkpoint of %q: %w", proj.Name(), err)
		}
		if err := p.catchUpOne(ctx, proj); err != nil {
			return fmt.Errorf("rebuild %q: %w", proj.Name(), err)
		}
	}
	return nil
}
