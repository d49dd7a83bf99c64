package sessioncache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/projection"
	"github.com/jpkontreras/orderflow/sessioncache"
	"github.com/stretchr/testify/assert"
)

type fakeIndex struct {
	entries []projection.SessionEntry
}

func (f *fakeIndex) IdleSince(t time.Time) []projection.SessionEntry {
	var out []projection.SessionEntry
	for _, entry := range f.entries {
		if !entry.LastActivityAt.After(t) {
			out = append(out, entry)
		}
	}
	return out
}

type fakeAbandoner struct {
	abandoned []uuid.UUID
	reasons   []string
	fail      map[uuid.UUID]error
}

func (f *fakeAbandoner) Abandon(_ context.Context, id uuid.UUID, reason string, _ event.Metadata) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	f.abandoned = append(f.abandoned, id)
	f.reasons = append(f.reasons, reason)
	return nil
}

func TestSweeper_Sweep(t *testing.T) {
	idle := projection.SessionEntry{ID: uuid.New(), Status: "cart_building", LastActivityAt: time.Now().Add(-time.Hour)}
	fresh := projection.SessionEntry{ID: uuid.New(), Status: "cart_building", LastActivityAt: time.Now()}

	index := &fakeIndex{entries: []projection.SessionEntry{idle, fresh}}
	abandoner := &fakeAbandoner{}

	sweeper := sessioncache.NewSweeper(index, abandoner, sessioncache.IdleAfter(30*time.Minute))
	sweeper.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{idle.ID}, abandoner.abandoned, "only the idle session should be abandoned")
	assert.Equal(t, []string{sessioncache.SweepReason}, abandoner.reasons)
}

func TestSweeper_continuesAfterFailure(t *testing.T) {
	a := projection.SessionEntry{ID: uuid.New(), LastActivityAt: time.Now().Add(-time.Hour)}
	b := projection.SessionEntry{ID: uuid.New(), LastActivityAt: time.Now().Add(-time.Hour)}

	index := &fakeIndex{entries: []projection.SessionEntry{a, b}}
	abandoner := &fakeAbandoner{fail: map[uuid.UUID]error{a.ID: errors.New("boom")}}

	sweeper := sessioncache.NewSweeper(index, abandoner, sessioncache.IdleAfter(30*time.Minute))
	sweeper.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{b.ID}, abandoner.abandoned, "the sweep should continue past a failing session")
}
