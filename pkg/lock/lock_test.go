package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/brainrt/pkg/metrics"
)

type fakeTarget struct {
	id    uint64
	locks [NumLevels]sync.RWMutex
}

func (f *fakeTarget) LockID() uint64                  { return f.id }
func (f *fakeTarget) Mutex(level Level) *sync.RWMutex { return &f.locks[level] }

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	a := &fakeTarget{id: 7}
	b := &fakeTarget{id: 3}

	t.Run("sorts by id then level", func(t *testing.T) {
		got := Normalize(Set{
			{Target: a, Level: LinksIn},
			{Target: b, Level: Info},
			{Target: b, Level: LinksOut},
		})
		require.Len(t, got, 3)
		assert.Equal(t, uint64(3), got[0].Target.LockID())
		assert.Equal(t, LinksOut, got[0].Level)
		assert.Equal(t, Info, got[1].Level)
		assert.Equal(t, uint64(7), got[2].Target.LockID())
	})

	t.Run("merges duplicates write wins", func(t *testing.T) {
		got := Normalize(Set{
			{Target: a, Level: LinksOut},
			{Target: a, Level: LinksOut, Write: true},
		})
		require.Len(t, got, 1)
		assert.True(t, got[0].Write)
	})

	t.Run("drops nil targets and bad levels", func(t *testing.T) {
		got := Normalize(Set{
			{Target: nil, Level: LinksOut},
			{Target: a, Level: NumLevels},
			{Target: a, Level: Children},
		})
		require.Len(t, got, 1)
		assert.Equal(t, Children, got[0].Level)
	})

	t.Run("distinct unregistered targets are kept", func(t *testing.T) {
		x, y := &fakeTarget{}, &fakeTarget{}
		got := Normalize(Set{{Target: x, Level: LinksIn}, {Target: y, Level: LinksIn}})
		assert.Len(t, got, 2)
	})
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_ReadersShare(t *testing.T) {
	mgr := NewManager(nil)
	n := &fakeTarget{id: 1}

	mgr.RequestLock(n, LinksOut, false)
	defer mgr.ReleaseLock(n, LinksOut, false)

	acquired := make(chan struct{})
	go func() {
		mgr.RequestLock(n, LinksOut, false)
		close(acquired)
		mgr.ReleaseLock(n, LinksOut, false)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind first reader")
	}
}

func TestManager_WriterExcludesReaders(t *testing.T) {
	mgr := NewManager(nil)
	n := &fakeTarget{id: 1}

	mgr.RequestLock(n, LinksOut, true)

	acquired := make(chan struct{})
	go func() {
		mgr.RequestLock(n, LinksOut, false)
		close(acquired)
		mgr.ReleaseLock(n, LinksOut, false)
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(50 * time.Millisecond):
	}

	mgr.ReleaseLock(n, LinksOut, true)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer released")
	}
}

func TestManager_OverlappingSetsDoNotDeadlock(t *testing.T) {
	mgr := NewManager(metrics.NewCollector("locktest"))
	a := &fakeTarget{id: 1}
	b := &fakeTarget{id: 2}

	var wg sync.WaitGroup
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				// Alternate the request order; normalisation makes it irrelevant.
				set := Set{
					{Target: a, Level: LinksOut, Write: true},
					{Target: b, Level: LinksIn, Write: true},
				}
				if g%2 == 1 {
					set[0], set[1] = set[1], set[0]
				}
				held := mgr.RequestLocks(set)
				mgr.ReleaseLocks(held)
			}
		}(g)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("overlapping lock sets deadlocked")
	}
	assert.Equal(t, uint64(8*500*2), mgr.Stats().Writes)
}

func TestManager_NilTargetIsNoop(t *testing.T) {
	mgr := NewManager(nil)
	assert.NotPanics(t, func() {
		mgr.RequestLock(nil, LinksIn, true)
		mgr.ReleaseLock(nil, LinksIn, true)
		held := mgr.RequestLocks(Set{{Target: nil, Level: Info}})
		mgr.ReleaseLocks(held)
	})
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "links_out", LinksOut.String())
	assert.Equal(t, "level(9)", Level(9).String())
}
