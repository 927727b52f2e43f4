package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numamon/numamon/pkg/guest"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	require.NoError(t, e.Alloc(4, 4))
	e.Init()
	require.NoError(t, e.ParamLists(10, 10, 4, 100))
	e.ParamEngine(8, 75, false)
	return e
}

func TestEngineAllocRejectsNonPositiveCapacity(t *testing.T) {
	e := New()
	assert.ErrorIs(t, e.Alloc(0, 4), ErrResourceExhausted)
	assert.ErrorIs(t, e.Alloc(4, 0), ErrResourceExhausted)
}

func TestEngineParamListsRejectsEnterAboveMaximum(t *testing.T) {
	e := newTestEngine(t)
	assert.Error(t, e.ParamLists(200, 10, 4, 100))
}

func TestEngineRefillAndRegisterMoved(t *testing.T) {
	e := newTestEngine(t)
	// ParamLists sets no separate promotion threshold, so the entry is
	// promoted when its score reaches Maximum (100) on the 10th access,
	// with node 0 counted once; 7 more accesses bring node 0's count to
	// MinNodeScore (8).
	for i := 0; i < 17; i++ {
		e.RegisterAccess(1, 0)
	}
	home := func(guest.MFN) guest.NodeID { return 9 }
	buf := e.RefillMigrationBuffer(home)
	require.Len(t, buf, 1)
	assert.Equal(t, guest.MFN(1), buf[0].MFN)

	e.RegisterPageMoved(1)
	buf = e.RefillMigrationBuffer(home)
	assert.Empty(t, buf)
}

func TestEngineFreeClearsState(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterAccess(1, 0)
	e.Free()
	tracked, candidate := e.TierCounts()
	assert.Zero(t, tracked)
	assert.Zero(t, candidate)
}
