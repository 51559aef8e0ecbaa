package run

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBeginAndEnd(t *testing.T) {
	reg := NewRegistry(nil)

	r, runCtx, err := reg.Begin(context.Background(), "session-1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "session-1", r.SessionKey)
	assert.True(t, reg.Active("session-1"))
	assert.NoError(t, runCtx.Err())

	reg.End(r)
	assert.False(t, reg.Active("session-1"))
	assert.Error(t, runCtx.Err())
}

func TestRegistryRejectsSecondRunForSameSession(t *testing.T) {
	reg := NewRegistry(nil)

	r, _, err := reg.Begin(context.Background(), "session-1")
	require.NoError(t, err)
	defer reg.End(r)

	_, _, err = reg.Begin(context.Background(), "session-1")
	assert.ErrorIs(t, err, ErrRunActive)

	// A different session is unaffected.
	r2, _, err := reg.Begin(context.Background(), "session-2")
	require.NoError(t, err)
	reg.End(r2)
}

func TestRegistryConcurrentBeginAdmitsExactlyOne(t *testing.T) {
	reg := NewRegistry(nil)

	var admitted, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := reg.Begin(context.Background(), "contended"); err == nil {
				atomic.AddInt32(&admitted, 1)
			} else {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted)
	assert.Equal(t, int32(31), rejected)
}

func TestRegistryCancelSignalsRunContext(t *testing.T) {
	reg := NewRegistry(nil)

	r, runCtx, err := reg.Begin(context.Background(), "session-1")
	require.NoError(t, err)

	found := reg.Cancel("session-1")
	assert.True(t, found)
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)

	// The run stays registered until it unwinds and calls End itself.
	assert.True(t, reg.Active("session-1"))
	reg.End(r)
	assert.False(t, reg.Active("session-1"))
}

func TestRegistryCancelUnknownSession(t *testing.T) {
	reg := NewRegistry(nil)
	assert.False(t, reg.Cancel("nope"))
}

func TestRegistryEndIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)

	r, _, err := reg.Begin(context.Background(), "session-1")
	require.NoError(t, err)

	reg.End(r)
	reg.End(r) // must not panic or disturb a successor run

	r2, _, err := reg.Begin(context.Background(), "session-1")
	require.NoError(t, err)

	// Ending the stale first run must not remove the new one.
	reg.End(r)
	assert.True(t, reg.Active("session-1"))
	reg.End(r2)
}

func TestRegistryRunContextInheritsParent(t *testing.T) {
	reg := NewRegistry(nil)

	parent, cancel := context.WithCancel(context.Background())
	_, runCtx, err := reg.Begin(parent, "session-1")
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}
