package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/trackerbridge/internal/session"
)

func TestGuardTripAndUnblock(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, session.WonkyCookieKey, "sid=1"))

	var reasons []Reason
	unblocked := 0
	g := New(Options{
		Store:     store,
		OnTrip:    func(r Reason) { reasons = append(reasons, r) },
		OnUnblock: func() { unblocked++ },
	})

	assert.False(t, g.IsBlocked())
	assert.NoError(t, g.Allow(false))

	g.Trip(ReasonAuthFailure)

	assert.True(t, g.IsBlocked())
	assert.ErrorIs(t, g.Allow(false), ErrBlocked)
	assert.Equal(t, []Reason{ReasonAuthFailure}, reasons)

	_, ok, _ := store.Get(ctx, session.BlockAccessKey)
	assert.True(t, ok, "trip must persist the flag")
	_, ok, _ = store.Get(ctx, session.WonkyCookieKey)
	assert.False(t, ok, "trip must clear the cached cookie")

	g.Unblock()
	assert.False(t, g.IsBlocked())
	assert.Equal(t, 1, unblocked)
	_, ok, _ = store.Get(ctx, session.BlockAccessKey)
	assert.False(t, ok)
}

func TestGuardForceBypass(t *testing.T) {
	g := New(Options{})
	g.Trip(ReasonManual)

	assert.ErrorIs(t, g.Allow(false), ErrBlocked)
	assert.NoError(t, g.Allow(true))
}

func TestGuardRestoresFromSession(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), session.BlockAccessKey, "true"))

	g := New(Options{Store: store})
	assert.True(t, g.IsBlocked())
}

func TestGuardTripIsIdempotent(t *testing.T) {
	g := New(Options{})
	g.Trip(ReasonTimeout)
	g.Trip(ReasonTimeout)
	assert.True(t, g.IsBlocked())
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}
func (failingStore) Set(context.Context, string, string) error { return errors.New("down") }
func (failingStore) Delete(context.Context, string) error      { return errors.New("down") }

func TestGuardSurvivesStoreFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g := New(Options{Store: failingStore{}, Logger: zap.New(core)})

	assert.False(t, g.IsBlocked())

	g.Trip(ReasonTimeout)
	assert.True(t, g.IsBlocked(), "in-memory flag must not depend on the store")

	g.Unblock()
	assert.False(t, g.IsBlocked())

	assert.NotZero(t, logs.FilterMessage("Failed to persist access guard").Len())
}
