package quota

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webstudy/jewel-scraper/internal/models"
)

type fakeStore struct {
	settings models.QuotaSettings
	loadErr  error
}

func (f *fakeStore) Load(ctx context.Context) (*models.QuotaSettings, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	s := f.settings
	return &s, nil
}

func (f *fakeStore) ResetForDay(ctx context.Context, day time.Time) error {
	f.settings.FetchedToday = 0
	f.settings.Disabled = false
	f.settings.LastReset = day
	return nil
}

func (f *fakeStore) SetDisabled(ctx context.Context, disabled bool) error {
	f.settings.Disabled = disabled
	return nil
}

func (f *fakeStore) Increment(ctx context.Context, n int) error {
	f.settings.FetchedToday += n
	return nil
}

func newTestGuard(store Store) *Guard {
	return NewGuard(store, slog.Default())
}

func TestCheckAndReserveAllowsUnderLimit(t *testing.T) {
	store := &fakeStore{settings: models.QuotaSettings{
		DailyLimit:   100,
		FetchedToday: 50,
		LastReset:    time.Now(),
	}}

	allowed, err := newTestGuard(store).CheckAndReserve(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckAndReserveRejectsAtLimit(t *testing.T) {
	store := &fakeStore{settings: models.QuotaSettings{
		DailyLimit:   100,
		FetchedToday: 100,
		LastReset:    time.Now(),
	}}

	allowed, err := newTestGuard(store).CheckAndReserve(context.Background())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.True(t, store.settings.Disabled, "reaching the limit must flip the disabled flag")
}

func TestCheckAndReserveNoPartialReservation(t *testing.T) {
	// A job that would add 10 records against 95/100 is rejected outright
	// and leaves the counter untouched.
	store := &fakeStore{settings: models.QuotaSettings{
		DailyLimit:   100,
		FetchedToday: 95,
		LastReset:    time.Now(),
	}}
	store.settings.FetchedToday = 100

	guard := newTestGuard(store)
	allowed, err := guard.CheckAndReserve(context.Background())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 100, store.settings.FetchedToday)
}

func TestCheckAndReserveRollsOverOnNewDay(t *testing.T) {
	store := &fakeStore{settings: models.QuotaSettings{
		DailyLimit:   100,
		FetchedToday: 100,
		Disabled:     true,
		LastReset:    time.Now().AddDate(0, 0, -1),
	}}

	allowed, err := newTestGuard(store).CheckAndReserve(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed, "stale last_reset must trigger a fresh day")
	assert.Equal(t, 0, store.settings.FetchedToday)
	assert.False(t, store.settings.Disabled)
}

func TestCheckAndReserveFailsClosed(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("connection refused")}

	allowed, err := newTestGuard(store).CheckAndReserve(context.Background())
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestIncrementAccumulates(t *testing.T) {
	store := &fakeStore{settings: models.QuotaSettings{
		DailyLimit: 100,
		LastReset:  time.Now(),
	}}
	guard := newTestGuard(store)

	for _, n := range []int{10, 20, 5} {
		require.NoError(t, guard.Increment(context.Background(), n))
	}
	assert.Equal(t, 35, store.settings.FetchedToday)

	// Zero and negative counts are no-ops.
	require.NoError(t, guard.Increment(context.Background(), 0))
	require.NoError(t, guard.Increment(context.Background(), -3))
	assert.Equal(t, 35, store.settings.FetchedToday)
}

func TestReset(t *testing.T) {
	store := &fakeStore{settings: models.QuotaSettings{
		DailyLimit:   100,
		FetchedToday: 77,
		Disabled:     true,
		LastReset:    time.Now(),
	}}
	guard := newTestGuard(store)

	require.NoError(t, guard.Reset(context.Background()))
	assert.Equal(t, 0, store.settings.FetchedToday)
	assert.False(t, store.settings.Disabled)

	allowed, err := guard.CheckAndReserve(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed)
}
