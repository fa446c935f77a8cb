package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scopesignal/internal/model"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", contestable()))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contestable(), *got)
}

func TestMemory_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", contestable()))

	got, _, _ := m.Get(ctx, "k")
	got.Confidence = 1

	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, 85, again.Confidence)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemory(WithTTL(time.Hour), WithClock(clock.Now))
	require.NoError(t, m.Set(ctx, "k", contestable()))

	clock.Advance(time.Hour)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok, "entry exactly at TTL is still live")

	clock.Advance(time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries, "get does not remove expired entries")
	assert.Equal(t, 1, st.Expired)

	n, err := m.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	st, _ = m.Stats(ctx)
	assert.Zero(t, st.Entries)
}

func TestMemory_SetRefreshesEntry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemory(WithTTL(time.Hour), WithClock(clock.Now))
	require.NoError(t, m.Set(ctx, "k", contestable()))

	clock.Advance(50 * time.Minute)
	updated := contestable()
	updated.Confidence = 70
	require.NoError(t, m.Set(ctx, "k", updated))

	clock.Advance(20 * time.Minute)
	got, ok, _ := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 70, got.Confidence)
}

func TestMemory_RejectsInvalid(t *testing.T) {
	bad := contestable()
	bad.Confidence = 150
	err := NewMemory().Set(context.Background(), "k", bad)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestMemory_StatsAndClear(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Entries)
	assert.Equal(t, DefaultTTL, st.TTL)

	require.NoError(t, m.Set(ctx, "a", contestable()))
	clock.Advance(10 * time.Minute)
	require.NoError(t, m.Set(ctx, "b", contestable()))
	clock.Advance(5 * time.Minute)

	st, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 15*time.Minute, st.OldestAge)
	assert.Equal(t, 5*time.Minute, st.NewestAge)

	n, err := m.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_ConcurrentSetSameKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(conf int) {
			defer wg.Done()
			r := contestable()
			r.Confidence = conf
			assert.NoError(t, m.Set(ctx, "shared", r))
			_, _, _ = m.Get(ctx, fmt.Sprintf("other-%d", conf))
		}(i)
	}
	wg.Wait()

	got, ok, err := m.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, got.Validate())
	assert.Equal(t, model.ClassificationContestable, got.Classification)
}
