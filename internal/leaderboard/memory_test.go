package leaderboard_test

import (
	"context"
	"sync"
	"testing"

	"summit-server/internal/leaderboard"
	"summit-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStock(t *testing.T) {
	ctx := context.Background()
	s := leaderboard.NewMemoryStock()

	left, err := s.Reserve(ctx, "限量护符", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	_, err = s.Reserve(ctx, "限量护符", 2, 3)
	assert.ErrorIs(t, err, models.ErrItemOutOfStock)

	require.NoError(t, s.Release(ctx, "限量护符", 5))
	left, err = s.Reserve(ctx, "限量护符", 3, 3)
	require.NoError(t, err, "release never drops below zero")
	assert.Equal(t, 0, left)

	require.NoError(t, s.Reset(ctx))
	left, err = s.Reserve(ctx, "限量护符", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestMemoryStock_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	s := leaderboard.NewMemoryStock()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(ctx, "绑定宝石", 1, 5); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
}
