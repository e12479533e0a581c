package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"summit-server/internal/interfaces"
	"summit-server/internal/memstore"
	"summit-server/internal/models"
	"summit-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreContract(t *testing.T) {
	testutil.StoreContract(t, func(t *testing.T) interfaces.GameStore {
		return memstore.New(zap.NewNop())
	})
}

func TestLoadedAggregateIsACopy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	agg := testutil.NewAggregate("p1", 20, time.Now().UTC())
	require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
		return tx.CreatePlayer(ctx, agg)
	}))
	agg.Player.CurrentScore = 999

	require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
		loaded, err := tx.LoadPlayer(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 20, loaded.Player.CurrentScore)
		loaded.Player.CurrentScore = 1
		return nil
	}))
	require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
		loaded, err := tx.LoadPlayer(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 20, loaded.Player.CurrentScore, "changes without SavePlayer are not stored")
		return nil
	}))
}

func TestFailCommits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	injected := errors.New("connection reset")
	store.FailCommits(injected)

	err := store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
		return tx.CreatePlayer(ctx, testutil.NewAggregate("p1", 20, time.Now().UTC()))
	})
	assert.ErrorIs(t, err, injected)

	err = store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
		_, err := tx.LoadPlayer(ctx, "p1")
		return err
	})
	assert.ErrorIs(t, err, models.ErrPlayerNotFound, "work of the failed commit is rolled back")

	require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
		return tx.CreatePlayer(ctx, testutil.NewAggregate("p1", 20, time.Now().UTC()))
	}))
}

func TestRunInTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := memstore.New(nil).RunInTx(ctx, func(interfaces.GameStoreTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
