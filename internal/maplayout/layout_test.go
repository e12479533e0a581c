package maplayout_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"summit-server/internal/maplayout"
	"summit-server/internal/models"
	"summit-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore отказывает в записи, пока fail выставлен.
type flakyStore struct {
	*maplayout.MemoryOverlayStore
	fail bool
}

func (s *flakyStore) Save(kind maplayout.OverlayKind, o maplayout.Overlay) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryOverlayStore.Save(kind, o)
}

func newLayout(t *testing.T, store maplayout.OverlayStore) *maplayout.Layout {
	t.Helper()
	l, err := maplayout.New(testutil.Registry(t), store, zap.NewNop())
	require.NoError(t, err)
	return l
}

func keys(evs []models.MapEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.PositionKey)
	}
	return out
}

func TestNew_BaselineOnly(t *testing.T) {
	l := newLayout(t, nil)

	evs := l.Events()
	assert.Equal(t, []string{
		testutil.TrapScoreKey, testutil.ItemKettleKey, testutil.EncounterShopKey, testutil.TrapForkKey,
	}, keys(evs))

	ev, ok := l.EventAt(5, 1)
	require.True(t, ok)
	assert.Equal(t, models.KindItem, ev.Kind)
	assert.Equal(t, testutil.ItemKettle, ev.Name)
	assert.Equal(t, 1, ev.ContentID)

	_, ok = l.EventAt(3, 1)
	assert.False(t, ok)
}

func TestSetTrap(t *testing.T) {
	l := newLayout(t, nil)
	_, v0 := l.Snapshot()

	ev, err := l.SetTrap(5, 1, " "+testutil.TrapScore)
	require.NoError(t, err)
	assert.Equal(t, models.KindTrap, ev.Kind)
	assert.Equal(t, testutil.TrapScore, ev.Name)

	_, v1 := l.Snapshot()
	assert.Greater(t, v1, v0)

	got, _ := l.EventAt(5, 1)
	assert.Equal(t, models.KindTrap, got.Kind, "trap overlay wins over baseline item")

	_, err = l.SetTrap(5, 1, "不存在")
	assert.ErrorIs(t, err, models.ErrUnknownTrap)
	_, err = l.SetTrap(3, 9, testutil.TrapScore)
	assert.ErrorIs(t, err, models.ErrInvalidPosition)
	_, err = l.SetEncounter(3, 1, "不存在")
	assert.ErrorIs(t, err, models.ErrUnknownEncounter)
}

func TestSetEncounter_RejectsTrapOverlayCell(t *testing.T) {
	l := newLayout(t, nil)
	_, err := l.SetTrap(3, 1, testutil.TrapScore)
	require.NoError(t, err)
	_, version := l.Snapshot()

	_, err = l.SetEncounter(3, 1, testutil.EncounterShop)
	assert.ErrorIs(t, err, models.ErrInvalidOverlayPlacement)
	ev, _ := l.EventAt(3, 1)
	assert.Equal(t, models.KindTrap, ev.Kind)
	_, v := l.Snapshot()
	assert.Equal(t, version, v)

	// базовая ловушка без слоя ГМ заменяется встречей
	ev, err = l.SetEncounter(4, 1, testutil.EncounterShop)
	require.NoError(t, err)
	assert.Equal(t, models.KindEncounter, ev.Kind)

	_, _, err = l.ClearTrap(3, 1)
	require.NoError(t, err)
	_, err = l.SetEncounter(3, 1, testutil.EncounterShop)
	assert.NoError(t, err)
}

func TestClearTrap_BaselineCellIsMarkedRemoved(t *testing.T) {
	store := maplayout.NewMemoryOverlayStore()
	l := newLayout(t, store)

	name, removed, err := l.ClearTrap(4, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, testutil.TrapScore, name)
	_, ok := l.EventAt(4, 1)
	assert.False(t, ok)

	saved, err := store.Load(maplayout.OverlayTraps)
	require.NoError(t, err)
	assert.Equal(t, maplayout.Overlay{testutil.TrapScoreKey: ""}, saved)

	_, removed, err = l.ClearTrap(4, 1)
	require.NoError(t, err)
	assert.False(t, removed)

	// клетка с предметом - не ловушка
	_, removed, err = l.ClearTrap(5, 1)
	require.NoError(t, err)
	assert.False(t, removed)

	_, _, err = l.ClearEncounter(19, 1)
	assert.ErrorIs(t, err, models.ErrInvalidPosition)
}

func TestClearTrap_OverlayCellIsDeleted(t *testing.T) {
	store := maplayout.NewMemoryOverlayStore()
	l := newLayout(t, store)

	_, err := l.SetTrap(3, 1, testutil.TrapFork)
	require.NoError(t, err)
	_, removed, err := l.ClearTrap(3, 1)
	require.NoError(t, err)
	assert.True(t, removed)

	saved, err := store.Load(maplayout.OverlayTraps)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestOverlaySaveFailureLeavesLayoutUnchanged(t *testing.T) {
	store := &flakyStore{MemoryOverlayStore: maplayout.NewMemoryOverlayStore()}
	l := newLayout(t, store)
	before, version := l.Snapshot()

	store.fail = true
	_, err := l.SetEncounter(3, 1, testutil.EncounterShop)
	assert.ErrorIs(t, err, models.ErrPersistence)
	_, _, err = l.ClearTrap(4, 1)
	assert.ErrorIs(t, err, models.ErrPersistence)
	_, err = l.RegenerateTraps(testutil.NewDice())
	assert.ErrorIs(t, err, models.ErrPersistence)

	after, v := l.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, version, v)

	// слой в памяти восстановлен: следующая удачная запись не тянет отказанные изменения
	store.fail = false
	_, err = l.SetTrap(6, 1, testutil.TrapScore)
	require.NoError(t, err)
	_, ok := l.EventAt(3, 1)
	assert.False(t, ok)
	_, ok = l.EventAt(4, 1)
	assert.True(t, ok)
}

func TestRegenerateTraps(t *testing.T) {
	l := newLayout(t, nil)

	placed, err := l.RegenerateTraps(testutil.NewDice(6, 2, 5, 3, 4))
	require.NoError(t, err)
	require.Len(t, placed, 2)

	var traps []models.MapEvent
	for _, ev := range l.Events() {
		if ev.Kind == models.KindTrap {
			traps = append(traps, ev)
		}
	}
	require.Len(t, traps, 2)
	for _, ev := range traps {
		assert.Equal(t, placed[ev.PositionKey], ev.Name)
	}
	assert.NotContains(t, placed, testutil.EncounterShopKey, "encounter cells are never used")

	enc, ok := l.EventAt(9, 1)
	require.True(t, ok)
	assert.Equal(t, models.KindEncounter, enc.Kind)
}

func TestRegenerateTraps_NeverCoversItemsOrEncounters(t *testing.T) {
	l := newLayout(t, nil)
	_, err := l.SetEncounter(8, 2, testutil.EncounterShop)
	require.NoError(t, err)

	for _, dice := range [][]int{nil, {1}, {6, 6, 6, 6}, {2, 5, 3, 1, 4, 6, 2}} {
		placed, err := l.RegenerateTraps(testutil.NewDice(dice...))
		require.NoError(t, err)
		for _, key := range []string{testutil.ItemKettleKey, testutil.EncounterShopKey, "8,2"} {
			assert.NotContains(t, placed, key)
		}
		item, ok := l.EventAt(5, 1)
		require.True(t, ok)
		assert.Equal(t, models.KindItem, item.Kind)
		assert.Equal(t, testutil.ItemKettle, item.Name)
		gm, ok := l.EventAt(8, 2)
		require.True(t, ok)
		assert.Equal(t, models.KindEncounter, gm.Kind)
	}
}

func TestResetOverlays(t *testing.T) {
	l := newLayout(t, nil)
	_, err := l.SetEncounter(8, 2, testutil.EncounterShop)
	require.NoError(t, err)
	_, _, err = l.ClearTrap(10, 1)
	require.NoError(t, err)

	require.NoError(t, l.ResetOverlays())
	assert.Equal(t, []string{
		testutil.TrapScoreKey, testutil.ItemKettleKey, testutil.EncounterShopKey, testutil.TrapForkKey,
	}, keys(l.Events()))
}

func TestFileOverlayStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "overlays")
	store := maplayout.NewFileOverlayStore(dir)

	o, err := store.Load(maplayout.OverlayTraps)
	require.NoError(t, err)
	assert.Empty(t, o)

	want := maplayout.Overlay{"3,1": testutil.TrapScore, "4,1": ""}
	require.NoError(t, store.Save(maplayout.OverlayTraps, want))
	assert.FileExists(t, filepath.Join(dir, "traps_overlay.json"))

	got, err := store.Load(maplayout.OverlayTraps)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "encounters_overlay.json"), []byte("{broken"), 0o644))
	_, err = store.Load(maplayout.OverlayEncounters)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestNew_DropsInvalidOverlayEntries(t *testing.T) {
	store := maplayout.NewMemoryOverlayStore()
	require.NoError(t, store.Save(maplayout.OverlayTraps, maplayout.Overlay{
		"3,1":  testutil.TrapFork,
		"3,9":  testutil.TrapScore,
		"6,1":  "不存在",
		"10,1": "",
	}))
	require.NoError(t, store.Save(maplayout.OverlayEncounters, maplayout.Overlay{
		"7,2": testutil.TrapScore,
	}))

	l := newLayout(t, store)
	assert.Equal(t, []string{
		"3,1", testutil.TrapScoreKey, testutil.ItemKettleKey, testutil.EncounterShopKey,
	}, keys(l.Events()))
}
