package content_test

import (
	"os"
	"path/filepath"
	"testing"

	"summit-server/internal/board"
	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/models"
	"summit-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Embedded(t *testing.T) {
	r, err := content.Load("", zap.NewNop())
	require.NoError(t, err)

	assert.Len(t, r.Traps(), content.TrapCount)
	assert.Len(t, r.Items(), content.ItemCount)
	assert.Len(t, r.Encounters(), content.EncounterCount)
	assert.NotEmpty(t, r.Achievements())

	baseline := r.Baseline()
	require.Len(t, baseline, board.TotalCells())
	assert.Equal(t, "3,1", baseline[0].Key)
	assert.Equal(t, "18,3", baseline[len(baseline)-1].Key)
	for _, cell := range baseline {
		assert.True(t, r.Exists(cell.Kind, cell.Name), cell.Key)
	}

	_, ok := r.Item(effects.RerollTokenItem)
	assert.True(t, ok, "reroll token item must exist in the catalog")
}

func TestLoad_OverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	d := testutil.FixtureData(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "traps.json"), []byte(`[]`), 0o644))

	_, err := content.Load(dir, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)

	require.NoError(t, content.WriteData(dir, d))
	_, err = content.Load(dir, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrConfig, "fixture content is too small for a full game")

	_, err = content.Load(filepath.Join(dir, "missing"), zap.NewNop())
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestLookupNormalizesNames(t *testing.T) {
	r := testutil.Registry(t)

	for _, name := range []string{testutil.TrapScore, " " + testutil.TrapScore + " "} {
		tr, ok := r.Trap(name)
		require.True(t, ok, name)
		assert.Equal(t, testutil.TrapScore, tr.Name)
	}
	_, ok := r.Item("水壶")
	assert.True(t, ok)
	_, ok = r.Encounter("不存在")
	assert.False(t, ok)

	assert.Equal(t, "ABC12", content.Normalize(" ＡＢＣ１２ "))

	assert.Equal(t, 1, r.ContentID(models.KindEncounter, testutil.EncounterShop))
	assert.Equal(t, 0, r.ContentID(models.KindTrap, "不存在"))
}

func TestNew_RejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *content.Data)
	}{
		{"duplicate trap", func(d *content.Data) { d.Traps = append(d.Traps, d.Traps[0]) }},
		{"negative price", func(d *content.Data) { d.Items[0].Price = -1 }},
		{"encounter without choices", func(d *content.Data) { d.Encounters[0].Choices = nil }},
		{"baseline off the board", func(d *content.Data) {
			d.Baseline = append(d.Baseline, content.BaselineCell{Key: "3,4", Kind: models.KindTrap, Name: testutil.TrapScore})
		}},
		{"baseline cell listed twice", func(d *content.Data) { d.Baseline = append(d.Baseline, d.Baseline[0]) }},
		{"baseline references unknown name", func(d *content.Data) {
			d.Baseline = append(d.Baseline, content.BaselineCell{Key: "7,7", Kind: models.KindItem, Name: "龙蛋"})
		}},
		{"baseline kind mismatch", func(d *content.Data) {
			d.Baseline = append(d.Baseline, content.BaselineCell{Key: "7,7", Kind: models.KindTrap, Name: testutil.ItemKettle})
		}},
		{"achievement with unknown event", func(d *content.Data) {
			d.Achievements[0].Conditions[0].Event = "Teleported"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testutil.FixtureData(t)
			tt.mutate(&d)
			_, err := content.New(d)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfig)
		})
	}
}

func TestValidateEffects_UnknownType(t *testing.T) {
	d := testutil.FixtureData(t)
	d.Items[0].Effect = effects.New("teleport", nil)
	r, err := content.New(d)
	require.NoError(t, err)

	err = r.ValidateEffects(effects.NewHandler(r, nil, zap.NewNop()))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestRandomItemRespectsTradeAndStock(t *testing.T) {
	r := testutil.Registry(t)
	for face := 1; face <= 6; face++ {
		info, ok := r.RandomItem(testutil.NewDice(face), models.FactionAdopter)
		require.True(t, ok)
		assert.Equal(t, testutil.ItemKettle, info.Name, "only tradable unlimited priced items are drawn")
	}
}
