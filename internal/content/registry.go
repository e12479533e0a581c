package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"summit-server/internal/board"
	"summit-server/internal/effects"
	"summit-server/internal/models"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

//go:embed data/*.json
var embedded embed.FS

// Количество записей в штатном наборе контента.
const (
	TrapCount      = 20
	ItemCount      = 24
	EncounterCount = 60
)

const (
	trapsFile        = "traps.json"
	itemsFile        = "items.json"
	encountersFile   = "encounters.json"
	achievementsFile = "achievements.json"
	baselineFile     = "baseline.json"
)

// Data - сырые определения контента.
type Data struct {
	Traps        []TrapDef
	Items        []ItemDef
	Encounters   []EncounterDef
	Achievements []AchievementDef
	Baseline     []BaselineCell
}

// Registry - неизменяемый после загрузки реестр контента.
type Registry struct {
	traps        []TrapDef
	items        []ItemDef
	encounters   []EncounterDef
	achievements []AchievementDef
	baseline     []BaselineCell

	trapByName      map[string]*TrapDef
	itemByName      map[string]*ItemDef
	encounterByName map[string]*EncounterDef
	achievementIdx  map[string]*AchievementDef
	baselineByKey   map[string]BaselineCell
}

var _ effects.Catalog = (*Registry)(nil)

// Load читает контент из dir (если задан) или из встроенных файлов.
// Файлы, отсутствующие в dir, берутся из встроенного набора.
func Load(dir string, logger *zap.Logger) (*Registry, error) {
	log := logger.Named("ContentRegistry")
	var src fs.FS = embeddedData()
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: content dir %q is not readable", models.ErrConfig, dir)
		}
		src = overlayFS{dir: os.DirFS(dir), fallback: embeddedData()}
		log.Info("Loading content with override directory", zap.String("dir", dir))
	}

	var d Data
	files := []struct {
		name string
		dst  any
	}{
		{trapsFile, &d.Traps},
		{itemsFile, &d.Items},
		{encountersFile, &d.Encounters},
		{achievementsFile, &d.Achievements},
		{baselineFile, &d.Baseline},
	}
	for _, f := range files {
		raw, err := fs.ReadFile(src, f.name)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", models.ErrConfig, f.name, err)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", models.ErrConfig, f.name, err)
		}
	}

	if len(d.Traps) != TrapCount || len(d.Items) != ItemCount || len(d.Encounters) != EncounterCount {
		return nil, fmt.Errorf("%w: expected %d traps, %d items, %d encounters; got %d, %d, %d",
			models.ErrConfig, TrapCount, ItemCount, EncounterCount,
			len(d.Traps), len(d.Items), len(d.Encounters))
	}
	if len(d.Baseline) != board.TotalCells() {
		return nil, fmt.Errorf("%w: baseline must cover %d cells, got %d",
			models.ErrConfig, board.TotalCells(), len(d.Baseline))
	}

	r, err := New(d)
	if err != nil {
		return nil, err
	}
	log.Info("Content loaded",
		zap.Int("traps", len(r.traps)),
		zap.Int("items", len(r.items)),
		zap.Int("encounters", len(r.encounters)),
		zap.Int("achievements", len(r.achievements)),
		zap.Int("baselineCells", len(r.baseline)))
	return r, nil
}

func embeddedData() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(err)
	}
	return sub
}

// overlayFS читает файл из каталога-переопределения, иначе из встроенного набора.
type overlayFS struct {
	dir      fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.dir.Open(name)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return o.fallback.Open(name)
	}
	return nil, err
}

// New строит реестр из определений, проверяя уникальность имен и ссылки.
// Количество записей не проверяется (используется в тестах с урезанным набором).
func New(d Data) (*Registry, error) {
	r := &Registry{
		traps:           d.Traps,
		items:           d.Items,
		encounters:      d.Encounters,
		achievements:    d.Achievements,
		baseline:        d.Baseline,
		trapByName:      make(map[string]*TrapDef, len(d.Traps)),
		itemByName:      make(map[string]*ItemDef, len(d.Items)),
		encounterByName: make(map[string]*EncounterDef, len(d.Encounters)),
		achievementIdx:  make(map[string]*AchievementDef, len(d.Achievements)),
		baselineByKey:   make(map[string]BaselineCell, len(d.Baseline)),
	}

	for i := range r.traps {
		t := &r.traps[i]
		if err := addUnique(r.trapByName, t.Name, t, "trap"); err != nil {
			return nil, err
		}
	}
	for i := range r.items {
		it := &r.items[i]
		if it.Price < 0 {
			return nil, fmt.Errorf("%w: item %q has negative price", models.ErrConfig, it.Name)
		}
		if it.ItemType == "" {
			it.ItemType = models.ItemConsumable
		}
		if err := addUnique(r.itemByName, it.Name, it, "item"); err != nil {
			return nil, err
		}
	}
	for i := range r.encounters {
		e := &r.encounters[i]
		if len(e.Choices) == 0 {
			return nil, fmt.Errorf("%w: encounter %q has no choices", models.ErrConfig, e.Name)
		}
		seen := make(map[string]struct{}, len(e.Choices))
		for _, c := range e.Choices {
			k := Normalize(c.Name)
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("%w: encounter %q has duplicate choice %q", models.ErrConfig, e.Name, c.Name)
			}
			seen[k] = struct{}{}
			if c.CostItem != "" {
				if _, ok := r.itemByName[Normalize(c.CostItem)]; !ok {
					return nil, fmt.Errorf("%w: encounter %q choice %q costs unknown item %q",
						models.ErrConfig, e.Name, c.Name, c.CostItem)
				}
			}
		}
		if err := addUnique(r.encounterByName, e.Name, e, "encounter"); err != nil {
			return nil, err
		}
	}
	for i := range r.achievements {
		a := &r.achievements[i]
		if a.Claim == "" {
			a.Claim = ClaimAuto
		}
		if len(a.Conditions) == 0 {
			return nil, fmt.Errorf("%w: achievement %q has no conditions", models.ErrConfig, a.Name)
		}
		for _, c := range a.Conditions {
			if err := validateCondition(c); err != nil {
				return nil, fmt.Errorf("%w: achievement %q: %v", models.ErrConfig, a.Name, err)
			}
		}
		if err := addUnique(r.achievementIdx, a.Name, a, "achievement"); err != nil {
			return nil, err
		}
	}
	for _, cell := range r.baseline {
		c, p, err := board.ParsePositionKey(cell.Key)
		if err != nil || !board.IsValidPosition(c, p) {
			return nil, fmt.Errorf("%w: baseline cell %q is not on the board", models.ErrConfig, cell.Key)
		}
		if _, dup := r.baselineByKey[cell.Key]; dup {
			return nil, fmt.Errorf("%w: baseline cell %q listed twice", models.ErrConfig, cell.Key)
		}
		if !r.Exists(cell.Kind, cell.Name) {
			return nil, fmt.Errorf("%w: baseline cell %q references unknown %s %q",
				models.ErrConfig, cell.Key, cell.Kind, cell.Name)
		}
		r.baselineByKey[cell.Key] = cell
	}
	return r, nil
}

func addUnique[T any](idx map[string]*T, name string, v *T, kind string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s with empty name", models.ErrConfig, kind)
	}
	k := Normalize(name)
	if _, dup := idx[k]; dup {
		return fmt.Errorf("%w: duplicate %s name %q", models.ErrConfig, kind, name)
	}
	idx[k] = v
	return nil
}

func validateCondition(c Condition) error {
	switch c.Type {
	case ConditionEventCount:
		if !models.IsKnownEventType(c.Event) {
			return fmt.Errorf("unknown event %q", c.Event)
		}
		if c.Count <= 0 {
			return fmt.Errorf("event_count needs positive count")
		}
		if c.Scope != "" && c.Scope != ScopeLifetime && c.Scope != ScopeSession {
			return fmt.Errorf("unknown scope %q", c.Scope)
		}
	case ConditionTrapTriggered, ConditionSingleTurnComplete:
	case ConditionComplex:
		if c.CheckFunction == "" {
			return fmt.Errorf("complex condition without check_function")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// EffectValidator проверяет, что все типы эффектов известны обработчику.
type EffectValidator interface {
	Validate(spec effects.Spec) error
}

// ValidateEffects проверяет все эффекты реестра. Вызывается после регистрации
// пользовательских типов эффектов.
func (r *Registry) ValidateEffects(v EffectValidator) error {
	check := func(owner string, spec effects.Spec) error {
		if err := v.Validate(spec); err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrConfig, owner, err)
		}
		return nil
	}
	for _, t := range r.traps {
		if err := check("trap "+t.Name, t.Effect); err != nil {
			return err
		}
		for f, spec := range t.FactionEffects {
			if err := check(fmt.Sprintf("trap %s (%s)", t.Name, f), spec); err != nil {
				return err
			}
		}
		for _, c := range t.Choices {
			if err := check("trap "+t.Name+" choice "+c.Name, c.Effect); err != nil {
				return err
			}
		}
	}
	for _, it := range r.items {
		if err := check("item "+it.Name, it.Effect); err != nil {
			return err
		}
	}
	for _, e := range r.encounters {
		for _, c := range e.Choices {
			if err := check("encounter "+e.Name+" choice "+c.Name, c.Effect); err != nil {
				return err
			}
			if c.FollowUp != nil && len(c.FollowUp.Reward) > 0 {
				spec, err := effects.Parse(c.FollowUp.Reward)
				if err != nil {
					return fmt.Errorf("%w: encounter %s follow-up: %v", models.ErrConfig, e.Name, err)
				}
				if err := check("encounter "+e.Name+" follow-up", spec); err != nil {
					return err
				}
			}
		}
	}
	for _, a := range r.achievements {
		if err := check("achievement "+a.Name, a.Reward); err != nil {
			return err
		}
	}
	return nil
}

// Normalize приводит имя к канонической форме для сравнения:
// NFKC, полноширинные символы к обычным, без пробелов по краям.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = width.Fold.String(s)
	return norm.NFKC.String(s)
}

// Trap ищет ловушку по имени.
func (r *Registry) Trap(name string) (*TrapDef, bool) {
	t, ok := r.trapByName[Normalize(name)]
	return t, ok
}

// Item ищет предмет по имени.
func (r *Registry) Item(name string) (*ItemDef, bool) {
	it, ok := r.itemByName[Normalize(name)]
	return it, ok
}

// Encounter ищет встречу по имени.
func (r *Registry) Encounter(name string) (*EncounterDef, bool) {
	e, ok := r.encounterByName[Normalize(name)]
	return e, ok
}

// Achievement ищет достижение по имени.
func (r *Registry) Achievement(name string) (*AchievementDef, bool) {
	a, ok := r.achievementIdx[Normalize(name)]
	return a, ok
}

// Exists проверяет, что имя события соответствует своему типу.
func (r *Registry) Exists(kind models.EventKind, name string) bool {
	switch kind {
	case models.KindTrap:
		_, ok := r.Trap(name)
		return ok
	case models.KindItem:
		_, ok := r.Item(name)
		return ok
	case models.KindEncounter:
		_, ok := r.Encounter(name)
		return ok
	}
	return false
}

// ContentID возвращает числовой идентификатор контента.
func (r *Registry) ContentID(kind models.EventKind, name string) int {
	switch kind {
	case models.KindTrap:
		if t, ok := r.Trap(name); ok {
			return t.ID
		}
	case models.KindItem:
		if it, ok := r.Item(name); ok {
			return it.ID
		}
	case models.KindEncounter:
		if e, ok := r.Encounter(name); ok {
			return e.ID
		}
	}
	return 0
}

// Traps - все ловушки в порядке файла.
func (r *Registry) Traps() []TrapDef { return r.traps }

// Items - все предметы в порядке файла.
func (r *Registry) Items() []ItemDef { return r.items }

// Encounters - все встречи в порядке файла.
func (r *Registry) Encounters() []EncounterDef { return r.encounters }

// Achievements - все достижения в порядке файла.
func (r *Registry) Achievements() []AchievementDef { return r.achievements }

// Baseline - базовая раскладка, отсортированная по колонке и позиции.
func (r *Registry) Baseline() []BaselineCell {
	out := append([]BaselineCell(nil), r.baseline...)
	sort.Slice(out, func(i, j int) bool {
		ci, pi, _ := board.ParsePositionKey(out[i].Key)
		cj, pj, _ := board.ParsePositionKey(out[j].Key)
		if ci != cj {
			return ci < cj
		}
		return pi < pj
	})
	return out
}

// BaselineAt возвращает клетку базовой раскладки.
func (r *Registry) BaselineAt(key string) (BaselineCell, bool) {
	c, ok := r.baselineByKey[key]
	return c, ok
}

// LookupItem реализует effects.Catalog.
func (r *Registry) LookupItem(name string) (effects.ItemInfo, bool) {
	it, ok := r.Item(name)
	if !ok {
		return effects.ItemInfo{}, false
	}
	return effects.ItemInfo{Name: it.Name, Type: it.ItemType}, true
}

// RandomItem выбирает случайный продаваемый предмет, доступный фракции.
func (r *Registry) RandomItem(roller effects.Roller, faction models.Faction) (effects.ItemInfo, bool) {
	var pool []*ItemDef
	for i := range r.items {
		it := &r.items[i]
		if it.CanTrade && it.Price > 0 && !it.Limited && it.Faction.Allows(faction) {
			pool = append(pool, it)
		}
	}
	if len(pool) == 0 {
		return effects.ItemInfo{}, false
	}
	it := pool[roller.IntN(len(pool))]
	return effects.ItemInfo{Name: it.Name, Type: it.ItemType}, true
}

// WriteData сохраняет определения в каталог в формате, который читает Load.
func WriteData(dir string, d Data) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string]any{
		trapsFile:        d.Traps,
		itemsFile:        d.Items,
		encountersFile:   d.Encounters,
		achievementsFile: d.Achievements,
		baselineFile:     d.Baseline,
	}
	for name, v := range files {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}
