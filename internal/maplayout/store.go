package maplayout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"summit-server/internal/models"
)

// OverlayKind - слой карты, редактируемый ГМ.
type OverlayKind string

const (
	OverlayTraps      OverlayKind = "traps"
	OverlayEncounters OverlayKind = "encounters"
)

// Overlay - плоская карта {position_key: name}. Пустое имя - удаление базовой клетки.
type Overlay map[string]string

// OverlayStore хранит слои карты.
type OverlayStore interface {
	Load(kind OverlayKind) (Overlay, error)
	Save(kind OverlayKind, o Overlay) error
}

// FileOverlayStore хранит слои в JSON-файлах каталога.
type FileOverlayStore struct {
	dir string
}

// NewFileOverlayStore создает хранилище; каталог создается при первой записи.
func NewFileOverlayStore(dir string) *FileOverlayStore {
	return &FileOverlayStore{dir: dir}
}

func (s *FileOverlayStore) path(kind OverlayKind) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_overlay.json", kind))
}

// Load читает слой. Отсутствующий файл - пустой слой.
func (s *FileOverlayStore) Load(kind OverlayKind) (Overlay, error) {
	raw, err := os.ReadFile(s.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return Overlay{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s overlay: %v", models.ErrConfig, kind, err)
	}
	o := Overlay{}
	if len(raw) == 0 {
		return o, nil
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: parse %s overlay: %v", models.ErrConfig, kind, err)
	}
	return o, nil
}

// Save атомарно заменяет файл слоя (запись во временный файл и rename).
func (s *FileOverlayStore) Save(kind OverlayKind, o Overlay) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create overlay dir: %w", err)
	}
	raw, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s overlay: %w", kind, err)
	}
	tmp, err := os.CreateTemp(s.dir, string(kind)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp overlay file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp overlay file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp overlay file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(kind)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s overlay: %w", kind, err)
	}
	return nil
}

// MemoryOverlayStore держит слои в памяти (MAP_OVERLAY_DIR не задан, тесты).
type MemoryOverlayStore struct {
	mu     sync.Mutex
	layers map[OverlayKind]Overlay
}

// NewMemoryOverlayStore создает пустое хранилище.
func NewMemoryOverlayStore() *MemoryOverlayStore {
	return &MemoryOverlayStore{layers: make(map[OverlayKind]Overlay)}
}

func (s *MemoryOverlayStore) Load(kind OverlayKind) (Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOverlay(s.layers[kind]), nil
}

func (s *MemoryOverlayStore) Save(kind OverlayKind, o Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers[kind] = copyOverlay(o)
	return nil
}

func copyOverlay(o Overlay) Overlay {
	out := make(Overlay, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}
