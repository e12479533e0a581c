package events

import (
	"sync"

	"summit-server/internal/models"
)

// MinRingCapacity - нижняя граница емкости истории событий.
const MinRingCapacity = 1000

// Ring - ограниченная история событий процесса. Старые записи вытесняются.
type Ring struct {
	mu    sync.Mutex
	buf   []models.GameEvent
	start int
	size  int
}

// NewRing создает кольцо. Емкость меньше MinRingCapacity поднимается до минимума.
func NewRing(capacity int) *Ring {
	if capacity < MinRingCapacity {
		capacity = MinRingCapacity
	}
	return &Ring{buf: make([]models.GameEvent, capacity)}
}

// Append добавляет события в порядке следования.
func (r *Ring) Append(evs ...models.GameEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		idx := (r.start + r.size) % len(r.buf)
		r.buf[idx] = ev
		if r.size < len(r.buf) {
			r.size++
		} else {
			r.start = (r.start + 1) % len(r.buf)
		}
	}
}

// Recent возвращает до limit последних событий (от старых к новым).
// Пустой playerID - события всех игроков.
func (r *Ring) Recent(playerID string, limit int) []models.GameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]models.GameEvent, 0, limit)
	for i := r.size - 1; i >= 0 && len(out) < limit; i-- {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if playerID != "" && ev.PlayerID != playerID {
			continue
		}
		out = append(out, ev)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len - текущее число записей.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap - емкость кольца.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Reset очищает историю.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.size = 0, 0
	for i := range r.buf {
		r.buf[i] = models.GameEvent{}
	}
}
