package engine

import (
	"summit-server/internal/board"
	"summit-server/internal/models"
)

// ColumnStatus - положение игрока в колонке.
type ColumnStatus struct {
	Column    int  `json:"column"`
	Height    int  `json:"height"`
	Permanent int  `json:"permanent"`
	Temporary int  `json:"temporary,omitempty"`
	Completed bool `json:"completed,omitempty"`
}

// Status - снимок состояния игрока для ответа getGameStatus.
type Status struct {
	Player    *models.Player         `json:"player"`
	Session   *models.GameSession    `json:"session,omitempty"`
	Columns   []ColumnStatus         `json:"columns"`
	Pairs     []board.Pair           `json:"pairs,omitempty"`
	DiceCost  int                    `json:"diceCost"`
	Buffs     []models.ActiveBuff    `json:"buffs,omitempty"`
	Delayed   int                    `json:"delayedEffects"`
	Inventory []models.InventoryItem `json:"inventory,omitempty"`
	Completed []int                  `json:"completedColumns"`
	IsWinner  bool                   `json:"isWinner"`
}

// Status собирает снимок. Колонки без прогресса и маркеров не включаются.
func (e *Engine) Status(agg *models.PlayerAggregate) Status {
	st := Status{
		Player:    agg.Player,
		Session:   agg.Session,
		DiceCost:  e.diceCost(agg),
		Buffs:     agg.Buffs,
		Delayed:   len(agg.DelayedEffects),
		Inventory: models.SortedInventory(agg.Inventory),
		Completed: agg.Progress.CompletedColumns(),
		IsWinner:  agg.Progress.IsWinner(),
	}
	sess := agg.Session
	if sess != nil && sess.State == models.SessionActive {
		e.gcExpired(sess)
	}
	for _, c := range board.Columns() {
		cs := ColumnStatus{
			Column:    c,
			Height:    board.MustHeight(c),
			Permanent: agg.Progress.Get(c),
			Completed: agg.Progress.IsCompleted(c),
		}
		if sess != nil {
			if m := sess.MarkerAt(c); m != nil {
				cs.Temporary = m.Position
			}
		}
		if cs.Permanent == 0 && cs.Temporary == 0 {
			continue
		}
		st.Columns = append(st.Columns, cs)
	}
	if sess != nil && sess.TurnState == models.TurnMoveMarkers {
		st.Pairs = board.Partitions(sess.CurrentDice)
	}
	return st
}
