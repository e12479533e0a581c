package effects

import (
	"fmt"
	"sort"
	"time"

	"summit-server/internal/board"
	"summit-server/internal/models"
)

// Названия вариантов выбора, которые создают эффекты.
const (
	ChoiceVoidTurn = "作废本回合"
	ChoiceSkipTurn = "跳过下回合"
)

// ConsolidateMarkers переносит временные маркеры в постоянный прогресс
// (с обрезкой до L(c)) и очищает их. Возвращает колонки, ставшие завершенными.
func ConsolidateMarkers(agg *models.PlayerAggregate, s *models.GameSession, at time.Time) []int {
	var completed []int
	for _, m := range s.TemporaryMarkers {
		h, err := board.Height(m.Column)
		if err != nil {
			continue
		}
		if agg.Progress.Set(m.Column, agg.Progress.Get(m.Column)+m.Position, h, at) {
			completed = append(completed, m.Column)
		}
	}
	s.ClearMarkers()
	sort.Ints(completed)
	return completed
}

// EndTurnInvoluntarily завершает ход без сохранения: маркеры сброшены,
// сессия переходит в Failed/Ended. Используется пассивной остановкой и void_turn.
func EndTurnInvoluntarily(s *models.GameSession) {
	s.ClearMarkers()
	s.PendingSummitColumns = nil
	s.Pending = nil
	s.CurrentDice = nil
	s.State = models.SessionFailed
	s.TurnState = models.TurnEnded
}

func (h *Handler) applyVoidTurn(t *Target) Outcome {
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	lost := s.MarkerColumns()
	EndTurnInvoluntarily(s)
	t.Scope.Emit(models.EventTurnVoided, map[string]any{"source": t.Source, "clearedColumns": lost})
	return ok("本回合作废，临时标记已清除。").with("turnVoided", true)
}

func (h *Handler) applyVoidTurnOrSkip(t *Target) Outcome {
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	s.Pending = &models.PendingAction{
		Kind:        models.PendingTrapChoice,
		Source:      t.Source,
		Column:      t.Column,
		Position:    t.Position,
		Description: "请选择：作废本回合，或跳过下一回合。",
		Options: []models.PendingOption{
			{Name: ChoiceVoidTurn, Effect: VoidTurn().Raw()},
			{Name: ChoiceSkipTurn, Effect: SkipTurn(0).Raw()},
		},
		CreatedAt: h.clock(),
	}
	return ok("请选择：「%s」或「%s」。", ChoiceVoidTurn, ChoiceSkipTurn).with("pending", string(models.PendingTrapChoice))
}

func (h *Handler) applyEndSession(t *Target, spec Spec) Outcome {
	var p endSessionPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	s.Pending = nil
	s.PendingSummitColumns = nil
	s.CurrentDice = nil
	if p.SaveProgress {
		completed := ConsolidateMarkers(t.Agg, s, h.clock())
		s.State = models.SessionPaused
		s.TurnState = models.TurnWaitingCheckin
		s.NeedsCheckin = true
		t.Scope.Emit(models.EventSessionEnded, map[string]any{"saveProgress": true, "completed": completed, "source": t.Source})
		return ok("游戏暂停，本回合进度已保存。").with("sessionState", string(s.State))
	}
	s.ClearMarkers()
	s.State = models.SessionFailed
	s.TurnState = models.TurnEnded
	t.Scope.Emit(models.EventSessionEnded, map[string]any{"saveProgress": false, "source": t.Source})
	return ok("游戏结束，本回合进度未保存。").with("sessionState", string(s.State))
}

func (h *Handler) applyPreventEndTurn(t *Target, spec Spec) Outcome {
	var p descriptionPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	desc := p.Description
	if desc == "" {
		desc = "下一次投掷前无法结束回合。"
	}
	h.AddBuff(t, models.BuffPreventEndTurn, 1, 1, models.BuffPayload{Description: desc})
	return ok("%s", desc)
}

func (h *Handler) applyForceExtraTurns(t *Target, spec Spec) Outcome {
	var p extraTurnsPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	turns := max(p.Turns, 1)
	h.AddBuff(t, models.BuffForceExtraTurns, turns, turns, models.BuffPayload{})
	return ok("接下来 %d 个回合结束后无需打卡，必须立即继续。", turns)
}

func (h *Handler) applyClearTempMarkers(t *Target, spec Spec) Outcome {
	var p clearMarkersPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	cols := s.MarkerColumns()
	if len(cols) == 0 {
		return ok("没有临时标记需要清除。")
	}
	if p.PlayerChoice && len(cols) > 1 {
		opts := make([]models.PendingOption, 0, len(cols))
		for _, c := range cols {
			opts = append(opts, models.PendingOption{
				Name:   fmt.Sprintf("清除第%d列", c),
				Effect: ClearColumnMarker(c).Raw(),
			})
		}
		s.Pending = &models.PendingAction{
			Kind:        models.PendingMarkerChoice,
			Source:      t.Source,
			Column:      t.Column,
			Position:    t.Position,
			Description: "请选择要清除的临时标记。",
			Options:     opts,
			CreatedAt:   h.clock(),
		}
		return ok("请选择要清除的临时标记：%v", cols).with("pending", string(models.PendingMarkerChoice))
	}
	s.ClearMarkers()
	dropSummits(t.Agg, s)
	t.Scope.Emit(models.EventProgressLost, map[string]any{"clearedColumns": cols, "source": t.Source})
	return ok("所有临时标记被清除：%v", cols)
}

func (h *Handler) applyClearColumnMarker(t *Target, spec Spec) Outcome {
	var p columnPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	if !s.RemoveMarker(p.Column) {
		return ok("第%d列没有临时标记。", p.Column)
	}
	dropSummits(t.Agg, s)
	t.Scope.Emit(models.EventProgressLost, map[string]any{"clearedColumns": []int{p.Column}, "source": t.Source})
	return ok("第%d列的临时标记被清除。", p.Column)
}

// dropSummits убирает ожидающие вершины, которые больше не достигаются.
func dropSummits(agg *models.PlayerAggregate, s *models.GameSession) {
	if len(s.PendingSummitColumns) == 0 {
		return
	}
	for _, c := range append([]int(nil), s.PendingSummitColumns...) {
		m := s.MarkerAt(c)
		if m == nil || agg.Progress.Get(c)+m.Position < board.MustHeight(c) {
			s.RemovePendingSummit(c)
		}
	}
	if len(s.PendingSummitColumns) == 0 && s.TurnState == models.TurnWaitingSummit {
		s.TurnState = models.TurnDecision
	}
}

func (h *Handler) applyResetColumnProgress(t *Target, spec Spec) Outcome {
	var p columnPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	c := p.Column
	if c == 0 {
		c = t.Column
	}
	height, err := board.Height(c)
	if err != nil {
		return fail("无效的列：%d", c)
	}
	if t.Agg.Progress.IsCompleted(c) {
		return ok("第%d列已登顶，不受影响。", c)
	}
	before := t.Agg.Progress.Get(c)
	t.Agg.Progress.Set(c, 0, height, h.clock())
	if s := t.Session(); s != nil && s.RemoveMarker(c) {
		dropSummits(t.Agg, s)
	}
	t.Scope.Emit(models.EventProgressLost, map[string]any{"column": c, "lost": before, "source": t.Source})
	return ok("第%d列进度归零（失去 %d 格）。", c, before)
}

func (h *Handler) applyAllColumnsRetreat(t *Target, spec Spec) Outcome {
	var p retreatPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if p.Value <= 0 {
		return ok("没有后退。")
	}
	lost := map[int]int{}
	for _, c := range board.Columns() {
		cur := t.Agg.Progress.Get(c)
		if cur == 0 || t.Agg.Progress.IsCompleted(c) {
			continue
		}
		next := max(cur-p.Value, 0)
		t.Agg.Progress.Set(c, next, board.MustHeight(c), h.clock())
		lost[c] = cur - next
	}
	if s := t.Session(); s != nil {
		dropSummits(t.Agg, s)
	}
	if len(lost) == 0 {
		return ok("没有可后退的列。")
	}
	t.Scope.Emit(models.EventProgressLost, map[string]any{"retreat": lost, "source": t.Source})
	return ok("所有未登顶的列后退 %d 格。", p.Value).with("retreat", lost)
}

func (h *Handler) applyForceArtwork(t *Target, spec Spec) Outcome {
	var p forceArtworkPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	desc := p.Description
	if desc == "" {
		desc = "下次打卡必须提交作品。"
	}
	h.AddBuff(t, models.BuffArtworkRequired, 1, 1, models.BuffPayload{Description: desc})
	out := ok("%s", desc)
	if p.AchievementCheck != "" {
		out = out.with("achievementCheck", p.AchievementCheck)
	}
	return out
}
