package engine

import (
	"fmt"
	"slices"

	"summit-server/internal/board"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// diceCost - стоимость броска с учетом баффов cost_reduction, не ниже нуля.
func (e *Engine) diceCost(agg *models.PlayerAggregate) int {
	return max(e.cfg.DiceCost-effects.SumBuff(agg, models.BuffCostReduction), 0)
}

// Roll выполняет бросок кубиков.
func (e *Engine) Roll(s *events.Scope) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnDiceRoll, models.TurnDecision); err != nil {
		return Outcome{}, err
	}
	if err := requireNoBlockers(sess); err != nil {
		return Outcome{}, err
	}
	agg := s.Agg
	cost := e.diceCost(agg)
	if agg.Player.CurrentScore < cost {
		return Outcome{}, models.InsufficientScore(agg.Player.CurrentScore, cost)
	}

	t := e.target(s, "dice_roll", 0, 0)
	b := newOutcome()
	before := e.effects.RunDelayed(t, models.PhaseBeforeRoll, nil)
	for _, m := range before.Messages {
		b.add(m)
	}
	if before.SkipTurn {
		e.skipTurn(s, sess, b)
		return b.done(), nil
	}
	if !sess.IsActive() {
		// отложенный эффект завершил сессию до броска
		return b.done(), nil
	}

	if err := e.effects.Spend(t, cost, models.SourceDiceRoll, "投骰消耗"); err != nil {
		return Outcome{}, err
	}
	e.effects.RemoveBuffs(t, models.BuffPreventEndTurn)

	n := board.StandardDiceCount
	if sess.Data.NextDiceCount > 0 {
		n = board.ClampDiceCount(sess.Data.NextDiceCount)
	}
	risk := sess.Data.ExtraDiceRisk
	sess.Data.NextDiceCount = 0
	sess.Data.ExtraDiceRisk = 0

	var dice []int
	forced := len(sess.ForcedDiceResult) > 0
	if forced {
		dice = append([]int(nil), sess.ForcedDiceResult...)
		sess.ForcedDiceResult = nil
	} else {
		dice = e.rollDice(n)
	}
	extraDie := 0
	if !forced && len(dice) > board.StandardDiceCount {
		extraDie = dice[len(dice)-1]
	}
	if mod := effects.SumBuff(agg, models.BuffDiceModifier); mod != 0 {
		for i := range dice {
			dice[i] = board.ClampDie(dice[i] + mod)
		}
		e.effects.ConsumeAll(t, models.BuffDiceModifier)
		b.say("骰子修正 %+d。", mod)
	}

	sess.CurrentDice = dice
	sess.Data.RollsThisTurn++
	sess.Data.UnplacedColumns = nil
	sess.UpdatedAt = e.effects.Now()
	agg.Player.TotalDiceRolls++
	agg.Player.LastActive = sess.UpdatedAt

	pairs := board.Partitions(dice)
	s.Emit(models.EventDiceRolled, map[string]any{
		"dice": dice, "pairs": pairs, "cost": cost, "forced": forced, "turn": sess.TurnNumber,
	})
	b.say("投掷结果：%v（消耗 %d 积分，剩余 %d）", dice, cost, agg.Player.CurrentScore)
	b.set("dice", dice)
	b.set("pairs", pairs)
	b.set("cost", cost)

	if risk > 0 && extraDie == risk {
		lost := sess.MarkerColumns()
		effects.EndTurnInvoluntarily(sess)
		e.closeTurn(t, sess)
		s.Emit(models.EventTurnVoided, map[string]any{"reason": "extra_dice_risk", "die": extraDie, "clearedColumns": lost})
		b.say("额外骰子掷出 %d，本回合作废！", extraDie)
		b.set("turnVoided", true)
		return b.done(), nil
	}

	sess.TurnState = models.TurnMoveMarkers
	after := e.effects.RunDelayed(t, models.PhaseAfterRoll, dice)
	for _, m := range after.Messages {
		b.add(m)
	}
	if !sess.IsActive() || sess.TurnState != models.TurnMoveMarkers {
		return b.done(), nil
	}
	if !hasLegalMove(agg, sess, pairs) {
		e.passiveStop(s, sess, b, dice)
		return b.done(), nil
	}
	b.say("可选组合：%s", describePairs(pairs))
	e.logger.Debug("Dice rolled", append(logFields(s), zap.Ints("dice", dice), zap.Int("cost", cost))...)
	return b.done(), nil
}

// Continue - продолжение хода из Decision: еще один бросок.
func (e *Engine) Continue(s *events.Scope) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnDecision); err != nil {
		return Outcome{}, err
	}
	return e.Roll(s)
}

func (e *Engine) rollDice(n int) []int {
	dice := make([]int, n)
	for i := range dice {
		dice[i] = e.effects.RollDie()
	}
	return dice
}

// skipTurn завершает ход, пропущенный отложенным эффектом. Бросок не оплачивается.
func (e *Engine) skipTurn(s *events.Scope, sess *models.GameSession, b *outcomeBuilder) {
	t := e.target(s, "skip_turn", 0, 0)
	sess.ClearMarkers()
	sess.CurrentDice = nil
	e.closeTurn(t, sess)
	sess.NeedsCheckin = true
	sess.TurnState = models.TurnWaitingCheckin
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventTurnEnded, map[string]any{"turn": sess.TurnNumber, "skipped": true})
	b.say("本回合被跳过，请打卡后进入下一回合。")
	b.set("turnSkipped", true)
}

// passiveStop - ни одна пара не продвигает ни одну колонку: ход теряется, сессия проиграна.
func (e *Engine) passiveStop(s *events.Scope, sess *models.GameSession, b *outcomeBuilder, dice []int) {
	lost := sess.MarkerColumns()
	effects.EndTurnInvoluntarily(sess)
	e.closeTurn(e.target(s, "passive_stop", 0, 0), sess)
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventPassiveStop, map[string]any{"dice": dice, "clearedColumns": lost})
	e.logger.Info("Passive stop", append(logFields(s), zap.Ints("dice", dice), zap.Ints("clearedColumns", lost))...)
	b.say("没有可以推进的列，被动停止！本回合临时进度清除：%v", lost)
	b.set("passiveStop", true)
}

// closeTurn - общая часть любого завершения хода: счетчики, тик баффов, сброс данных хода.
func (e *Engine) closeTurn(t *effects.Target, sess *models.GameSession) []models.BuffType {
	t.Agg.Player.TotalTurns++
	resetTurnData(sess)
	return e.effects.TickBuffs(t)
}

func resetTurnData(sess *models.GameSession) {
	sess.Data.RollsThisTurn = 0
	sess.Data.RerollsThisTurn = 0
	sess.Data.UnplacedColumns = nil
}

// Reroll перебрасывает все кубики: бафф reroll_available (в пределах лимита хода)
// или жетон 重投券. Стоимость не списывается.
func (e *Engine) Reroll(s *events.Scope) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnMoveMarkers); err != nil {
		return Outcome{}, err
	}
	if err := requireNoBlockers(sess); err != nil {
		return Outcome{}, err
	}
	agg := s.Agg
	b := newOutcome()

	via := ""
	if buff := effects.FindBuff(agg, models.BuffRerollAvailable); buff != nil {
		limit := max(buff.Payload.PerTurnLimit, buff.Value, 1)
		if sess.Data.RerollsThisTurn < limit {
			via = "buff"
		}
	}
	if via == "" && agg.ItemQuantity(effects.RerollTokenItem) > 0 {
		agg.RemoveItem(effects.RerollTokenItem, 1, true)
		s.Emit(models.EventItemUsed, map[string]any{"item": effects.RerollTokenItem, "reroll": true})
		via = "token"
	}
	if via == "" {
		return Outcome{}, models.NewGameError(models.ErrRerollUnavailable, "没有可用的重投机会（本回合已重投 %d 次）。", sess.Data.RerollsThisTurn)
	}
	sess.Data.RerollsThisTurn++

	old := sess.CurrentDice
	dice := e.rollDice(max(len(old), board.MinDiceCount))
	sess.CurrentDice = dice
	sess.UpdatedAt = e.effects.Now()
	pairs := board.Partitions(dice)
	s.Emit(models.EventDiceRerolled, map[string]any{"old": old, "dice": dice, "pairs": pairs, "via": via})
	b.say("重投：%v → %v", old, dice)
	b.set("dice", dice)
	b.set("pairs", pairs)
	if !hasLegalMove(agg, sess, pairs) {
		e.passiveStop(s, sess, b, dice)
		return b.done(), nil
	}
	b.say("可选组合：%s", describePairs(pairs))
	return b.done(), nil
}

// SelectiveReroll перебрасывает выбранные кубики (индексы с нуля) по баффу selective_reroll.
func (e *Engine) SelectiveReroll(s *events.Scope, indices []int) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnMoveMarkers); err != nil {
		return Outcome{}, err
	}
	if err := requireNoBlockers(sess); err != nil {
		return Outcome{}, err
	}
	buff := effects.FindBuff(s.Agg, models.BuffSelectiveReroll)
	if buff == nil {
		return Outcome{}, models.NewGameError(models.ErrRerollUnavailable, "没有可用的选择性重投。")
	}
	limit := max(buff.Payload.Count, buff.Value, 1)
	if len(indices) == 0 || len(indices) > limit {
		return Outcome{}, models.NewGameError(models.ErrInvalidDiceSelection, "请选择 1 到 %d 颗骰子。", limit)
	}
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(sess.CurrentDice) || seen[i] {
			return Outcome{}, models.NewGameError(models.ErrInvalidDiceSelection, "骰子序号无效：%v（共 %d 颗）", indices, len(sess.CurrentDice))
		}
		seen[i] = true
	}

	t := e.target(s, "selective_reroll", 0, 0)
	old := append([]int(nil), sess.CurrentDice...)
	dice := append([]int(nil), sess.CurrentDice...)
	for _, i := range indices {
		dice[i] = e.effects.RollDie()
	}
	e.effects.ConsumeBuff(t, models.BuffSelectiveReroll)
	sess.CurrentDice = dice
	sess.UpdatedAt = e.effects.Now()
	pairs := board.Partitions(dice)
	s.Emit(models.EventDiceRerolled, map[string]any{"old": old, "dice": dice, "pairs": pairs, "indices": indices, "selective": true})

	b := newOutcome()
	b.say("选择性重投：%v → %v", old, dice)
	b.set("dice", dice)
	b.set("pairs", pairs)
	if !hasLegalMove(s.Agg, sess, pairs) {
		e.passiveStop(s, sess, b, dice)
		return b.done(), nil
	}
	b.say("可选组合：%s", describePairs(pairs))
	return b.done(), nil
}

// Move продвигает временные маркеры по выбранным колонкам. Повтор колонки
// ([c, c]) означает два шага по ней.
func (e *Engine) Move(s *events.Scope, cols []int) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnMoveMarkers, models.TurnDecision); err != nil {
		return Outcome{}, err
	}
	if sess.TurnState == models.TurnDecision && len(sess.Data.UnplacedColumns) == 0 {
		return Outcome{}, models.InvalidSessionState(sess.TurnState, models.TurnMoveMarkers)
	}
	if err := requireNoBlockers(sess); err != nil {
		return Outcome{}, err
	}
	if len(cols) < 1 || len(cols) > 2 {
		return Outcome{}, models.NewGameError(models.ErrInvalidDiceCombination, "请选择 1 或 2 列。")
	}

	agg := s.Agg
	steps := make(map[int]int, 2)
	var order []int
	for _, c := range cols {
		if !board.IsValidColumn(c) {
			return Outcome{}, models.NewGameError(models.ErrInvalidColumn, "无效的列：%d（有效范围 %d-%d）", c, board.MinColumn, board.MaxColumn)
		}
		if agg.Progress.IsCompleted(c) {
			return Outcome{}, models.NewGameError(models.ErrColumnCompleted, "第%d列已经登顶。", c)
		}
		if steps[c] == 0 {
			order = append(order, c)
		}
		steps[c]++
	}

	pairs := board.Partitions(sess.CurrentDice)
	placing := sess.TurnState == models.TurnDecision
	if placing {
		if len(cols) != 1 || !slices.Contains(sess.Data.UnplacedColumns, cols[0]) {
			return Outcome{}, models.NewGameError(models.ErrInvalidDiceCombination, "只能补走第 %v 列。", sess.Data.UnplacedColumns)
		}
	} else {
		if !board.AllowsColumns(pairs, cols) {
			return Outcome{}, models.NewGameError(models.ErrInvalidDiceCombination, "所选列 %v 不在当前组合中：%s", cols, describePairs(pairs)).
				WithDetail("pairs", pairs)
		}
		if sess.FirstTurn && len(cols) == 1 && anyPairFullyMovable(agg, sess, pairs) {
			return Outcome{}, models.NewGameError(models.ErrInvalidDiceCombination, "本回合首次移动必须选择两列：%s", describePairs(pairs))
		}
	}

	newCols := 0
	for _, c := range order {
		if sess.MarkerAt(c) == nil {
			newCols++
		}
	}
	if len(sess.TemporaryMarkers)+newCols > models.MaxTemporaryMarkers {
		return e.tooManyMarkers(s, sess, cols), nil
	}
	for _, c := range order {
		h := board.MustHeight(c)
		cur := agg.Progress.Get(c)
		if m := sess.MarkerAt(c); m != nil {
			cur += m.Position
		}
		if cur+steps[c] > h {
			return Outcome{}, models.NewGameError(models.ErrColumnOverflow, "第%d列超出高度（当前 %d + %d > %d）。", c, cur, steps[c], h).
				WithDetail("column", c)
		}
	}

	for _, c := range order {
		if m := sess.MarkerAt(c); m != nil {
			m.Position += steps[c]
		} else {
			sess.TemporaryMarkers = append(sess.TemporaryMarkers, models.TemporaryMarker{Column: c, Position: steps[c]})
		}
	}
	sess.Data.UnplacedColumns = nil
	if !placing && len(cols) == 1 {
		sess.Data.UnplacedColumns = partners(agg, sess, pairs, cols[0])
	}
	sess.FirstTurn = false
	sess.TurnState = models.TurnDecision
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventMarkersMoved, map[string]any{
		"columns": cols,
		"markers": append([]models.TemporaryMarker(nil), sess.TemporaryMarkers...),
	})

	b := newOutcome()
	for _, c := range order {
		m := sess.MarkerAt(c)
		b.say("第%d列前进 %d 格（%d/%d）", c, steps[c], agg.Progress.Get(c)+m.Position, board.MustHeight(c))
	}

	var reached []int
	for _, c := range order {
		m := sess.MarkerAt(c)
		if agg.Progress.Get(c)+m.Position >= board.MustHeight(c) {
			sess.AddPendingSummit(c)
			reached = append(reached, c)
		}
	}
	if len(sess.PendingSummitColumns) > 0 {
		sess.TurnState = models.TurnWaitingSummit
		if len(reached) > 0 {
			s.Emit(models.EventSummitPending, map[string]any{"columns": reached})
		}
		b.say("到达第 %v 列顶端！请确认登顶。", reached)
	}

	for _, c := range order {
		if !sess.IsActive() || sess.TurnState == models.TurnEnded {
			break
		}
		m := sess.MarkerAt(c)
		if m == nil {
			continue
		}
		e.triggerMapEvent(s, sess, c, agg.Progress.Get(c)+m.Position, b)
	}

	if len(sess.Data.UnplacedColumns) > 0 && sess.TurnState == models.TurnDecision {
		b.say("还可以补走：第 %v 列。", sess.Data.UnplacedColumns)
	}
	b.set("markers", sess.TemporaryMarkers)
	b.set("turnState", sess.TurnState)
	return b.done(), nil
}

// tooManyMarkers - попытка поставить четвертый маркер: временный прогресс хода
// теряется, сессия ждет отметки. Изменения сохраняются.
func (e *Engine) tooManyMarkers(s *events.Scope, sess *models.GameSession, cols []int) Outcome {
	t := e.target(s, "too_many_markers", 0, 0)
	lost := sess.MarkerColumns()
	sess.ClearMarkers()
	sess.PendingSummitColumns = nil
	sess.CurrentDice = nil
	e.closeTurn(t, sess)
	sess.NeedsCheckin = true
	sess.TurnState = models.TurnWaitingCheckin
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventProgressLost, map[string]any{"clearedColumns": lost, "reason": "too_many_markers", "attempted": cols})
	s.Emit(models.EventTurnEnded, map[string]any{"turn": sess.TurnNumber, "reason": "too_many_markers"})
	e.logger.Info("Move rejected: too many markers", append(logFields(s), zap.Ints("columns", cols))...)

	b := newOutcome()
	b.softFail(models.ErrTooManyMarkers)
	b.say("临时标记最多 %d 个！本回合临时进度全部清除：%v。请打卡后继续。", models.MaxTemporaryMarkers, lost)
	b.set("clearedColumns", lost)
	return b.done()
}

// partners - колонки пар, в которых участвовала выбранная колонка, которые еще можно продвинуть.
func partners(agg *models.PlayerAggregate, sess *models.GameSession, pairs []board.Pair, c int) []int {
	var out []int
	for _, p := range pairs {
		if !p.Contains(c) {
			continue
		}
		other := p.Second
		if p.Second == c {
			other = p.First
		}
		if slices.Contains(out, other) || !canAdvance(agg, sess, other, 1) {
			continue
		}
		out = append(out, other)
	}
	slices.Sort(out)
	return out
}

func anyPairFullyMovable(agg *models.PlayerAggregate, sess *models.GameSession, pairs []board.Pair) bool {
	for _, p := range pairs {
		if pairFullyMovable(agg, sess, p) {
			return true
		}
	}
	return false
}

// ConfirmSummit подтверждает вершину колонки.
func (e *Engine) ConfirmSummit(s *events.Scope, c int) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if !board.IsValidColumn(c) {
		return Outcome{}, models.NewGameError(models.ErrInvalidColumn, "无效的列：%d", c)
	}
	if !sess.HasPendingSummit(c) {
		return Outcome{}, models.NewGameError(models.ErrSummitAlreadyConfirmed, "第%d列没有待确认的登顶。", c).
			WithDetail("pending", sess.PendingSummitColumns)
	}
	agg := s.Agg
	h := board.MustHeight(c)
	start := agg.Progress.Get(c)
	now := e.effects.Now()
	agg.Progress.Set(c, h, h, now)
	sess.RemoveMarker(c)
	sess.RemovePendingSummit(c)
	sess.Data.UnplacedColumns = slices.DeleteFunc(sess.Data.UnplacedColumns, func(x int) bool { return x == c })

	t := e.target(s, fmt.Sprintf("summit:%d", c), c, h)
	bonus := e.cfg.FirstSummitBonus + effects.SumBuff(agg, models.BuffExtraSummitBonus)
	applied := e.effects.ChangeScore(t, bonus, models.SourceSummitBonus, fmt.Sprintf("第%d列登顶奖励", c))
	s.Emit(models.EventColumnCompleted, map[string]any{"column": c, "startingProgress": start, "bonus": applied})
	if len(sess.PendingSummitColumns) == 0 {
		sess.TurnState = models.TurnDecision
	}
	sess.UpdatedAt = now
	e.logger.Info("Summit confirmed", append(logFields(s), zap.Int("column", c), zap.Int("bonus", applied))...)

	b := newOutcome()
	b.out.ClaimedColumns = []int{c}
	b.say("第%d列登顶成功！获得 %d 积分（当前：%d）。", c, applied, agg.Player.CurrentScore)
	if n := len(agg.Progress.Completed); n > 0 {
		b.say("已登顶 %d/%d 列。", n, models.WinningColumns)
	}
	if len(sess.PendingSummitColumns) > 0 {
		b.say("还需确认：第 %v 列。", sess.PendingSummitColumns)
	}
	b.set("completedColumns", agg.Progress.CompletedColumns())
	return b.done(), nil
}

// ReleaseClaimedColumn снимает маркер и ожидание вершины игрока с колонки,
// которую занял claimedBy. Возвращает false, если снимать нечего.
func (e *Engine) ReleaseClaimedColumn(s *events.Scope, c int, claimedBy string) bool {
	sess := s.Agg.Session
	if !sess.IsOpen() {
		return false
	}
	removed := sess.RemoveMarker(c)
	pending := sess.HasPendingSummit(c)
	if !removed && !pending {
		return false
	}
	sess.RemovePendingSummit(c)
	sess.Data.UnplacedColumns = slices.DeleteFunc(sess.Data.UnplacedColumns, func(x int) bool { return x == c })
	if sess.TurnState == models.TurnWaitingSummit && len(sess.PendingSummitColumns) == 0 {
		sess.TurnState = models.TurnDecision
	}
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventProgressLost, map[string]any{
		"clearedColumns": []int{c}, "reason": "column_claimed", "claimedBy": claimedBy,
	})
	e.logger.Info("Column claimed by another player, marker released",
		append(logFields(s), zap.Int("column", c), zap.String("claimedBy", claimedBy))...)
	return true
}

// EndTurn - добровольное завершение хода: временные маркеры переходят в постоянный прогресс.
func (e *Engine) EndTurn(s *events.Scope) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnDecision); err != nil {
		return Outcome{}, err
	}
	if err := requireNoBlockers(sess); err != nil {
		return Outcome{}, err
	}
	agg := s.Agg
	if buff := effects.FindBuff(agg, models.BuffPreventEndTurn); buff != nil {
		desc := buff.Payload.Description
		if desc == "" {
			desc = "现在无法结束回合。"
		}
		return Outcome{}, models.NewGameError(models.ErrEndTurnPrevented, "%s", desc)
	}

	t := e.target(s, "end_turn", 0, 0)
	now := e.effects.Now()
	saved := make(map[int]int, len(sess.TemporaryMarkers))
	for _, m := range sess.TemporaryMarkers {
		saved[m.Column] = m.Position
	}
	completed := effects.ConsolidateMarkers(agg, sess, now)
	for _, c := range completed {
		s.Emit(models.EventColumnCompleted, map[string]any{"column": c, "consolidated": true})
	}
	sess.CurrentDice = nil
	expired := e.closeTurn(t, sess)
	sess.UpdatedAt = now

	b := newOutcome()
	for _, c := range sortedKeys(saved) {
		b.say("第%d列 +%d（%d/%d）", c, saved[c], agg.Progress.Get(c), board.MustHeight(c))
	}
	if agg.Progress.IsWinner() {
		sess.State = models.SessionCompleted
		sess.TurnState = models.TurnEnded
		sess.CompletedAt = &now
		agg.Player.GamesWon++
		s.Emit(models.EventGameWon, map[string]any{"completedColumns": agg.Progress.CompletedColumns(), "turn": sess.TurnNumber})
		e.logger.Info("Game won", append(logFields(s), zap.Ints("completedColumns", agg.Progress.CompletedColumns()))...)
		b.say("恭喜！已登顶 %d 列，获得胜利！", len(agg.Progress.Completed))
		b.set("won", true)
		return b.done(), nil
	}

	s.Emit(models.EventTurnEnded, map[string]any{"turn": sess.TurnNumber, "saved": saved, "expiredBuffs": expired})
	if effects.HasBuff(agg, models.BuffForceExtraTurns) {
		e.effects.ConsumeBuff(t, models.BuffForceExtraTurns)
		sess.TurnNumber++
		sess.TurnState = models.TurnDiceRoll
		sess.FirstTurn = true
		s.Emit(models.EventTurnStarted, map[string]any{"turn": sess.TurnNumber, "forced": true})
		b.say("回合结束，但必须立即继续：第 %d 回合开始。", sess.TurnNumber)
		b.set("turnNumber", sess.TurnNumber)
		return b.done(), nil
	}
	sess.NeedsCheckin = true
	sess.TurnState = models.TurnWaitingCheckin
	b.say("回合结束，进度已保存。请打卡后开始下一回合。")
	return b.done(), nil
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func describePairs(pairs []board.Pair) string {
	if len(pairs) == 0 {
		return "无"
	}
	out := ""
	for i, p := range pairs {
		if i > 0 {
			out += " "
		}
		out += p.String()
	}
	return out
}
