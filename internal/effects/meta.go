package effects

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"summit-server/internal/models"
)

// Варианты ответа на вызов дуэли.
const (
	ChoiceAcceptDuel  = "接受挑战"
	ChoiceDeclineDuel = "放弃挑战"
)

func (h *Handler) applyUnlockCommands(t *Target, spec Spec) Outcome {
	var p unlockCommandsPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if len(p.Commands) == 0 {
		return fail("解锁指令为空。")
	}
	st := &t.Agg.Player.Stats
	if st.UnlockedCommands == nil {
		st.UnlockedCommands = make(map[string]int)
	}
	var added []string
	for _, c := range p.Commands {
		if limit, exists := st.UnlockedCommands[c]; exists && limit >= p.DailyLimit {
			continue
		}
		st.UnlockedCommands[c] = p.DailyLimit
		added = append(added, c)
	}
	sort.Strings(added)
	if len(added) == 0 {
		return ok("指令已解锁：%s", strings.Join(p.Commands, "、"))
	}
	return ok("解锁新指令：%s（每日 %d 次）", strings.Join(added, "、"), p.DailyLimit).with("unlockedCommands", added)
}

// UseCommand учитывает использование разблокированной команды за день.
func UseCommand(agg *models.PlayerAggregate, command, day string) error {
	st := &agg.Player.Stats
	limit, unlocked := st.UnlockedCommands[command]
	if !unlocked {
		return models.NewGameError(models.ErrForbidden, "指令「%s」尚未解锁。", command)
	}
	if st.CommandUsage == nil {
		st.CommandUsage = make(map[string]int)
	}
	key := day + ":" + command
	if limit > 0 && st.CommandUsage[key] >= limit {
		return models.NewGameError(models.ErrCommandLimitExceeded, "指令「%s」今日已用完（%d/%d）。", command, st.CommandUsage[key], limit)
	}
	st.CommandUsage[key]++
	return nil
}

// applyPvP устанавливает вызов дуэли; разрешается отдельной операцией с соперником.
func (h *Handler) applyPvP(t *Target, spec Spec) Outcome {
	var p PvPPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fail("%v", err)
	}
	s.Pending = &models.PendingAction{
		Kind:        models.PendingPvPChallenge,
		Source:      t.Source,
		Column:      t.Column,
		Position:    t.Position,
		Description: "骰子对决：指定一名对手进行比拼，或放弃挑战（视为落败）。",
		Options: []models.PendingOption{
			{Name: ChoiceAcceptDuel},
			{Name: ChoiceDeclineDuel, Effect: p.LoserPenalty.Raw()},
		},
		Payload:   payload,
		CreatedAt: h.clock(),
	}
	return ok("触发骰子对决！请指定对手或放弃挑战。").with("pending", string(models.PendingPvPChallenge))
}

// DuelResult - итог дуэли.
type DuelResult struct {
	ChallengerDice []int
	OpponentDice   []int
	ChallengerSum  int
	OpponentSum    int
	// Winner: 1 - вызвавший, -1 - соперник, 0 - ничья.
	Winner  int
	Message string
}

// ResolveDuel бросает по два кубика каждому участнику и применяет награды.
// Вызывающий держит блокировки обоих игроков.
func (h *Handler) ResolveDuel(challenger, opponent *Target, p PvPPayload) DuelResult {
	var r DuelResult
	r.ChallengerDice, r.ChallengerSum = h.rollDice(2)
	r.OpponentDice, r.OpponentSum = h.rollDice(2)

	var msgs []string
	msgs = append(msgs, fmt.Sprintf("对决：%s %v（%d） vs %s %v（%d）",
		challenger.Agg.Player.Username, r.ChallengerDice, r.ChallengerSum,
		opponent.Agg.Player.Username, r.OpponentDice, r.OpponentSum))

	var winner, loser *Target
	switch {
	case r.ChallengerSum > r.OpponentSum:
		r.Winner, winner, loser = 1, challenger, opponent
	case r.ChallengerSum < r.OpponentSum:
		r.Winner, winner, loser = -1, opponent, challenger
	}
	if winner == nil {
		msgs = append(msgs, "平局！")
		for _, tg := range []*Target{challenger, opponent} {
			if out := h.Apply(tg, p.TieEffect); out.Message != "" {
				msgs = append(msgs, out.Message)
			}
		}
	} else {
		msgs = append(msgs, fmt.Sprintf("%s 获胜！", winner.Agg.Player.Username))
		if out := h.Apply(winner, p.WinnerReward); out.Message != "" {
			msgs = append(msgs, out.Message)
		}
		if out := h.Apply(loser, p.LoserPenalty); out.Message != "" {
			msgs = append(msgs, out.Message)
		}
	}
	data := map[string]any{
		"challenger": challenger.Agg.PlayerID(), "opponent": opponent.Agg.PlayerID(),
		"challengerDice": r.ChallengerDice, "opponentDice": r.OpponentDice, "winner": r.Winner,
	}
	challenger.Scope.Emit(models.EventPvPBattle, data)
	opponent.Scope.Emit(models.EventPvPBattle, data)
	r.Message = strings.Join(msgs, "\n")
	return r
}
