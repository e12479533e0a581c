package effects

import (
	"fmt"

	"summit-server/internal/board"
	"summit-server/internal/models"
)

func (h *Handler) applyDiceCountChange(t *Target, spec Spec) Outcome {
	var p diceCountChangePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if _, err := h.QueueDelayed(t, string(TypeDiceCountChange), spec, 1, models.PhaseBeforeRoll); err != nil {
		return fail("%v", err)
	}
	return ok("下回合骰子数量变化 %+d。", p.Value)
}

// resolveDiceCountChange срабатывает перед броском и, если длительность больше
// одного хода, переносит остаток на следующий ход.
func (h *Handler) resolveDiceCountChange(t *Target, spec Spec) Outcome {
	var p diceCountChangePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	base := s.Data.NextDiceCount
	if base == 0 {
		base = board.StandardDiceCount
	}
	s.Data.NextDiceCount = board.ClampDiceCount(base + p.Value)
	if p.Duration > 1 {
		next := New(TypeDiceCountChange, diceCountChangePayload{Value: p.Value, Duration: p.Duration - 1})
		if _, err := h.QueueDelayed(t, string(TypeDiceCountChange), next, 1, models.PhaseBeforeRoll); err != nil {
			return fail("%v", err)
		}
	}
	return ok("本次投掷 %d 颗骰子。", s.Data.NextDiceCount)
}

func (h *Handler) applyForcedDice(t *Target, spec Spec) Outcome {
	var p forcedDicePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if len(p.Value) < board.MinDiceCount || len(p.Value) > board.MaxDiceCount || !board.ValidDice(p.Value) {
		return fail("固定骰子结果无效：%v", p.Value)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	s.ForcedDiceResult = append([]int(nil), p.Value...)
	msg := fmt.Sprintf("下一次投掷结果固定为 %v。", p.Value)
	if p.ScorePenalty > 0 {
		applied := h.ChangeScore(t, -p.ScorePenalty, models.SourceEffect, describeSource(t))
		msg += fmt.Sprintf(" 积分 %d。", applied)
	}
	return ok("%s", msg).with("forcedDice", p.Value)
}

func (h *Handler) applyDiceModifier(t *Target, spec Spec) Outcome {
	var p diceModifierPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	v := p.Value
	if p.ValueFromDice {
		v = h.RollDie()
	}
	if p.Negative && v > 0 {
		v = -v
	}
	if v == 0 {
		return ok("骰子修正为 0，无效果。")
	}
	h.AddBuff(t, models.BuffDiceModifier, v, max(p.Duration, 1), models.BuffPayload{})
	return ok("下一次投掷每颗骰子 %+d。", v).with("diceModifier", v)
}

func (h *Handler) applyExtraDice(t *Target, spec Spec) Outcome {
	var p extraDicePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	base := s.Data.NextDiceCount
	if base == 0 {
		base = board.StandardDiceCount
	}
	s.Data.NextDiceCount = board.ClampDiceCount(base + max(p.Dice, 1))
	return ok("下一次投掷使用 %d 颗骰子。", s.Data.NextDiceCount)
}

func (h *Handler) applyExtraDiceWithRisk(t *Target, spec Spec) Outcome {
	var p extraDiceRiskPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if p.RiskValue < 1 || p.RiskValue > board.DiceSides {
		return fail("风险点数无效：%d", p.RiskValue)
	}
	s, bad := requireSession(t)
	if bad != nil {
		return *bad
	}
	base := s.Data.NextDiceCount
	if base == 0 {
		base = board.StandardDiceCount
	}
	s.Data.NextDiceCount = board.ClampDiceCount(base + 1)
	s.Data.ExtraDiceRisk = p.RiskValue
	return ok("下一次投掷多一颗骰子；若额外骰子为 %d，本回合作废。", p.RiskValue)
}

func (h *Handler) rollDice(n int) ([]int, int) {
	if n <= 0 {
		n = 1
	}
	dice := make([]int, n)
	sum := 0
	for i := range dice {
		dice[i] = h.RollDie()
		sum += dice[i]
	}
	return dice, sum
}

func (h *Handler) applyDiceCheck(t *Target, spec Spec) Outcome {
	var p diceCheckPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	dice, sum := h.rollDice(p.Dice)
	var (
		chosen  Spec
		success bool
	)
	switch {
	case len(p.Thresholds) > 0:
		for _, th := range p.Thresholds {
			if sum >= th.Min && sum <= th.Max {
				chosen = th.Effect
				success = true
				break
			}
		}
	case p.SuccessThreshold > 0:
		success = sum >= p.SuccessThreshold
	case p.FailValue > 0:
		success = true
		for _, d := range dice {
			if d == p.FailValue {
				success = false
				break
			}
		}
	default:
		success = sum > 3*len(dice)
	}
	if len(p.Thresholds) == 0 {
		if success {
			chosen = p.SuccessEffect
		} else {
			chosen = p.FailEffect
		}
	}
	t.Scope.Emit(models.EventDiceCheck, map[string]any{"dice": dice, "sum": sum, "success": success, "source": t.Source})

	verdict := "判定失败"
	if success {
		verdict = "判定成功"
	}
	out := h.Apply(t, chosen)
	msg := fmt.Sprintf("检定骰：%v（合计 %d），%s。", dice, sum, verdict)
	if out.Message != "" {
		msg += "\n" + out.Message
	}
	out.Message = msg
	return out.with("checkDice", dice).with("checkSuccess", success)
}

func (h *Handler) resolveOddEven(t *Target, spec Spec, dice []int) Outcome {
	var p oddEvenPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	sum := 0
	for _, d := range dice {
		sum += d
	}
	odd := sum%2 == 1
	success := odd
	if p.Expect == "even" {
		success = !odd
	}
	parity := "偶数"
	if odd {
		parity = "奇数"
	}
	t.Scope.Emit(models.EventDiceCheck, map[string]any{"dice": dice, "sum": sum, "success": success, "source": t.Source, "check": "odd_even"})
	chosen := p.FailEffect
	if success {
		chosen = p.SuccessEffect
	}
	out := h.Apply(t, chosen)
	out.Message = joinMsg(fmt.Sprintf("奇偶判定：点数合计 %d（%s）。", sum, parity), out.Message)
	return out
}

func (h *Handler) resolveCombinations(t *Target, spec Spec, dice []int) Outcome {
	var p combinationsPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	counts := make(map[int]int)
	best := 0
	for _, d := range dice {
		counts[d]++
		if counts[d] > best {
			best = counts[d]
		}
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	success := best >= threshold
	t.Scope.Emit(models.EventDiceCheck, map[string]any{"dice": dice, "success": success, "source": t.Source, "check": "combinations"})
	chosen := p.FailEffect
	if success {
		chosen = p.SuccessEffect
	}
	out := h.Apply(t, chosen)
	out.Message = joinMsg(fmt.Sprintf("组合判定：最多 %d 颗相同点数（需要 %d）。", best, threshold), out.Message)
	return out
}

func joinMsg(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + "\n" + tail
}
