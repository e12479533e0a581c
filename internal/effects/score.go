package effects

import (
	"summit-server/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChangeScore меняет текущий счет с аудитом. Счет не опускается ниже нуля,
// в журнал пишется фактически примененная сумма. Возвращает примененную дельту.
func (h *Handler) ChangeScore(t *Target, delta int, source, description string) int {
	p := t.Agg.Player
	switch {
	case delta > 0:
		p.CurrentScore += delta
		p.TotalScore += delta
		h.record(t, models.TransactionEarn, delta, source, description)
		t.Scope.Emit(models.EventScoreGained, map[string]any{
			"amount": delta, "source": source, "description": description, "currentScore": p.CurrentScore,
		})
		return delta
	case delta < 0:
		applied := -delta
		if applied > p.CurrentScore {
			applied = p.CurrentScore
		}
		if applied == 0 {
			return 0
		}
		p.CurrentScore -= applied
		p.Stats.TotalSpent += applied
		h.record(t, models.TransactionSpend, applied, source, description)
		t.Scope.Emit(models.EventScoreLost, map[string]any{
			"amount": applied, "source": source, "description": description, "currentScore": p.CurrentScore,
		})
		return -applied
	}
	return 0
}

// Spend списывает ровно amount; вызывающий заранее проверяет достаточность счета.
func (h *Handler) Spend(t *Target, amount int, source, description string) error {
	if amount <= 0 {
		return nil
	}
	if t.Agg.Player.CurrentScore < amount {
		return models.InsufficientScore(t.Agg.Player.CurrentScore, amount)
	}
	h.ChangeScore(t, -amount, source, description)
	return nil
}

func (h *Handler) record(t *Target, kind models.TransactionKind, amount int, source, description string) {
	data := map[string]any{}
	if t.Source != "" {
		data["origin"] = t.Source
	}
	if t.Column > 0 {
		data["column"] = t.Column
		data["position"] = t.Position
	}
	t.Agg.NewTransactions = append(t.Agg.NewTransactions, models.ScoreTransaction{
		TransactionID: uuid.NewString(),
		PlayerID:      t.Agg.PlayerID(),
		Kind:          kind,
		Amount:        amount,
		Source:        source,
		Description:   description,
		Data:          data,
		Timestamp:     h.clock(),
	})
}

func (h *Handler) applyScoreChange(t *Target, spec Spec) Outcome {
	var p scoreChangePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	before := t.Agg.Player.CurrentScore
	applied := h.ChangeScore(t, p.Value, models.SourceEffect, describeSource(t))
	switch {
	case applied > 0:
		return ok("积分 +%d（当前：%d）", applied, t.Agg.Player.CurrentScore).with("scoreDelta", applied)
	case applied < 0:
		return ok("积分 %d（当前：%d）", applied, t.Agg.Player.CurrentScore).with("scoreDelta", applied)
	case p.Value < 0 && before == 0:
		return ok("积分已为 0，无需扣除。").with("scoreDelta", 0)
	}
	return ok("积分没有变化。").with("scoreDelta", 0)
}

// applyScorePercentage умножает текущий счет на value с округлением к нулю.
// При нулевом счете эффект ничего не делает.
func (h *Handler) applyScorePercentage(t *Target, spec Spec) Outcome {
	var p scorePercentagePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	cur := t.Agg.Player.CurrentScore
	if cur == 0 {
		return ok("积分为 0，比例变化无效。").with("scoreDelta", 0)
	}
	target := decimal.NewFromInt(int64(cur)).Mul(p.Value).Truncate(0)
	if target.IsNegative() {
		target = decimal.Zero
	}
	delta := int(target.IntPart()) - cur
	applied := h.ChangeScore(t, delta, models.SourceEffect, describeSource(t))
	return ok("积分按 %s 倍调整：%d → %d", p.Value.String(), cur, t.Agg.Player.CurrentScore).
		with("scoreDelta", applied)
}

func describeSource(t *Target) string {
	if t.Source == "" {
		return "效果"
	}
	return t.Source
}
