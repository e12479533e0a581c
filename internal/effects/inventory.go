package effects

import (
	"summit-server/internal/models"
)

// RerollTokenItem - предмет, выдаваемый give_reroll_token.
const RerollTokenItem = "重投券"

// GiveItem выдает предмет из реестра. Неизвестный предмет - ok=false без изменений.
func (h *Handler) GiveItem(t *Target, name string, quantity int) Outcome {
	return h.giveItem(t, name, quantity)
}

func (h *Handler) giveItem(t *Target, name string, quantity int) Outcome {
	if quantity <= 0 {
		quantity = 1
	}
	info, found := h.catalog.LookupItem(name)
	if !found {
		return fail("未知物品：%s", name).with("error", models.ErrorCode(models.ErrUnknownItem))
	}
	it := t.Agg.AddItem(info.Name, info.Type, quantity, h.clock())
	t.Scope.Emit(models.EventItemAcquired, map[string]any{
		"item":      info.Name,
		"quantity":  quantity,
		"purchased": false,
		"acquired":  true,
		"source":    t.Source,
	})
	return ok("获得物品「%s」×%d（现有 %d）。", info.Name, quantity, it.Quantity).
		with("itemAcquired", info.Name).
		with("itemPurchased", false)
}

func (h *Handler) applyGiveItem(t *Target, spec Spec) Outcome {
	var p giveItemPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if p.Item == "" {
		return fail("物品效果缺少物品名。")
	}
	return h.giveItem(t, p.Item, p.Quantity)
}

func (h *Handler) applyRandomItem(t *Target) Outcome {
	info, found := h.catalog.RandomItem(h.roller, t.Agg.Player.Faction)
	if !found {
		return ok("没有可获得的随机物品。")
	}
	return h.giveItem(t, info.Name, 1)
}
