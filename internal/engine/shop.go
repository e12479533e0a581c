package engine

import (
	"fmt"

	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// Purchase покупает предмет в магазине. Учет тиража ограниченных предметов
// выполняется снаружи до вызова (см. StockCounter сервиса).
func (e *Engine) Purchase(s *events.Scope, name string, quantity int) (Outcome, error) {
	item, err := e.purchasable(s.Agg, name, quantity)
	if err != nil {
		return Outcome{}, err
	}
	if quantity == 0 {
		quantity = 1
	}
	agg := s.Agg
	unit := effects.DiscountedPrice(agg, item.Price)
	total := unit * quantity
	if agg.Player.CurrentScore < total {
		return Outcome{}, models.InsufficientScore(agg.Player.CurrentScore, total)
	}

	t := e.target(s, "shop:"+item.Name, 0, 0)
	if err := e.effects.Spend(t, total, models.SourceShop, fmt.Sprintf("购买「%s」×%d", item.Name, quantity)); err != nil {
		return Outcome{}, err
	}
	it := agg.AddItem(item.Name, item.ItemType, quantity, e.effects.Now())
	s.Emit(models.EventItemPurchased, map[string]any{
		"item": item.Name, "quantity": quantity, "price": total, "purchased": true, "limited": item.Limited,
	})
	e.logger.Info("Item purchased", append(logFields(s), zap.String("item", item.Name), zap.Int("price", total))...)

	b := newOutcome()
	if unit != item.Price {
		b.say("折扣价 %d（原价 %d）。", unit, item.Price)
	}
	b.say("购买「%s」×%d，花费 %d 积分（剩余 %d），现有 %d 个。", item.Name, quantity, total, agg.Player.CurrentScore, it.Quantity)
	b.set("item", item.Name)
	b.set("price", total)
	return b.done(), nil
}

// CheckPurchase проверяет условия покупки без изменения состояния.
func (e *Engine) CheckPurchase(agg *models.PlayerAggregate, name string, quantity int) (*content.ItemDef, error) {
	return e.purchasable(agg, name, quantity)
}

func (e *Engine) purchasable(agg *models.PlayerAggregate, name string, quantity int) (*content.ItemDef, error) {
	item, ok := e.registry.Item(name)
	if !ok {
		return nil, models.NewGameError(models.ErrUnknownItem, "未知物品：%s", name)
	}
	if quantity < 0 || quantity > 99 {
		return nil, models.NewGameError(models.ErrInvalidQuantity, "购买数量无效：%d", quantity)
	}
	if quantity == 0 {
		quantity = 1
	}
	if !item.CanTrade || item.Price <= 0 {
		return nil, models.NewGameError(models.ErrItemNotTradable, "「%s」不在商店出售。", item.Name)
	}
	if !item.Faction.Allows(agg.Player.Faction) {
		return nil, models.NewGameError(models.ErrFactionMismatch, "「%s」仅限特定阵营购买。", item.Name)
	}
	if item.UnlockCondition != "" && !agg.HasAchievement(item.UnlockCondition) {
		return nil, models.NewGameError(models.ErrItemLocked, "「%s」需要先解锁成就「%s」。", item.Name, item.UnlockCondition)
	}
	if !item.Stackable && (agg.ItemQuantity(item.Name) > 0 || quantity > 1) {
		return nil, models.NewGameError(models.ErrItemAlreadyOwned, "「%s」只能持有一个。", item.Name)
	}
	return item, nil
}

// Sell продает предмет за половину цены.
func (e *Engine) Sell(s *events.Scope, name string, quantity int) (Outcome, error) {
	item, ok := e.registry.Item(name)
	if !ok {
		return Outcome{}, models.NewGameError(models.ErrUnknownItem, "未知物品：%s", name)
	}
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return Outcome{}, models.NewGameError(models.ErrInvalidQuantity, "出售数量无效：%d", quantity)
	}
	agg := s.Agg
	owned := agg.ItemQuantity(item.Name)
	if owned < quantity {
		return Outcome{}, models.NewGameError(models.ErrItemNotOwned, "「%s」数量不足（持有 %d）。", item.Name, owned)
	}
	if !item.CanTrade {
		return Outcome{}, models.NewGameError(models.ErrItemNotTradable, "「%s」无法出售。", item.Name)
	}

	agg.RemoveItem(item.Name, quantity, false)
	income := item.SellPrice() * quantity
	t := e.target(s, "shop:"+item.Name, 0, 0)
	e.effects.ChangeScore(t, income, models.SourceShop, fmt.Sprintf("出售「%s」×%d", item.Name, quantity))
	s.Emit(models.EventItemSold, map[string]any{"item": item.Name, "quantity": quantity, "income": income})

	b := newOutcome()
	b.say("出售「%s」×%d，获得 %d 积分（当前：%d）。", item.Name, quantity, income, agg.Player.CurrentScore)
	b.set("income", income)
	return b.done(), nil
}

// Use применяет эффект предмета. Расходники списываются; пассивные предметы
// активируются один раз и остаются в инвентаре.
func (e *Engine) Use(s *events.Scope, name string) (Outcome, error) {
	item, ok := e.registry.Item(name)
	if !ok {
		return Outcome{}, models.NewGameError(models.ErrUnknownItem, "未知物品：%s", name)
	}
	agg := s.Agg
	inv, owned := agg.Inventory[item.Name]
	if !owned || inv.Quantity < 1 {
		return Outcome{}, models.NewGameError(models.ErrItemNotOwned, "你没有「%s」。", item.Name)
	}
	passive := item.ItemType == models.ItemPassive
	if passive && inv.UsedCount > 0 {
		return Outcome{}, models.NewGameError(models.ErrItemNotUsable, "「%s」已经生效，无需再次使用。", item.Name)
	}
	if item.Effect.IsZero() || item.Effect.Type == effects.TypeNothing {
		return Outcome{}, models.NewGameError(models.ErrItemNotUsable, "「%s」无法主动使用。", item.Name)
	}

	t := e.target(s, "item:"+item.Name, 0, 0)
	var out effects.Outcome
	s.WithItem(item.Name, func() {
		if passive {
			inv.UsedCount++
		} else {
			agg.RemoveItem(item.Name, 1, true)
		}
		out = e.effects.Apply(t, item.Effect)
		if out.OK {
			s.Emit(models.EventItemUsed, map[string]any{"item": item.Name, "itemType": string(item.ItemType)})
		}
	})
	if !out.OK {
		return Outcome{}, models.NewGameError(models.ErrItemNotUsable, "「%s」无法使用：%s", item.Name, out.Message)
	}
	if sess := agg.Session; sess != nil {
		sess.UpdatedAt = e.effects.Now()
	}

	b := newOutcome()
	b.say("使用「%s」。", item.Name)
	b.add(out.Message)
	b.set("item", item.Name)
	for k, v := range out.Extra {
		b.set(k, v)
	}
	return b.done(), nil
}

// AddScore - ручная корректировка счета ГМ.
func (e *Engine) AddScore(s *events.Scope, delta int, reason string) (Outcome, error) {
	if delta == 0 {
		return Outcome{}, models.NewGameError(models.ErrInvalidScoreAdjustment, "调整值不能为 0。")
	}
	if reason == "" {
		reason = "管理员调整"
	}
	applied := e.effects.ChangeScore(e.target(s, "admin", 0, 0), delta, models.SourceAdmin, reason)
	e.logger.Info("Score adjusted", append(logFields(s), zap.Int("delta", delta), zap.Int("applied", applied))...)

	b := newOutcome()
	b.say("积分调整 %+d（当前：%d）。", applied, s.Agg.Player.CurrentScore)
	b.set("applied", applied)
	b.set("currentScore", s.Agg.Player.CurrentScore)
	return b.done(), nil
}
