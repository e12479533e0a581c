package service

import (
	"context"

	"summit-server/internal/engine"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// PurchaseItem покупает предмет в магазине. Для ограниченных предметов тираж
// резервируется в StockCounter и возвращается, если операция не закоммичена.
func (s *Service) PurchaseItem(ctx context.Context, playerID, item string, quantity int) (*models.Result, error) {
	return s.mutate(ctx, "purchaseItem", playerID, func(o *opCtx) (engine.Outcome, error) {
		def, err := s.engine.CheckPurchase(o.scope.Agg, item, quantity)
		if err != nil {
			return engine.Outcome{}, err
		}
		if !def.Limited || s.stock == nil {
			return s.engine.Purchase(o.scope, item, quantity)
		}

		qty := max(quantity, 1)
		remaining, err := s.stock.Reserve(o.ctx, def.Name, qty, def.Stock)
		if err != nil {
			return engine.Outcome{}, err
		}
		o.onRollback = append(o.onRollback, func(ctx context.Context) {
			if err := s.stock.Release(ctx, def.Name, qty); err != nil {
				s.logger.Error("Failed to release limited item stock",
					zap.String("item", def.Name), zap.Int("quantity", qty), zap.Error(err))
			}
		})
		out, err := s.engine.Purchase(o.scope, item, quantity)
		if err != nil {
			return engine.Outcome{}, err
		}
		out.Data["remainingStock"] = remaining
		return out, nil
	})
}

// SellItem продает предмет за половину цены.
func (s *Service) SellItem(ctx context.Context, playerID, item string, quantity int) (*models.Result, error) {
	return s.mutate(ctx, "sellItem", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Sell(o.scope, item, quantity)
	})
}

// UseItem применяет эффект предмета из инвентаря.
func (s *Service) UseItem(ctx context.Context, playerID, item string) (*models.Result, error) {
	return s.mutate(ctx, "useItem", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Use(o.scope, item)
	})
}
