package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"summit-server/internal/engine"
	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

const maxUsernameLength = 64

// RegisterPlayer создает игрока со стартовым счетом.
func (s *Service) RegisterPlayer(ctx context.Context, playerID, username, faction string) (*models.Result, error) {
	playerID = strings.TrimSpace(playerID)
	username = strings.TrimSpace(username)
	if playerID == "" {
		return models.Fail(models.NewGameError(models.ErrInvalidInput, "玩家 ID 不能为空。")), nil
	}
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return models.Fail(models.NewGameError(models.ErrInvalidInput, "昵称长度必须在 1 到 %d 个字符之间。", maxUsernameLength)), nil
	}
	f, ok := models.ParseFaction(strings.TrimSpace(faction))
	if !ok {
		return models.Fail(models.NewGameError(models.ErrInvalidInput, "未知阵营：%s（可选：收养人 / Aeonreth）", faction)), nil
	}

	return s.mutateMany(ctx, "registerPlayer", []string{playerID}, func(o *opCtx) (engine.Outcome, error) {
		now := s.engine.Effects().Now()
		agg := models.NewPlayerAggregate(&models.Player{
			PlayerID:   playerID,
			Username:   username,
			Faction:    f,
			IsActive:   true,
			CreatedAt:  now,
			LastActive: now,
		})
		o.create(agg)
		o.scope = s.bus.NewScope(agg)
		return s.engine.InitPlayer(o.scope), nil
	})
}

// statusView - ответ getGameStatus.
type statusView struct {
	engine.Status
	EncounterStates []models.EncounterState `json:"encounterStates,omitempty"`
}

// GetGameStatus возвращает снимок игрока и незавершенные встречи.
func (s *Service) GetGameStatus(ctx context.Context, playerID string) (*models.Result, error) {
	return s.view(ctx, "getGameStatus", playerID, func(tx interfaces.GameStoreTx, agg *models.PlayerAggregate) (*models.Result, error) {
		states, err := tx.ListEncounterStates(ctx, playerID)
		if err != nil {
			return nil, err
		}
		st := s.engine.Status(agg)
		return &models.Result{
			OK:      true,
			Message: describeStatus(st),
			Data:    statusView{Status: st, EncounterStates: states},
		}, nil
	})
}

func describeStatus(st engine.Status) string {
	msg := fmt.Sprintf("%s｜积分 %d｜已登顶 %d 列", st.Player.Username, st.Player.CurrentScore, len(st.Completed))
	if st.Session == nil {
		return msg + "｜尚未开始游戏"
	}
	return msg + fmt.Sprintf("｜第 %d 回合（%s）", st.Session.TurnNumber, st.Session.TurnState)
}

// GetInventory возвращает инвентарь игрока.
func (s *Service) GetInventory(ctx context.Context, playerID string) (*models.Result, error) {
	return s.view(ctx, "getInventory", playerID, func(_ interfaces.GameStoreTx, agg *models.PlayerAggregate) (*models.Result, error) {
		items := models.SortedInventory(agg.Inventory)
		msg := "背包是空的。"
		if len(items) > 0 {
			parts := make([]string, 0, len(items))
			for _, it := range items {
				parts = append(parts, it.ItemName+"×"+strconv.Itoa(it.Quantity))
			}
			msg = "背包：" + strings.Join(parts, "、")
		}
		return &models.Result{OK: true, Message: msg, Data: items}, nil
	})
}

// GetAchievements возвращает список достижений с отметками открытия.
func (s *Service) GetAchievements(ctx context.Context, playerID string) (*models.Result, error) {
	return s.view(ctx, "getAchievements", playerID, func(_ interfaces.GameStoreTx, agg *models.PlayerAggregate) (*models.Result, error) {
		if s.achievements == nil {
			return &models.Result{OK: true, Message: "成就系统未启用。"}, nil
		}
		list := s.achievements.List(agg)
		unlocked := 0
		for _, p := range list {
			if p.Unlocked {
				unlocked++
			}
		}
		return &models.Result{OK: true, Message: "已解锁成就 " + strconv.Itoa(unlocked) + "/" + strconv.Itoa(len(list)), Data: list}, nil
	})
}

// historyView - журнал счета и встреч игрока.
type historyView struct {
	Transactions []models.ScoreTransaction `json:"transactions"`
	Encounters   []models.EncounterRecord  `json:"encounters"`
}

// GetHistory возвращает последние транзакции счета и встречи, новые первыми.
func (s *Service) GetHistory(ctx context.Context, playerID string, limit int) (*models.Result, error) {
	limit = clampLimit(limit)
	return s.view(ctx, "getHistory", playerID, func(tx interfaces.GameStoreTx, _ *models.PlayerAggregate) (*models.Result, error) {
		txs, err := tx.ListTransactions(ctx, playerID, limit)
		if err != nil {
			return nil, err
		}
		encs, err := tx.ListEncounterHistory(ctx, playerID, limit)
		if err != nil {
			return nil, err
		}
		return &models.Result{
			OK:      true,
			Message: "最近 " + strconv.Itoa(len(txs)) + " 条积分记录，" + strconv.Itoa(len(encs)) + " 次遭遇。",
			Data:    historyView{Transactions: txs, Encounters: encs},
		}, nil
	})
}

// GetRecentEvents возвращает последние закоммиченные события игрока из
// истории процесса. Пустой playerID - события всех игроков.
func (s *Service) GetRecentEvents(_ context.Context, playerID string, limit int) (*models.Result, error) {
	evs := s.bus.Ring().Recent(playerID, clampLimit(limit))
	return &models.Result{OK: true, Message: "最近 " + strconv.Itoa(len(evs)) + " 条事件。", Data: evs}, nil
}

// ClaimReward выдает награду открытого достижения с ручным получением.
func (s *Service) ClaimReward(ctx context.Context, playerID, achievement string) (*models.Result, error) {
	if s.achievements == nil {
		return models.Fail(models.NewGameError(models.ErrAchievementNotFound, "成就系统未启用。")), nil
	}
	return s.mutate(ctx, "claimReward", playerID, func(o *opCtx) (engine.Outcome, error) {
		out, err := s.achievements.Claim(o.scope, achievement)
		if err != nil {
			return engine.Outcome{}, err
		}
		return engine.Outcome{OK: true, Message: out.Message, Data: out.Extra}, nil
	})
}

// AddScore - ручная корректировка счета.
func (s *Service) AddScore(ctx context.Context, playerID string, delta int, reason string) (*models.Result, error) {
	return s.mutate(ctx, "addScore", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.AddScore(o.scope, delta, strings.TrimSpace(reason))
	})
}

// GetLeaderboard возвращает рейтинг. Сначала читается кэш, при промахе -
// хранилище, и кэш заполняется.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) (*models.Result, error) {
	limit = clampLimit(limit)
	if s.leaderboard != nil {
		entries, err := s.leaderboard.Top(ctx, limit)
		if err != nil {
			s.logger.Warn("Leaderboard cache read failed, falling back to store", zap.Error(err))
		} else if len(entries) > 0 {
			return leaderboardResult(entries), nil
		}
	}

	var entries []models.LeaderboardEntry
	fetch := limit
	if s.leaderboard != nil {
		fetch = leaderboardCacheSize
	}
	err := s.runTx(ctx, "getLeaderboard", func(tx interfaces.GameStoreTx) error {
		var err error
		entries, err = tx.Leaderboard(ctx, fetch)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.leaderboard != nil && len(entries) > 0 {
		if err := s.leaderboard.Fill(ctx, entries); err != nil {
			s.logger.Warn("Failed to fill leaderboard cache", zap.Error(err))
		}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return leaderboardResult(entries), nil
}

func leaderboardResult(entries []models.LeaderboardEntry) *models.Result {
	if len(entries) == 0 {
		return &models.Result{OK: true, Message: "暂无玩家。", Data: []models.LeaderboardEntry{}}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, strconv.Itoa(e.Rank)+". "+e.Username+" "+strconv.Itoa(e.CurrentScore))
	}
	return &models.Result{OK: true, Message: strings.Join(lines, "\n"), Data: entries}
}

// refreshLeaderboard обновляет строку игрока в кэше после коммита.
func (s *Service) refreshLeaderboard(ctx context.Context, agg *models.PlayerAggregate) {
	if s.leaderboard == nil {
		return
	}
	p := agg.Player
	entry := models.LeaderboardEntry{
		PlayerID:         p.PlayerID,
		Username:         p.Username,
		Faction:          p.Faction,
		CurrentScore:     p.CurrentScore,
		TotalScore:       p.TotalScore,
		GamesWon:         p.GamesWon,
		CompletedColumns: len(agg.Progress.Completed),
	}
	if err := s.leaderboard.Update(ctx, entry); err != nil {
		s.logger.Warn("Failed to update leaderboard cache", zap.String("playerID", p.PlayerID), zap.Error(err))
	}
}
