package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	playerFields = `player_id, username, faction, current_score, total_score, games_played, games_won, total_dice_rolls, total_turns, is_active, stats, created_at, last_active`

	insertPlayerQuery = `
        INSERT INTO players (` + playerFields + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	getPlayerForUpdateQuery = `SELECT ` + playerFields + ` FROM players WHERE player_id = $1 FOR UPDATE`
	updatePlayerQuery       = `
        UPDATE players SET
            username = $2,
            faction = $3,
            current_score = $4,
            total_score = $5,
            games_played = $6,
            games_won = $7,
            total_dice_rolls = $8,
            total_turns = $9,
            is_active = $10,
            stats = $11,
            last_active = $12
        WHERE player_id = $1`

	getProgressQuery = `
        SELECT column_number, permanent_progress, is_completed, completed_at
        FROM player_progress WHERE player_id = $1`
	upsertProgressQuery = `
        INSERT INTO player_progress (progress_id, player_id, column_number, permanent_progress, is_completed, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (player_id, column_number) DO UPDATE SET
            permanent_progress = EXCLUDED.permanent_progress,
            is_completed = EXCLUDED.is_completed,
            completed_at = EXCLUDED.completed_at`
	deleteStaleProgressQuery = `DELETE FROM player_progress WHERE player_id = $1 AND NOT (column_number = ANY($2::int[]))`

	getInventoryQuery = `
        SELECT player_id, item_name, item_type, quantity, used_count, acquired_at
        FROM player_inventory WHERE player_id = $1 ORDER BY item_name`
	upsertInventoryQuery = `
        INSERT INTO player_inventory (inventory_id, player_id, item_name, item_type, quantity, used_count, acquired_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (player_id, item_name) DO UPDATE SET
            item_type = EXCLUDED.item_type,
            quantity = EXCLUDED.quantity,
            used_count = EXCLUDED.used_count`
	deleteStaleInventoryQuery = `DELETE FROM player_inventory WHERE player_id = $1 AND NOT (item_name = ANY($2::text[]))`

	getAchievementsQuery = `
        SELECT player_id, achievement_name, category, unlocked_at, reward_claimed
        FROM player_achievements WHERE player_id = $1`
	upsertAchievementQuery = `
        INSERT INTO player_achievements (achievement_id, player_id, achievement_name, category, unlocked_at, reward_claimed)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (player_id, achievement_name) DO UPDATE SET
            reward_claimed = EXCLUDED.reward_claimed`

	getEffectsQuery = `
        SELECT effect_type, data FROM player_effects
        WHERE player_id = $1 ORDER BY effect_type, ordinal`
	deleteEffectsQuery = `DELETE FROM player_effects WHERE player_id = $1`
	insertEffectQuery  = `
        INSERT INTO player_effects (effect_id, player_id, effect_type, effect_name, data, duration, remaining_turns, trigger_turn, expires_at, ordinal)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	sessionFields = `session_id, player_id, session_state, turn_state, turn_number, dice_results, forced_dice_result, first_turn, needs_checkin, pending_summit_columns, pending_action, follow_up, session_data, created_at, updated_at, completed_at`

	getLatestSessionQuery = `
        SELECT ` + sessionFields + `
        FROM game_sessions
        WHERE player_id = $1
        ORDER BY (session_state IN ('Active', 'Paused')) DESC, created_at DESC
        LIMIT 1`
	upsertSessionQuery = `
        INSERT INTO game_sessions (` + sessionFields + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        ON CONFLICT (session_id) DO UPDATE SET
            session_state = EXCLUDED.session_state,
            turn_state = EXCLUDED.turn_state,
            turn_number = EXCLUDED.turn_number,
            dice_results = EXCLUDED.dice_results,
            forced_dice_result = EXCLUDED.forced_dice_result,
            first_turn = EXCLUDED.first_turn,
            needs_checkin = EXCLUDED.needs_checkin,
            pending_summit_columns = EXCLUDED.pending_summit_columns,
            pending_action = EXCLUDED.pending_action,
            follow_up = EXCLUDED.follow_up,
            session_data = EXCLUDED.session_data,
            updated_at = EXCLUDED.updated_at,
            completed_at = EXCLUDED.completed_at`
	// Остальные открытые сессии игрока закрываются, чтобы активной оставалась одна.
	closeOtherSessionsQuery = `
        UPDATE game_sessions SET session_state = 'Failed', turn_state = 'Ended', updated_at = $3
        WHERE player_id = $1 AND session_id <> $2 AND session_state IN ('Active', 'Paused')`

	getMarkersQuery = `
        SELECT column_number, current_position FROM temporary_markers
        WHERE session_id = $1 ORDER BY ordinal`
	deleteMarkersQuery = `DELETE FROM temporary_markers WHERE session_id = $1`
	insertMarkerQuery  = `
        INSERT INTO temporary_markers (marker_id, session_id, column_number, current_position, ordinal)
        VALUES ($1, $2, $3, $4, $5)`

	insertTransactionQuery = `
        INSERT INTO score_transactions (transaction_id, player_id, kind, amount, source, description, data, "timestamp")
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	listTransactionsQuery = `
        SELECT transaction_id, player_id, kind, amount, source, description, data, "timestamp"
        FROM score_transactions WHERE player_id = $1
        ORDER BY "timestamp" DESC, transaction_id LIMIT $2`

	insertEncounterHistoryQuery = `
        INSERT INTO encounter_history (history_id, player_id, encounter_name, selected_choice, result, triggered_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	listEncounterHistoryQuery = `
        SELECT history_id, player_id, encounter_name, selected_choice, result, triggered_at
        FROM encounter_history WHERE player_id = $1
        ORDER BY triggered_at DESC LIMIT $2`

	deleteEncounterStatesQuery = `DELETE FROM player_encounter_states WHERE player_id = $1`
	insertEncounterStateQuery  = `
        INSERT INTO player_encounter_states (state_id, player_id, encounter_name, state, selected_choice, follow_up_trigger, context_data, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	listEncounterStatesQuery = `
        SELECT state_id, player_id, encounter_name, state, selected_choice, follow_up_trigger, context_data, expires_at
        FROM player_encounter_states WHERE player_id = $1 ORDER BY state`
)

const (
	effectTypeBuff    = "buff"
	effectTypeDelayed = "delayed"
)

// Compile-time check to ensure pgTx implements the interface.
var _ interfaces.GameStoreTx = (*pgTx)(nil)

// pgTx - операции GameStoreTx в рамках одной транзакции pgx.
type pgTx struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func newPgTx(tx pgx.Tx, logger *zap.Logger) *pgTx {
	return &pgTx{tx: tx, logger: logger}
}

// CreatePlayer вставляет строку игрока и остальные части агрегата.
func (r *pgTx) CreatePlayer(ctx context.Context, agg *models.PlayerAggregate) error {
	p := agg.Player
	log := r.logger.With(zap.String("playerID", p.PlayerID))
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal player stats: %w", err)
	}
	_, err = r.tx.Exec(ctx, insertPlayerQuery,
		p.PlayerID, p.Username, p.Faction, p.CurrentScore, p.TotalScore, p.GamesPlayed, p.GamesWon,
		p.TotalDiceRolls, p.TotalTurns, p.IsActive, stats, p.CreatedAt, p.LastActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			log.Warn("Attempted to create duplicate player")
			return models.NewGameError(models.ErrPlayerExists, "玩家 %s 已注册。", p.PlayerID)
		}
		log.Error("Failed to create player", zap.Error(err))
		return fmt.Errorf("failed to create player: %w", err)
	}
	if err := r.saveParts(ctx, agg); err != nil {
		return err
	}
	log.Info("Player created")
	return nil
}

// LoadPlayer читает агрегат игрока, блокируя строку игрока до конца транзакции.
func (r *pgTx) LoadPlayer(ctx context.Context, playerID string) (*models.PlayerAggregate, error) {
	log := r.logger.With(zap.String("playerID", playerID))
	p := &models.Player{}
	var stats []byte
	err := r.tx.QueryRow(ctx, getPlayerForUpdateQuery, playerID).Scan(
		&p.PlayerID, &p.Username, &p.Faction, &p.CurrentScore, &p.TotalScore, &p.GamesPlayed, &p.GamesWon,
		&p.TotalDiceRolls, &p.TotalTurns, &p.IsActive, &stats, &p.CreatedAt, &p.LastActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewGameError(models.ErrPlayerNotFound, "玩家 %s 未注册。", playerID)
		}
		log.Error("Failed to load player", zap.Error(err))
		return nil, fmt.Errorf("failed to load player: %w", err)
	}
	if err := unmarshalJSON(stats, &p.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player stats: %w", err)
	}

	agg := models.NewPlayerAggregate(p)
	if err := r.loadProgress(ctx, agg); err != nil {
		return nil, err
	}
	if err := r.loadInventory(ctx, agg); err != nil {
		return nil, err
	}
	if err := r.loadAchievements(ctx, agg); err != nil {
		return nil, err
	}
	if err := r.loadEffects(ctx, agg); err != nil {
		return nil, err
	}
	if err := r.loadSession(ctx, agg); err != nil {
		return nil, err
	}
	log.Debug("Player aggregate loaded", zap.String("sessionID", agg.SessionID()))
	return agg, nil
}

func (r *pgTx) loadProgress(ctx context.Context, agg *models.PlayerAggregate) error {
	rows, err := r.tx.Query(ctx, getProgressQuery, agg.PlayerID())
	if err != nil {
		return fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			column, value int
			completed     bool
			completedAt   *time.Time
		)
		if err := rows.Scan(&column, &value, &completed, &completedAt); err != nil {
			return fmt.Errorf("failed to scan progress: %w", err)
		}
		agg.Progress.Permanent[column] = value
		if completed && completedAt != nil {
			agg.Progress.Completed[column] = *completedAt
		}
	}
	return rows.Err()
}

func (r *pgTx) loadInventory(ctx context.Context, agg *models.PlayerAggregate) error {
	var items []*models.InventoryItem
	if err := pgxscan.Select(ctx, r.tx, &items, getInventoryQuery, agg.PlayerID()); err != nil {
		return fmt.Errorf("failed to query inventory: %w", err)
	}
	for _, it := range items {
		agg.Inventory[it.ItemName] = it
	}
	return nil
}

func (r *pgTx) loadAchievements(ctx context.Context, agg *models.PlayerAggregate) error {
	var rows []*models.PlayerAchievement
	if err := pgxscan.Select(ctx, r.tx, &rows, getAchievementsQuery, agg.PlayerID()); err != nil {
		return fmt.Errorf("failed to query achievements: %w", err)
	}
	for _, a := range rows {
		agg.Achievements[a.AchievementName] = a
	}
	return nil
}

func (r *pgTx) loadEffects(ctx context.Context, agg *models.PlayerAggregate) error {
	rows, err := r.tx.Query(ctx, getEffectsQuery, agg.PlayerID())
	if err != nil {
		return fmt.Errorf("failed to query effects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			effectType string
			data       []byte
		)
		if err := rows.Scan(&effectType, &data); err != nil {
			return fmt.Errorf("failed to scan effect: %w", err)
		}
		switch effectType {
		case effectTypeBuff:
			var b models.ActiveBuff
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("failed to unmarshal buff: %w", err)
			}
			agg.Buffs = append(agg.Buffs, b)
		case effectTypeDelayed:
			var d models.DelayedEffect
			if err := json.Unmarshal(data, &d); err != nil {
				return fmt.Errorf("failed to unmarshal delayed effect: %w", err)
			}
			agg.DelayedEffects = append(agg.DelayedEffects, d)
		default:
			r.logger.Warn("Unknown player effect type, skipping", zap.String("playerID", agg.PlayerID()), zap.String("effectType", effectType))
		}
	}
	return rows.Err()
}

func (r *pgTx) loadSession(ctx context.Context, agg *models.PlayerAggregate) error {
	s := &models.GameSession{}
	var (
		dice, forced, pending, followUp, data []byte
		summits                               pq.Int64Array
	)
	err := r.tx.QueryRow(ctx, getLatestSessionQuery, agg.PlayerID()).Scan(
		&s.SessionID, &s.PlayerID, &s.State, &s.TurnState, &s.TurnNumber, &dice, &forced,
		&s.FirstTurn, &s.NeedsCheckin, &summits, &pending, &followUp, &data,
		&s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := unmarshalJSON(dice, &s.CurrentDice); err != nil {
		return fmt.Errorf("failed to unmarshal dice: %w", err)
	}
	if err := unmarshalJSON(forced, &s.ForcedDiceResult); err != nil {
		return fmt.Errorf("failed to unmarshal forced dice: %w", err)
	}
	if err := unmarshalJSON(pending, &s.Pending); err != nil {
		return fmt.Errorf("failed to unmarshal pending action: %w", err)
	}
	if err := unmarshalJSON(followUp, &s.FollowUp); err != nil {
		return fmt.Errorf("failed to unmarshal follow-up: %w", err)
	}
	if err := unmarshalJSON(data, &s.Data); err != nil {
		return fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	for _, c := range summits {
		s.PendingSummitColumns = append(s.PendingSummitColumns, int(c))
	}

	s.TemporaryMarkers = []models.TemporaryMarker{}
	if err := pgxscan.Select(ctx, r.tx, &s.TemporaryMarkers, getMarkersQuery, s.SessionID); err != nil {
		return fmt.Errorf("failed to query markers: %w", err)
	}
	agg.Session = s
	return nil
}

// SavePlayer записывает агрегат и выгружает outbox.
func (r *pgTx) SavePlayer(ctx context.Context, agg *models.PlayerAggregate) error {
	p := agg.Player
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal player stats: %w", err)
	}
	tag, err := r.tx.Exec(ctx, updatePlayerQuery,
		p.PlayerID, p.Username, p.Faction, p.CurrentScore, p.TotalScore, p.GamesPlayed, p.GamesWon,
		p.TotalDiceRolls, p.TotalTurns, p.IsActive, stats, p.LastActive,
	)
	if err != nil {
		r.logger.Error("Failed to update player", zap.String("playerID", p.PlayerID), zap.Error(err))
		return fmt.Errorf("failed to update player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewGameError(models.ErrPlayerNotFound, "玩家 %s 未注册。", p.PlayerID)
	}
	return r.saveParts(ctx, agg)
}

func (r *pgTx) saveParts(ctx context.Context, agg *models.PlayerAggregate) error {
	pid := agg.PlayerID()
	batch := &pgx.Batch{}

	columns := make([]int64, 0, len(agg.Progress.Permanent))
	for c, v := range agg.Progress.Permanent {
		columns = append(columns, int64(c))
		var completedAt *time.Time
		if at, ok := agg.Progress.Completed[c]; ok {
			completedAt = &at
		}
		batch.Queue(upsertProgressQuery, uuid.New(), pid, c, v, completedAt != nil, completedAt)
	}
	batch.Queue(deleteStaleProgressQuery, pid, pq.Int64Array(columns))

	names := make([]string, 0, len(agg.Inventory))
	for name, it := range agg.Inventory {
		names = append(names, name)
		batch.Queue(upsertInventoryQuery, uuid.New(), pid, name, it.ItemType, it.Quantity, it.UsedCount, it.AcquiredAt)
	}
	batch.Queue(deleteStaleInventoryQuery, pid, pq.StringArray(names))

	for name, a := range agg.Achievements {
		batch.Queue(upsertAchievementQuery, uuid.New(), pid, name, a.Category, a.UnlockedAt, a.RewardClaimed)
	}

	batch.Queue(deleteEffectsQuery, pid)
	for i, b := range agg.Buffs {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal buff: %w", err)
		}
		remaining := b.RemainingTurns
		batch.Queue(insertEffectQuery, effectRowID(b.ID), pid, effectTypeBuff, string(b.BuffType), data, b.Duration, &remaining, nil, nil, i)
	}
	for i, d := range agg.DelayedEffects {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal delayed effect: %w", err)
		}
		trigger := d.TriggerTurn
		batch.Queue(insertEffectQuery, effectRowID(d.ID), pid, effectTypeDelayed, d.EffectType, data, 0, nil, &trigger, nil, i)
	}

	if sess := agg.Session; sess != nil {
		if err := queueSession(batch, sess); err != nil {
			return err
		}
	}

	for _, t := range agg.NewTransactions {
		batch.Queue(insertTransactionQuery, t.TransactionID, t.PlayerID, t.Kind, t.Amount, t.Source, t.Description, t.Data, t.Timestamp)
	}
	for _, h := range agg.NewEncounterRecords {
		batch.Queue(insertEncounterHistoryQuery, h.HistoryID, h.PlayerID, h.EncounterName, h.SelectedChoice, h.Result, h.TriggeredAt)
	}

	batch.Queue(deleteEncounterStatesQuery, pid)
	for _, st := range agg.EncounterStates() {
		batch.Queue(insertEncounterStateQuery, uuid.New(), st.PlayerID, st.EncounterName, st.State,
			st.SelectedChoice, st.FollowUpTrigger, st.ContextData, st.ExpiresAt)
	}

	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		r.logger.Error("Failed to save player aggregate", zap.String("playerID", pid), zap.Error(err))
		return fmt.Errorf("failed to save player aggregate: %w", err)
	}
	agg.NewTransactions = nil
	agg.NewEncounterRecords = nil
	return nil
}

func queueSession(batch *pgx.Batch, s *models.GameSession) error {
	dice, err := marshalNullable(s.CurrentDice)
	if err != nil {
		return err
	}
	forced, err := marshalNullable(s.ForcedDiceResult)
	if err != nil {
		return err
	}
	pending, err := marshalNullable(s.Pending)
	if err != nil {
		return err
	}
	followUp, err := marshalNullable(s.FollowUp)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	var summits pq.Int64Array
	for _, c := range s.PendingSummitColumns {
		summits = append(summits, int64(c))
	}

	if s.IsOpen() {
		batch.Queue(closeOtherSessionsQuery, s.PlayerID, s.SessionID, s.UpdatedAt)
	}
	batch.Queue(upsertSessionQuery,
		s.SessionID, s.PlayerID, s.State, s.TurnState, s.TurnNumber, dice, forced,
		s.FirstTurn, s.NeedsCheckin, summits, pending, followUp, data,
		s.CreatedAt, s.UpdatedAt, s.CompletedAt,
	)
	batch.Queue(deleteMarkersQuery, s.SessionID)
	for i, m := range s.TemporaryMarkers {
		batch.Queue(insertMarkerQuery, uuid.New(), s.SessionID, m.Column, m.Position, i)
	}
	return nil
}

// ListTransactions возвращает последние транзакции игрока.
func (r *pgTx) ListTransactions(ctx context.Context, playerID string, limit int) ([]models.ScoreTransaction, error) {
	var txs []models.ScoreTransaction
	if err := pgxscan.Select(ctx, r.tx, &txs, listTransactionsQuery, playerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// ListEncounterHistory возвращает историю встреч игрока.
func (r *pgTx) ListEncounterHistory(ctx context.Context, playerID string, limit int) ([]models.EncounterRecord, error) {
	var recs []models.EncounterRecord
	if err := pgxscan.Select(ctx, r.tx, &recs, listEncounterHistoryQuery, playerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list encounter history: %w", err)
	}
	return recs, nil
}

// ListEncounterStates возвращает незавершенные встречи игрока.
func (r *pgTx) ListEncounterStates(ctx context.Context, playerID string) ([]models.EncounterState, error) {
	var states []models.EncounterState
	if err := pgxscan.Select(ctx, r.tx, &states, listEncounterStatesQuery, playerID); err != nil {
		return nil, fmt.Errorf("failed to list encounter states: %w", err)
	}
	return states, nil
}

// effectRowID - id строки эффекта; старые эффекты без id получают новый.
func effectRowID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func marshalNullable(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session field: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
