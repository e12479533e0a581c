package database

import (
	"context"
	"fmt"

	"summit-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	columnHoldersQuery = `
        SELECT DISTINCT gs.player_id
        FROM game_sessions gs
        JOIN temporary_markers tm ON tm.session_id = gs.session_id
        WHERE gs.session_state IN ('Active', 'Paused') AND tm.column_number = $1 AND gs.player_id <> $2
        ORDER BY gs.player_id`

	leaderboardQuery = `
        SELECT p.player_id, p.username, p.faction, p.current_score, p.total_score, p.games_won,
               COUNT(pp.progress_id) FILTER (WHERE pp.is_completed) AS completed_columns
        FROM players p
        LEFT JOIN player_progress pp ON pp.player_id = p.player_id
        WHERE p.is_active
        GROUP BY p.player_id
        ORDER BY p.current_score DESC, p.total_score DESC, p.player_id
        LIMIT $1`

	deleteMapEventsQuery = `DELETE FROM map_events`
	insertMapEventQuery  = `
        INSERT INTO map_events (event_id, column_number, position, event_type, event_name, event_data, faction_specific, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`
	listMapEventsQuery = `
        SELECT column_number::text || ',' || position::text AS position_key,
               column_number, position, event_type, event_name,
               COALESCE((event_data->>'contentId')::int, 0) AS content_id,
               faction_specific
        FROM map_events
        WHERE is_active
        ORDER BY column_number, position`

	// Каскад удаляет сессии, маркеры, инвентарь, эффекты и историю.
	resetAllQuery = `TRUNCATE players, game_sessions, temporary_markers, player_progress, player_inventory,
        player_achievements, score_transactions, player_effects, encounter_history, player_encounter_states CASCADE`
)

// ColumnMarkerHolders возвращает игроков с открытой сессией и маркером на колонке.
func (r *pgTx) ColumnMarkerHolders(ctx context.Context, column int, exceptPlayerID string) ([]string, error) {
	rows, err := r.tx.Query(ctx, columnHoldersQuery, column, exceptPlayerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query column marker holders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect column marker holders: %w", err)
	}
	return ids, nil
}

// Leaderboard - рейтинг активных игроков по текущему счету.
func (r *pgTx) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	if err := pgxscan.Select(ctx, r.tx, &entries, leaderboardQuery, limit); err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// ReplaceMapEvents заменяет таблицу событий карты.
func (r *pgTx) ReplaceMapEvents(ctx context.Context, evs []models.MapEvent) error {
	batch := &pgx.Batch{}
	batch.Queue(deleteMapEventsQuery)
	for _, ev := range evs {
		var faction *string
		if ev.Faction != nil {
			f := string(*ev.Faction)
			faction = &f
		}
		data := map[string]any{"contentId": ev.ContentID, "positionKey": ev.PositionKey}
		batch.Queue(insertMapEventQuery, uuid.New(), ev.Column, ev.Position, ev.Kind, ev.Name, data, faction)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		r.logger.Error("Failed to replace map events", zap.Int("count", len(evs)), zap.Error(err))
		return fmt.Errorf("failed to replace map events: %w", err)
	}
	r.logger.Debug("Map events replaced", zap.Int("count", len(evs)))
	return nil
}

// ListMapEvents возвращает активные события карты.
func (r *pgTx) ListMapEvents(ctx context.Context) ([]models.MapEvent, error) {
	var evs []models.MapEvent
	if err := pgxscan.Select(ctx, r.tx, &evs, listMapEventsQuery); err != nil {
		return nil, fmt.Errorf("failed to list map events: %w", err)
	}
	return evs, nil
}

// ResetAll удаляет все игровые данные. События карты сохраняются.
func (r *pgTx) ResetAll(ctx context.Context) error {
	if _, err := r.tx.Exec(ctx, resetAllQuery); err != nil {
		r.logger.Error("Failed to reset game data", zap.Error(err))
		return fmt.Errorf("failed to reset game data: %w", err)
	}
	r.logger.Warn("All game data reset")
	return nil
}
