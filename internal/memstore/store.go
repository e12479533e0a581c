// Package memstore - GameStore в памяти процесса. Используется в тестах и
// при STORE_DRIVER=memory. Транзакции сериализуются одним мьютексом; при ошибке
// состояние восстанавливается из снимка, сделанного в начале транзакции.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

var _ interfaces.GameStore = (*Store)(nil)

// Store хранит агрегаты игроков сериализованными, поэтому вызывающий
// никогда не делит память с хранилищем.
type Store struct {
	mu           sync.Mutex
	players      map[string][]byte
	transactions map[string][]models.ScoreTransaction
	history      map[string][]models.EncounterRecord
	states       map[string][]models.EncounterState
	mapEvents    []models.MapEvent
	failures     []error
	logger       *zap.Logger
}

// New создает пустое хранилище.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		players:      make(map[string][]byte),
		transactions: make(map[string][]models.ScoreTransaction),
		history:      make(map[string][]models.EncounterRecord),
		states:       make(map[string][]models.EncounterState),
		logger:       logger.Named("MemStore"),
	}
}

// FailCommits заставляет следующие коммиты завершиться ошибками errs по порядку.
// Работа fn при этом откатывается.
func (s *Store) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

type snapshot struct {
	players      map[string][]byte
	transactions map[string][]models.ScoreTransaction
	history      map[string][]models.EncounterRecord
	states       map[string][]models.EncounterState
	mapEvents    []models.MapEvent
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		players:      make(map[string][]byte, len(s.players)),
		transactions: make(map[string][]models.ScoreTransaction, len(s.transactions)),
		history:      make(map[string][]models.EncounterRecord, len(s.history)),
		states:       make(map[string][]models.EncounterState, len(s.states)),
		mapEvents:    s.mapEvents,
	}
	for k, v := range s.players {
		snap.players[k] = v
	}
	for k, v := range s.transactions {
		snap.transactions[k] = v[:len(v):len(v)]
	}
	for k, v := range s.history {
		snap.history[k] = v[:len(v):len(v)]
	}
	for k, v := range s.states {
		snap.states[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.players = snap.players
	s.transactions = snap.transactions
	s.history = snap.history
	s.states = snap.states
	s.mapEvents = snap.mapEvents
}

// RunInTx выполняет fn под мьютексом хранилища.
func (s *Store) RunInTx(ctx context.Context, fn func(tx interfaces.GameStoreTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.restore(snap)
		s.logger.Debug("Injected commit failure", zap.Error(err))
		return err
	}
	return nil
}

// Ping всегда успешен.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close ничего не делает.
func (s *Store) Close() {}

type memTx struct {
	s *Store
}

func (t *memTx) decode(playerID string) (*models.PlayerAggregate, bool, error) {
	raw, ok := t.s.players[playerID]
	if !ok {
		return nil, false, nil
	}
	agg := &models.PlayerAggregate{}
	if err := json.Unmarshal(raw, agg); err != nil {
		return nil, true, fmt.Errorf("failed to decode player %s: %w", playerID, err)
	}
	return agg, true, nil
}

func (t *memTx) encode(agg *models.PlayerAggregate) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to encode player %s: %w", agg.PlayerID(), err)
	}
	t.s.players[agg.PlayerID()] = raw
	return nil
}

func (t *memTx) CreatePlayer(ctx context.Context, agg *models.PlayerAggregate) error {
	if _, ok := t.s.players[agg.PlayerID()]; ok {
		return models.NewGameError(models.ErrPlayerExists, "玩家 %s 已注册。", agg.PlayerID())
	}
	return t.SavePlayer(ctx, agg)
}

func (t *memTx) LoadPlayer(_ context.Context, playerID string) (*models.PlayerAggregate, error) {
	agg, ok, err := t.decode(playerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewGameError(models.ErrPlayerNotFound, "玩家 %s 未注册。", playerID)
	}
	return agg, nil
}

func (t *memTx) SavePlayer(_ context.Context, agg *models.PlayerAggregate) error {
	if err := t.encode(agg); err != nil {
		return err
	}
	pid := agg.PlayerID()
	if len(agg.NewTransactions) > 0 {
		t.s.transactions[pid] = append(t.s.transactions[pid], agg.NewTransactions...)
	}
	if len(agg.NewEncounterRecords) > 0 {
		t.s.history[pid] = append(t.s.history[pid], agg.NewEncounterRecords...)
	}
	if states := agg.EncounterStates(); len(states) > 0 {
		t.s.states[pid] = states
	} else {
		delete(t.s.states, pid)
	}
	agg.NewTransactions = nil
	agg.NewEncounterRecords = nil
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, playerID string, limit int) ([]models.ScoreTransaction, error) {
	all := t.s.transactions[playerID]
	out := make([]models.ScoreTransaction, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (t *memTx) ListEncounterHistory(_ context.Context, playerID string, limit int) ([]models.EncounterRecord, error) {
	all := t.s.history[playerID]
	out := make([]models.EncounterRecord, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (t *memTx) ListEncounterStates(_ context.Context, playerID string) ([]models.EncounterState, error) {
	return append([]models.EncounterState(nil), t.s.states[playerID]...), nil
}

func (t *memTx) ColumnMarkerHolders(_ context.Context, column int, exceptPlayerID string) ([]string, error) {
	var holders []string
	for _, pid := range t.playerIDs() {
		if pid == exceptPlayerID {
			continue
		}
		agg, _, err := t.decode(pid)
		if err != nil {
			return nil, err
		}
		if agg.Session.IsOpen() && agg.Session.MarkerAt(column) != nil {
			holders = append(holders, pid)
		}
	}
	return holders, nil
}

func (t *memTx) Leaderboard(_ context.Context, limit int) ([]models.LeaderboardEntry, error) {
	entries := make([]models.LeaderboardEntry, 0, len(t.s.players))
	for _, pid := range t.playerIDs() {
		agg, _, err := t.decode(pid)
		if err != nil {
			return nil, err
		}
		p := agg.Player
		if !p.IsActive {
			continue
		}
		entries = append(entries, models.LeaderboardEntry{
			PlayerID:         p.PlayerID,
			Username:         p.Username,
			Faction:          p.Faction,
			CurrentScore:     p.CurrentScore,
			TotalScore:       p.TotalScore,
			GamesWon:         p.GamesWon,
			CompletedColumns: len(agg.Progress.Completed),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.CurrentScore != b.CurrentScore {
			return a.CurrentScore > b.CurrentScore
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return a.PlayerID < b.PlayerID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (t *memTx) ReplaceMapEvents(_ context.Context, evs []models.MapEvent) error {
	t.s.mapEvents = append([]models.MapEvent(nil), evs...)
	return nil
}

func (t *memTx) ListMapEvents(_ context.Context) ([]models.MapEvent, error) {
	return append([]models.MapEvent(nil), t.s.mapEvents...), nil
}

func (t *memTx) ResetAll(_ context.Context) error {
	t.s.players = make(map[string][]byte)
	t.s.transactions = make(map[string][]models.ScoreTransaction)
	t.s.history = make(map[string][]models.EncounterRecord)
	t.s.states = make(map[string][]models.EncounterState)
	return nil
}

func (t *memTx) playerIDs() []string {
	ids := make([]string, 0, len(t.s.players))
	for id := range t.s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
