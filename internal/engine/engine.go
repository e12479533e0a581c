package engine

import (
	"fmt"
	"strings"

	"summit-server/internal/board"
	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/maplayout"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// Области действия правила "вершина занята".
const (
	SummitScopeSession = "session"
	SummitScopeWorld   = "world"
)

// Config - игровые константы.
type Config struct {
	DiceCost          int
	FirstSummitBonus  int
	RepeatTrapPenalty int
	InitialScore      int
	SummitClaimScope  string
}

// DefaultConfig - стандартные правила.
func DefaultConfig() Config {
	return Config{
		DiceCost:          10,
		FirstSummitBonus:  20,
		RepeatTrapPenalty: 10,
		InitialScore:      20,
		SummitClaimScope:  SummitScopeSession,
	}
}

// Engine - машина состояний хода. Единственный компонент, который меняет
// инварианты сессии и прогресса. Все операции работают с агрегатом из scope
// и не выполняют ввод-вывод.
type Engine struct {
	cfg      Config
	registry *content.Registry
	layout   *maplayout.Layout
	effects  *effects.Handler
	logger   *zap.Logger
}

// New создает движок, регистрирует собственные типы эффектов и проверяет,
// что все эффекты реестра известны обработчику.
func New(cfg Config, registry *content.Registry, layout *maplayout.Layout, handler *effects.Handler, logger *zap.Logger) (*Engine, error) {
	if cfg.SummitClaimScope == "" {
		cfg.SummitClaimScope = SummitScopeSession
	}
	if cfg.SummitClaimScope != SummitScopeSession && cfg.SummitClaimScope != SummitScopeWorld {
		return nil, fmt.Errorf("%w: unknown summit claim scope %q", models.ErrConfig, cfg.SummitClaimScope)
	}
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		layout:   layout,
		effects:  handler,
		logger:   logger.Named("GameEngine"),
	}
	if err := registerCustomEffects(handler); err != nil {
		return nil, err
	}
	if err := registry.ValidateEffects(handler); err != nil {
		return nil, err
	}
	return e, nil
}

// Config возвращает правила движка.
func (e *Engine) Config() Config { return e.cfg }

// Effects возвращает обработчик эффектов.
func (e *Engine) Effects() *effects.Handler { return e.effects }

// Outcome - результат операции движка. Ошибки валидации возвращаются отдельно
// как *models.GameError; Outcome с OK=false означает мягкую неудачу, изменения
// которой сохраняются (например, превышение числа маркеров).
type Outcome struct {
	OK      bool
	Code    string
	Message string
	Data    map[string]any
	// ClaimedColumns - колонки, вершины которых подтверждены в этой операции.
	ClaimedColumns []int
}

type outcomeBuilder struct {
	out  Outcome
	msgs []string
}

func newOutcome() *outcomeBuilder {
	return &outcomeBuilder{out: Outcome{OK: true, Data: map[string]any{}}}
}

func (b *outcomeBuilder) say(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if msg != "" {
		b.msgs = append(b.msgs, msg)
	}
}

func (b *outcomeBuilder) add(msg string) {
	if msg != "" {
		b.msgs = append(b.msgs, msg)
	}
}

func (b *outcomeBuilder) set(key string, v any) {
	b.out.Data[key] = v
}

func (b *outcomeBuilder) softFail(kind error) {
	b.out.OK = false
	b.out.Code = models.ErrorCode(kind)
}

func (b *outcomeBuilder) done() Outcome {
	b.out.Message = strings.Join(b.msgs, "\n")
	return b.out
}

func (e *Engine) target(s *events.Scope, source string, c, p int) *effects.Target {
	return &effects.Target{Agg: s.Agg, Scope: s, Source: source, Column: c, Position: p}
}

// activeSession возвращает активную сессию и снимает просроченные ожидания.
func (e *Engine) activeSession(s *events.Scope) (*models.GameSession, error) {
	sess := s.Agg.Session
	if sess == nil || sess.State == models.SessionCompleted || sess.State == models.SessionFailed {
		return nil, models.NewGameError(models.ErrSessionNotFound, "当前没有进行中的游戏，请先开始新游戏。")
	}
	if sess.State == models.SessionPaused {
		return nil, models.NewGameError(models.ErrInvalidSessionState, "游戏已暂停，请先继续游戏。").
			WithDetail("state", sess.State)
	}
	e.gcExpired(sess)
	return sess, nil
}

func (e *Engine) gcExpired(sess *models.GameSession) {
	now := e.effects.Now()
	if sess.FollowUp.Expired(now) {
		e.logger.Debug("Follow-up expired", zap.String("sessionID", sess.SessionID), zap.String("source", sess.FollowUp.Source))
		sess.FollowUp = nil
	}
	if sess.Pending.Expired(now) {
		e.logger.Debug("Pending action expired", zap.String("sessionID", sess.SessionID), zap.String("kind", string(sess.Pending.Kind)))
		sess.Pending = nil
	}
}

// requireTurnState проверяет состояние хода.
func requireTurnState(sess *models.GameSession, allowed ...models.TurnState) error {
	for _, st := range allowed {
		if sess.TurnState == st {
			return nil
		}
	}
	return models.InvalidSessionState(sess.TurnState, allowed...)
}

// requireNoBlockers проверяет ожидания, блокирующие бросок, ход и завершение хода.
func requireNoBlockers(sess *models.GameSession) error {
	if sess.NeedsCheckin {
		return models.NewGameError(models.ErrCheckinRequired, "请先完成打卡再继续。")
	}
	if len(sess.PendingSummitColumns) > 0 {
		return models.NewGameError(models.ErrSummitPending, "请先确认登顶：%v", sess.PendingSummitColumns).
			WithDetail("columns", sess.PendingSummitColumns)
	}
	if sess.Pending != nil {
		return models.NewGameError(models.ErrPendingAction, "请先处理待选事项：%s", sess.Pending.Description).
			WithDetail("pending", sess.Pending.Kind)
	}
	return nil
}

// canAdvance - колонку можно продвинуть на steps клеток в текущем ходу.
func canAdvance(agg *models.PlayerAggregate, sess *models.GameSession, c, steps int) bool {
	h, err := board.Height(c)
	if err != nil || agg.Progress.IsCompleted(c) {
		return false
	}
	cur := agg.Progress.Get(c)
	if m := sess.MarkerAt(c); m != nil {
		cur += m.Position
	} else if len(sess.TemporaryMarkers) >= models.MaxTemporaryMarkers {
		return false
	}
	return cur+steps <= h
}

// hasLegalMove - хотя бы одна колонка хотя бы одной пары продвигается.
// При трех маркерах это в точности условие "пара называет колонку с маркером".
func hasLegalMove(agg *models.PlayerAggregate, sess *models.GameSession, pairs []board.Pair) bool {
	for _, p := range pairs {
		if canAdvance(agg, sess, p.First, 1) || canAdvance(agg, sess, p.Second, 1) {
			return true
		}
	}
	return false
}

// pairFullyMovable - обе колонки пары можно продвинуть одновременно.
func pairFullyMovable(agg *models.PlayerAggregate, sess *models.GameSession, p board.Pair) bool {
	if p.First == p.Second {
		return canAdvance(agg, sess, p.First, 2)
	}
	if !canAdvance(agg, sess, p.First, 1) || !canAdvance(agg, sess, p.Second, 1) {
		return false
	}
	newCols := 0
	for _, c := range []int{p.First, p.Second} {
		if sess.MarkerAt(c) == nil {
			newCols++
		}
	}
	return len(sess.TemporaryMarkers)+newCols <= models.MaxTemporaryMarkers
}

func logFields(s *events.Scope) []zap.Field {
	return []zap.Field{
		zap.String("playerID", s.Agg.PlayerID()),
		zap.String("sessionID", s.Agg.SessionID()),
	}
}
