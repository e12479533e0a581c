// Package messaging публикует закоммиченные игровые события в RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"summit-server/internal/events"
	"summit-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	appID              = "summit-server"
	publishAttempts    = 3
	publishTimeout     = 10 * time.Second
	connectAttempts    = 5
	connectRetryDelay  = 5 * time.Second
	headerEventType    = "x-event-type"
	headerPlayerID     = "x-player-id"
	contentTypeJSON    = "application/json"
	defaultEventsQueue = "game_events"
)

var _ events.Sink = (*EventPublisher)(nil)

// Connect подключается к RabbitMQ с несколькими попытками.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < connectAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", connectAttempts),
			zap.Duration("retry_delay", connectRetryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
	return nil, err
}

// EventPublisher отправляет каждое событие отдельным сообщением в очередь.
type EventPublisher struct {
	mu        sync.Mutex
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewEventPublisher открывает канал и объявляет durable-очередь событий.
func NewEventPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*EventPublisher, error) {
	if queueName == "" {
		queueName = defaultEventsQueue
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event publisher: failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("event publisher: failed to declare queue '%s': %w", queueName, err)
	}
	logger = logger.Named("EventPublisher")
	logger.Info("Game events queue declared", zap.String("queue", queueName))
	return &EventPublisher{channel: ch, queueName: queueName, logger: logger}, nil
}

// PublishEvents публикует события в порядке генерации.
func (p *EventPublisher) PublishEvents(ctx context.Context, evs []models.GameEvent) error {
	var errs []error
	for _, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal event %s: %w", ev.Type, err))
			continue
		}
		headers := amqp.Table{headerEventType: string(ev.Type), headerPlayerID: ev.PlayerID}
		if err := p.publishMessage(ctx, body, headers, ev.Timestamp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *EventPublisher) publishMessage(ctx context.Context, body []byte, headers amqp.Table, ts time.Time) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  contentTypeJSON,
				DeliveryMode: amqp.Persistent,
				Headers:      headers,
				Body:         body,
				Timestamp:    ts,
				AppId:        appID,
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.Int("attempt", attempt), zap.String("queue", p.queueName), zap.Error(err))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("failed to publish to queue %s after retries: %w", p.queueName, err)
}

// Close закрывает канал.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	return err
}
