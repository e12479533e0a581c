package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"summit-server/internal/messaging"
	"summit-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const testQueue = "summit_events_test"

type PublisherSuite struct {
	suite.Suite
	ctx          context.Context
	logger       *zap.Logger
	rmqContainer *rabbitmq.RabbitMQContainer
	conn         *amqp.Connection
	publisher    *messaging.EventPublisher
}

func (s *PublisherSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.logger, err = zap.NewDevelopment()
	s.Require().NoError(err)

	s.rmqContainer, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete"),
		),
	)
	s.Require().NoError(err, "Failed to start rabbitmq container")

	url, err := s.rmqContainer.AmqpURL(s.ctx)
	s.Require().NoError(err)

	s.conn, err = messaging.Connect(s.ctx, url, s.logger)
	s.Require().NoError(err)

	s.publisher, err = messaging.NewEventPublisher(s.conn, testQueue, s.logger)
	s.Require().NoError(err)
}

func (s *PublisherSuite) TearDownSuite() {
	if s.publisher != nil {
		s.NoError(s.publisher.Close())
	}
	if s.conn != nil {
		s.conn.Close()
	}
	if s.rmqContainer != nil {
		if err := s.rmqContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate rabbitmq container", zap.Error(err))
		}
	}
}

func (s *PublisherSuite) TestPublishEventsKeepsOrder() {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()
	deliveries, err := ch.Consume(testQueue, "", true, false, false, false, nil)
	s.Require().NoError(err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evs := []models.GameEvent{
		{Type: models.EventGameStarted, PlayerID: "p1", Timestamp: at},
		{Type: models.EventDiceRolled, PlayerID: "p1", SessionID: "s1", Data: map[string]any{"dice": []int{1, 2}}, Timestamp: at},
	}
	s.Require().NoError(s.publisher.PublishEvents(s.ctx, evs))

	for i, want := range evs {
		select {
		case d := <-deliveries:
			s.Equal("application/json", d.ContentType)
			s.Equal("summit-server", d.AppId)
			s.Equal(string(want.Type), d.Headers["x-event-type"])
			s.Equal("p1", d.Headers["x-player-id"])
			var got models.GameEvent
			s.Require().NoError(json.Unmarshal(d.Body, &got))
			s.Equal(want.Type, got.Type, "message %d", i)
			s.Equal(want.SessionID, got.SessionID)
		case <-time.After(10 * time.Second):
			s.FailNow("timed out waiting for event", "message %d", i)
		}
	}
}

func (s *PublisherSuite) TestPublishAfterCloseFails() {
	p, err := messaging.NewEventPublisher(s.conn, testQueue+"_closed", s.logger)
	s.Require().NoError(err)
	s.Require().NoError(p.Close())
	s.NoError(p.Close())

	err = p.PublishEvents(s.ctx, []models.GameEvent{{Type: models.EventGameStarted, PlayerID: "p1"}})
	s.Error(err)
}

func TestPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(PublisherSuite))
}
