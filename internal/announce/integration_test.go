//go:build integration

package announce

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"telegram_news/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestConnectWithoutQueue() {
	pub, err := NewRabbitMQ(Config{URL: s.amqpURL, Exchange: "news-only-exchange", RoutingKey: "posted"}, s.logger)
	s.Require().NoError(err)
	s.NoError(pub.Close())
}

func (s *RabbitMQIntegrationSuite) TestAnnounceBody() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "news-exchange",
		RoutingKey: "posted",
		QueueName:  "news-posted",
	}
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	item := domain.NewsItem{
		ID:     "42",
		Title:  "Bridge reopens",
		Link:   "https://example.com/news/42",
		Images: []string{"https://example.com/42.jpg"},
	}
	report := domain.DeliveryReport{Delivered: 2, Recorded: true, Incomplete: true}

	s.Require().NoError(pub.Announce(s.ctx, NewPostedMessage("city", item, report)))

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)
	s.Equal("application/json", msg.ContentType)
	s.Equal("news.posted", msg.Type)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received PostedMessage
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal("city", received.Feed)
	s.Equal("42", received.Item.ID)
	s.Equal(item.Images, received.Item.Images)
	s.Equal(2, received.Delivered)
	s.False(received.Complete)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}
