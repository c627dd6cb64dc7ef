package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nijaru/yt-mentions/models"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Notifier announces mentions found by a run.
type Notifier interface {
	Notify(ctx context.Context, run *models.Run) error
	Close() error
}

// Event is the message body published for each mention.
type Event struct {
	RunID        string    `json:"run_id"`
	Query        string    `json:"query"`
	Keyword      string    `json:"keyword"`
	VideoTitle   string    `json:"video_title"`
	TimestampURL string    `json:"timestamp_url"`
	Text         string    `json:"text"`
	FoundAt      time.Time `json:"found_at"`
}

type Noop struct{}

func (Noop) Notify(context.Context, *models.Run) error { return nil }
func (Noop) Close() error { return nil }

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPNotifier struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

func NewAMQPNotifier(url, queue string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "opening channel")
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "declaring queue")
	}

	return &AMQPNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Notify publishes one persistent JSON message per mention in run.
func (n *AMQPNotifier) Notify(ctx context.Context, run *models.Run) error {
	now := time.Now().UTC()
	for _, m := range run.Mentions {
		body, err := json.Marshal(Event{
			RunID:        run.ID,
			Query:        run.Request.Query,
			Keyword:      run.Request.Keyword,
			VideoTitle:   m.VideoTitle,
			TimestampURL: m.TimestampURL,
			Text:         m.Text,
			FoundAt:      now,
		})
		if err != nil {
			return errors.Wrap(err, "encoding event")
		}

		err = n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    run.ID,
			Timestamp:    now,
			Body:         body,
		})
		if err != nil {
			return errors.Wrap(err, "publishing mention")
		}
	}

	logrus.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"queue":    n.queue,
		"mentions": len(run.Mentions),
	}).Debug("Mentions published")
	return nil
}

func (n *AMQPNotifier) Close() error {
	if c, ok := n.ch.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing channel")
		}
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
