// Package notification delivers user-facing messages (verification codes,
// security notices) after the triggering events are committed. Delivery is
// fire and forget: a failed send never rolls back a command.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/errs"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one notification to one recipient. Body carries the rendered
// text; code deliveries put the plain code there before it is discarded.
type Message struct {
	InstanceID    string    `json:"instanceId"`
	UserID        string    `json:"userId"`
	Channel       Channel   `json:"channel"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Sender hands a message to a delivery channel.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// LogSender writes notifications to the log. Development default; the
// plain code in Body makes manual verification flows testable.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg *Message) error {
	s.logger.Info("notification",
		zap.String("channel", string(msg.Channel)),
		zap.String("instanceID", msg.InstanceID),
		zap.String("userID", msg.UserID),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// QueueSender publishes notifications to NATS for an external delivery
// worker. Subjects are notifications.<channel>.
type QueueSender struct {
	conn *nats.Conn
}

func NewQueueSender(conn *nats.Conn) *QueueSender {
	return &QueueSender{conn: conn}
}

func (s *QueueSender) Send(_ context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errs.NewInternal(err, "NOTIF-qL58w", "failed to marshal notification")
	}
	if err := s.conn.Publish("notifications."+string(msg.Channel), data); err != nil {
		return errs.NewInternal(err, "NOTIF-x03Tm", "failed to publish notification")
	}
	return nil
}
