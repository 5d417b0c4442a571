package notification_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/eventbus"
	"github.com/authapp/iamcore/pkg/notification"
)

func TestLogSender(t *testing.T) {
	sender := notification.NewLogSender(zap.NewNop())
	err := sender.Send(context.Background(), &notification.Message{
		Channel:   notification.ChannelEmail,
		Recipient: "gigi@example.com",
		Subject:   "Verify your email",
		Body:      "code: 12345678",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestQueueSenderPublishesPerChannel(t *testing.T) {
	srv, err := eventbus.StartEmbeddedServer(t.TempDir())
	require.NoError(t, err)
	defer srv.Shutdown()

	conn, err := nats.Connect(srv.URL())
	require.NoError(t, err)
	defer conn.Close()

	inbox := make(chan *nats.Msg, 1)
	sub, err := conn.ChanSubscribe("notifications.email", inbox)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sender := notification.NewQueueSender(conn)
	msg := &notification.Message{
		InstanceID: "inst-1",
		UserID:     "user-1",
		Channel:    notification.ChannelEmail,
		Recipient:  "gigi@example.com",
		Subject:    "Verify your email",
		Body:       "code: 12345678",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, sender.Send(context.Background(), msg))

	select {
	case got := <-inbox:
		var decoded notification.Message
		require.NoError(t, json.Unmarshal(got.Data, &decoded))
		require.Equal(t, msg.Recipient, decoded.Recipient)
		require.Equal(t, msg.Body, decoded.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
