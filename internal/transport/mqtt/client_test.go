package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"

	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startBroker поднимает встроенный брокер на свободном порту
func startBroker(t *testing.T) string {
	t.Helper()

	addr := freeAddr(t)
	broker := startBrokerAt(t, addr)
	t.Cleanup(func() { _ = broker.Close() })
	return addr
}

func startBrokerAt(t *testing.T, addr string) *mochi.Server {
	t.Helper()

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())
	return broker
}

func dispose(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Dispose(ctx)
}

func newTestClient(addr, id string, handler Handler) *Client {
	return NewClient(Config{
		Broker:     addr,
		ClientID:   id,
		QoS:        1,
		KeepAlive:  30,
		RetryDelay: 50 * time.Millisecond,
	}, handler, zap.NewNop())
}

// publishUntilReceived публикует, пока подписчик не получит сообщение:
// подписка восстанавливается асинхронно после подключения.
func publishUntilReceived(t *testing.T, ctx context.Context, pub *Client, topic string, received <-chan domain.Message) domain.Message {
	t.Helper()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		_ = pub.Publish(ctx, topic, []byte(`{"state":true}`))
		select {
		case msg := <-received:
			return msg
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("message was not delivered")
			return domain.Message{}
		}
	}
}

func TestClient_SubscribePublish(t *testing.T) {
	addr := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan domain.Message, 1)
	sub := newTestClient(addr, "dashboard", func(_ context.Context, msg domain.Message) error {
		received <- msg
		return nil
	})
	assert.Equal(t, StatusDisconnected, sub.Status())

	require.NoError(t, sub.Connect(ctx))
	assert.Equal(t, StatusConnected, sub.Status())
	require.NoError(t, sub.Subscribe(ctx, "sensors/power"))
	t.Cleanup(func() { _ = sub.Dispose(context.Background()) })

	pub := newTestClient(addr, "sensor", func(context.Context, domain.Message) error { return nil })
	require.NoError(t, pub.Connect(ctx))
	t.Cleanup(func() { _ = pub.Dispose(context.Background()) })

	require.NoError(t, pub.Publish(ctx, "sensors/power", []byte(`{"voltage":230}`)))

	select {
	case msg := <-received:
		assert.Equal(t, "sensors/power", msg.Topic)
		assert.JSONEq(t, `{"voltage":230}`, string(msg.Payload))
		assert.False(t, msg.ReceivedAt.IsZero())
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestClient_DisposeStopsDelivery(t *testing.T) {
	addr := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan domain.Message, 4)
	sub := newTestClient(addr, "dashboard", func(_ context.Context, msg domain.Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, sub.Connect(ctx))
	require.NoError(t, sub.Subscribe(ctx, "switch/state"))

	require.NoError(t, sub.Dispose(ctx))
	assert.Equal(t, StatusDisconnected, sub.Status())

	pub := newTestClient(addr, "sensor", func(context.Context, domain.Message) error { return nil })
	require.NoError(t, pub.Connect(ctx))
	t.Cleanup(func() { _ = pub.Dispose(context.Background()) })
	require.NoError(t, pub.Publish(ctx, "switch/state", []byte(`{"state":true}`)))

	select {
	case <-received:
		t.Fatal("handler called after dispose")
	case <-time.After(200 * time.Millisecond):
	}

	assert.ErrorIs(t, sub.Publish(ctx, "switch/state", nil), ErrNotConnected)
	assert.NoError(t, sub.Dispose(ctx))
}

func TestClient_ConnectRetriesUntilBrokerAppears(t *testing.T) {
	addr := freeAddr(t)

	received := make(chan domain.Message, 16)
	sub := newTestClient(addr, "dashboard", func(_ context.Context, msg domain.Message) error {
		received <- msg
		return nil
	})
	defer dispose(sub)

	short, cancelShort := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancelShort()
	assert.Error(t, sub.Connect(short))
	assert.Eventually(t, func() bool { return sub.Status() == StatusReconnecting }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Subscribe(context.Background(), "switch/state"))
	assert.ErrorIs(t, sub.Publish(context.Background(), "switch/state", nil), ErrNotConnected)

	broker := startBrokerAt(t, addr)
	defer func() { _ = broker.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sub.Connect(ctx))
	assert.Equal(t, StatusConnected, sub.Status())

	pub := newTestClient(addr, "sensor", func(context.Context, domain.Message) error { return nil })
	require.NoError(t, pub.Connect(ctx))
	defer dispose(pub)

	msg := publishUntilReceived(t, ctx, pub, "switch/state", received)
	assert.Equal(t, "switch/state", msg.Topic)
}

func TestClient_ReconnectsAfterBrokerRestart(t *testing.T) {
	addr := freeAddr(t)
	broker := startBrokerAt(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	received := make(chan domain.Message, 16)
	sub := newTestClient(addr, "dashboard", func(_ context.Context, msg domain.Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, sub.Connect(ctx))
	require.NoError(t, sub.Subscribe(ctx, "switch/state"))
	defer dispose(sub)

	require.NoError(t, broker.Close())
	assert.Eventually(t, func() bool { return sub.Status() == StatusReconnecting }, 5*time.Second, 10*time.Millisecond)

	restarted := startBrokerAt(t, addr)
	defer func() { _ = restarted.Close() }()
	assert.Eventually(t, func() bool { return sub.Status() == StatusConnected }, 10*time.Second, 10*time.Millisecond)

	pub := newTestClient(addr, "sensor", func(context.Context, domain.Message) error { return nil })
	require.NoError(t, pub.Connect(ctx))
	defer dispose(pub)

	msg := publishUntilReceived(t, ctx, pub, "switch/state", received)
	assert.Equal(t, "switch/state", msg.Topic)
}

func TestClient_NoDeliveryAfterCancel(t *testing.T) {
	called := false
	c := newTestClient("127.0.0.1:1", "dashboard", func(context.Context, domain.Message) error {
		called = true
		return nil
	})
	c.cancel()

	handled, err := c.onPublishReceived(paho.PublishReceived{Packet: &paho.Publish{Topic: "switch/state"}})
	assert.NoError(t, err)
	assert.False(t, handled)
	assert.False(t, called)
}

func TestClient_InvalidBroker(t *testing.T) {
	c := newTestClient("mqtt://bad host:1883", "dashboard", func(context.Context, domain.Message) error { return nil })

	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StatusError, c.Status())
}

func TestBrokerURL(t *testing.T) {
	u, err := brokerURL("localhost:1883")
	require.NoError(t, err)
	assert.Equal(t, "mqtt", u.Scheme)
	assert.Equal(t, "localhost:1883", u.Host)

	u, err = brokerURL("ws://broker:8083/mqtt")
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
}
