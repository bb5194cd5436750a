package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusReconnecting = "reconnecting"
	StatusError        = "error"
)

var allStatuses = []string{StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusError}

var ErrNotConnected = errors.New("mqtt client is not connected")

// Handler получает каждое сообщение из подписанных топиков
type Handler func(ctx context.Context, msg domain.Message) error

type Config struct {
	Broker     string // host:port или URL (mqtt://, tls://, ws://)
	ClientID   string
	Username   string
	Password   string
	QoS        byte
	KeepAlive  uint16
	RetryDelay time.Duration // пауза между попытками переподключения
}

// Client владеет соединением с брокером; создаётся явно и освобождается через Dispose.
// Переподключение и повторная подписка выполняются autopaho в фоне.
type Client struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	// ctx отменяется в начале Dispose: после этого обработчик не вызывается
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	topics []string
	status string
}

func NewClient(cfg Config, handler Handler, logger *zap.Logger) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.setStatus(StatusDisconnected)
	return c
}

func brokerURL(broker string) (*url.URL, error) {
	if !strings.Contains(broker, "://") {
		broker = "mqtt://" + broker
	}
	u, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("invalid broker address %q: %w", broker, err)
	}
	return u, nil
}

// Connect запускает менеджер соединения и ждёт первого подключения до отмены ctx.
// Если брокер недоступен, возвращается ошибка, но попытки продолжаются в фоне.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		server, err := brokerURL(c.cfg.Broker)
		if err != nil {
			c.setStatus(StatusError)
			return err
		}

		c.setStatus(StatusConnecting)
		cm, err = autopaho.NewConnection(context.Background(), c.clientConfig(server))
		if err != nil {
			c.setStatus(StatusError)
			return fmt.Errorf("failed to start mqtt connection: %w", err)
		}

		c.mu.Lock()
		c.cm = cm
		c.mu.Unlock()
	}

	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", c.cfg.Broker, err)
	}
	// OnConnectionUp вызывается уже после AwaitConnection
	c.setStatus(StatusConnected)
	return nil
}

func (c *Client) clientConfig(server *url.URL) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{server},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectRetryDelay:             c.cfg.RetryDelay,
		ConnectTimeout:                10 * time.Second,
		ConnectUsername:               c.cfg.Username,
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			if c.ctx.Err() != nil {
				return
			}
			c.setStatus(StatusReconnecting)
			c.logger.Warn("MQTT connection attempt failed", zap.String("broker", c.cfg.Broker), zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
			OnClientError: func(err error) {
				if c.ctx.Err() != nil {
					return
				}
				c.setStatus(StatusReconnecting)
				c.logger.Error("MQTT client error", zap.Error(err))
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if c.ctx.Err() != nil {
					return
				}
				c.setStatus(StatusReconnecting)
				c.logger.Warn("MQTT server disconnected", zap.Uint8("reason_code", d.ReasonCode))
			},
		},
	}
	if c.cfg.Password != "" {
		cfg.ConnectPassword = []byte(c.cfg.Password)
	}
	return cfg
}

// onConnectionUp вызывается при каждом (пере)подключении; сессия не сохраняется,
// поэтому подписки восстанавливаются заново.
func (c *Client) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	if c.ctx.Err() != nil {
		return
	}
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to MQTT broker",
		zap.String("broker", c.cfg.Broker),
		zap.String("client_id", c.cfg.ClientID))

	c.mu.Lock()
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()

	if len(topics) == 0 {
		return
	}
	if err := c.subscribe(c.ctx, cm, topics); err != nil {
		c.logger.Error("Failed to restore subscriptions", zap.Strings("topics", topics), zap.Error(err))
	}
}

func (c *Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if c.ctx.Err() != nil {
		return false, nil
	}

	msg := domain.Message{
		Topic:      pr.Packet.Topic,
		Payload:    pr.Packet.Payload,
		ReceivedAt: time.Now().UTC(),
	}
	metrics.MQTTMessagesReceived.WithLabelValues(msg.Topic).Inc()

	if err := c.handler(c.ctx, msg); err != nil {
		c.logger.Debug("MQTT message rejected by handler",
			zap.String("topic", msg.Topic),
			zap.Error(err))
	}
	return true, nil
}

// Subscribe запоминает топики и подписывается на них. Если соединения сейчас нет,
// подписка будет оформлена при следующем подключении.
func (c *Client) Subscribe(ctx context.Context, topics ...string) error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	for _, t := range topics {
		if !contains(c.topics, t) {
			c.topics = append(c.topics, t)
		}
	}
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		c.logger.Info("MQTT subscription deferred until connected", zap.Strings("topics", topics))
		return nil
	}

	err := c.subscribe(ctx, cm, topics)
	if errors.Is(err, autopaho.ConnectionDownError) {
		c.logger.Info("MQTT subscription deferred until connected", zap.Strings("topics", topics))
		return nil
	}
	return err
}

func (c *Client) subscribe(ctx context.Context, cm *autopaho.ConnectionManager, topics []string) error {
	sub := &paho.Subscribe{Subscriptions: make([]paho.SubscribeOptions, 0, len(topics))}
	for _, t := range topics {
		sub.Subscriptions = append(sub.Subscriptions, paho.SubscribeOptions{Topic: t, QoS: c.cfg.QoS})
	}

	sa, err := cm.Subscribe(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	for i, reason := range sa.Reasons {
		if reason >= 0x80 && i < len(topics) {
			return fmt.Errorf("subscription to %s rejected with reason code %d", topics[i], reason)
		}
	}

	c.logger.Info("Subscribed to MQTT topics", zap.Strings("topics", topics))
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return ErrNotConnected
	}

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     c.cfg.QoS,
		Payload: payload,
	}); err != nil {
		if errors.Is(err, autopaho.ConnectionDownError) {
			return fmt.Errorf("failed to publish to %s: %w", topic, ErrNotConnected)
		}
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Dispose снимает подписки и закрывает соединение. Обработчик больше не вызывается.
func (c *Client) Dispose(ctx context.Context) error {
	c.cancel()

	c.mu.Lock()
	cm := c.cm
	topics := append([]string(nil), c.topics...)
	c.cm = nil
	c.topics = nil
	c.mu.Unlock()

	if cm == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	if len(topics) > 0 {
		if _, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: topics}); err != nil &&
			!errors.Is(err, autopaho.ConnectionDownError) {
			c.logger.Warn("Failed to unsubscribe during dispose", zap.Error(err))
		}
	}

	err := cm.Disconnect(ctx)
	c.setStatus(StatusDisconnected)
	c.logger.Info("Disconnected from MQTT broker")
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		metrics.MQTTConnectionState.WithLabelValues(s).Set(v)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
