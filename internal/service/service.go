package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/config"
	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"
	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"
	"github.com/HrishikShaji/mqtt-dashboard/internal/window"
	"github.com/HrishikShaji/mqtt-dashboard/pkg/utils"

	"go.uber.org/zap"
)

var (
	ErrUnknownTopic  = errors.New("unknown topic")
	ErrStoreDisabled = errors.New("message store is disabled")
)

const (
	SourceMQTT  = "mqtt"
	SourceStore = "store"

	StatusUnknown = "unknown"
)

// Repository real-time хранилище сообщений
type Repository interface {
	SaveMessage(ctx context.Context, env *domain.Envelope) error
	LastMessages(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error)
	HealthCheck(ctx context.Context) error
}

// Publisher очередь обновлений конвейера агрегации
type Publisher interface {
	Submit(update domain.Update) bool
}

// StatusProvider сообщает состояние подключения к брокеру
type StatusProvider interface {
	Status() string
}

type Options struct {
	Repository   Repository
	Mirror       bool
	HistoryLimit int
}

// TopicInfo краткая сводка по топику
type TopicInfo struct {
	Topic       string      `json:"topic"`
	Kind        domain.Kind `json:"kind"`
	Samples     int         `json:"samples"`
	Quality     string      `json:"quality"`
	Color       string      `json:"color"`
	Subscribers int         `json:"subscribers"` // активные потоки обновлений
}

// DashboardService принимает сообщения из MQTT и снимки хранилища,
// передаёт их в конвейер и хранит последнюю модель каждого топика.
type DashboardService struct {
	kinds   map[string]domain.Kind
	order   []string
	inbox   Publisher
	repo    Repository
	mirror  bool
	limit   int
	builder *viewmodel.Builder
	hub     *Hub
	logger  *zap.Logger

	mu     sync.RWMutex
	views  map[string]viewmodel.View
	status StatusProvider
}

func NewDashboardService(topics []config.TopicConfig, inbox Publisher, builder *viewmodel.Builder, opts Options, logger *zap.Logger) *DashboardService {
	s := &DashboardService{
		kinds:   make(map[string]domain.Kind, len(topics)),
		inbox:   inbox,
		repo:    opts.Repository,
		mirror:  opts.Mirror && opts.Repository != nil,
		limit:   opts.HistoryLimit,
		builder: builder,
		hub:     NewHub(),
		logger:  logger,
		views:   make(map[string]viewmodel.View, len(topics)),
	}
	if s.limit <= 0 {
		s.limit = window.DefaultCapacity
	}
	for _, t := range topics {
		s.kinds[t.Topic] = t.Kind
		s.order = append(s.order, t.Topic)
	}
	return s
}

func (s *DashboardService) SetStatusProvider(p StatusProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = p
}

// KindOf возвращает тип датчика топика
func (s *DashboardService) KindOf(topic string) (domain.Kind, bool) {
	kind, ok := s.kinds[topic]
	return kind, ok
}

// Topics возвращает топики в порядке конфигурации
func (s *DashboardService) Topics() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// HandleMessage разбирает MQTT сообщение и ставит его в очередь.
// Ошибка разбора означает, что сообщение отброшено; подписка продолжает работать.
func (s *DashboardService) HandleMessage(ctx context.Context, msg domain.Message) error {
	kind, ok := s.kinds[msg.Topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, msg.Topic)
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	reading, err := domain.ParseReading(msg.Topic, kind, msg.Payload, receivedAt)
	if err != nil {
		metrics.ParseErrors.WithLabelValues(SourceMQTT, msg.Topic).Inc()
		s.logger.Warn("[DashboardService] Dropping malformed payload",
			zap.String("topic", msg.Topic),
			zap.ByteString("payload", msg.Payload),
			zap.Error(err))
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	if s.mirror {
		env := &domain.Envelope{
			ID:        utils.NewUUID().String(),
			Topic:     msg.Topic,
			Payload:   string(msg.Payload),
			Timestamp: receivedAt,
		}
		if err := s.repo.SaveMessage(ctx, env); err != nil {
			s.logger.Error("[DashboardService] Failed to mirror message",
				zap.String("topic", msg.Topic),
				zap.Error(err))
		}
	}

	s.inbox.Submit(domain.Update{
		Topic:    msg.Topic,
		Kind:     kind,
		Readings: []domain.Reading{reading},
	})
	return nil
}

// HandleSnapshot принимает снимок последних K записей хранилища.
// Битые записи пропускаются; окно топика заменяется целиком.
func (s *DashboardService) HandleSnapshot(topic string, envelopes []*domain.Envelope) error {
	kind, ok := s.kinds[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	readings := make([]domain.Reading, 0, len(envelopes))
	for _, env := range envelopes {
		reading, err := domain.ParseEnvelope(env, kind)
		if err != nil {
			metrics.ParseErrors.WithLabelValues(SourceStore, topic).Inc()
			s.logger.Warn("[DashboardService] Skipping malformed record",
				zap.String("topic", topic),
				zap.String("id", env.ID),
				zap.Error(err))
			continue
		}
		readings = append(readings, reading)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	s.inbox.Submit(domain.Update{
		Topic:    topic,
		Kind:     kind,
		Readings: readings,
		Replace:  true,
	})
	return nil
}

// PublishView вызывается воркером агрегатора после каждой пересборки
func (s *DashboardService) PublishView(view viewmodel.View) {
	s.mu.Lock()
	s.views[view.Topic] = view
	s.mu.Unlock()

	s.hub.Broadcast(view)
}

// GetView возвращает последнюю модель топика; для топика без данных строится пустая
func (s *DashboardService) GetView(topic string) (*viewmodel.View, error) {
	kind, ok := s.kinds[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	s.mu.RLock()
	view, ok := s.views[topic]
	s.mu.RUnlock()

	if !ok {
		view = s.builder.Build(topic, kind, window.NewSampleStore(1))
	}
	return &view, nil
}

func (s *DashboardService) ListTopics() []TopicInfo {
	out := make([]TopicInfo, 0, len(s.order))
	for _, topic := range s.order {
		view, _ := s.GetView(topic)
		out = append(out, TopicInfo{
			Topic:       topic,
			Kind:        view.Kind,
			Samples:     view.Samples,
			Quality:     string(view.Quality.Status),
			Color:       view.Quality.Color,
			Subscribers: s.hub.Subscribers(topic),
		})
	}
	return out
}

// Subscribe подписывает на обновления модели топика. Вызывающий обязан вызвать cancel.
func (s *DashboardService) Subscribe(topic string) (<-chan viewmodel.View, func(), error) {
	if _, ok := s.kinds[topic]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	ch, cancel := s.hub.Subscribe(topic)
	return ch, cancel, nil
}

// History возвращает сырые записи хранилища, от старых к новым
func (s *DashboardService) History(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error) {
	if _, ok := s.kinds[topic]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if s.repo == nil {
		return nil, ErrStoreDisabled
	}
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	envs, err := s.repo.LastMessages(ctx, topic, limit)
	if err != nil {
		s.logger.Error("[DashboardService] Failed to load history",
			zap.String("topic", topic),
			zap.Error(err))
		return nil, err
	}
	return envs, nil
}

func (s *DashboardService) ConnectionStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return StatusUnknown
	}
	return s.status.Status()
}

// CheckHealth проверяет хранилище, если оно подключено
func (s *DashboardService) CheckHealth(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.HealthCheck(ctx)
}
