package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"

	"go.uber.org/zap"
)

// Store запрос "последние K записей топика" плюс уведомления об изменениях
type Store interface {
	LastMessages(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error)
	Watch(ctx context.Context, topics []string) (<-chan string, error)
}

// SnapshotHandler получает снимок после каждого изменения
type SnapshotHandler interface {
	HandleSnapshot(topic string, envelopes []*domain.Envelope) error
}

// Listener подписка на запрос к real-time хранилищу, отфильтрованный по топику
// и ограниченный последними limit записями.
type Listener struct {
	store   Store
	handler SnapshotHandler
	limit   int
	logger  *zap.Logger
}

func NewListener(store Store, handler SnapshotHandler, limit int, logger *zap.Logger) *Listener {
	return &Listener{
		store:   store,
		handler: handler,
		limit:   limit,
		logger:  logger,
	}
}

// Run отдаёт начальные снимки и затем снимок на каждое изменение.
// Возвращается при отмене ctx (это и есть отписка) или закрытии канала уведомлений.
func (l *Listener) Run(ctx context.Context, topics []string) error {
	changes, err := l.store.Watch(ctx, topics)
	if err != nil {
		return fmt.Errorf("failed to watch store: %w", err)
	}

	for _, t := range topics {
		l.refresh(ctx, t)
	}

	for {
		select {
		case topic, ok := <-changes:
			if !ok {
				l.logger.Info("store change feed closed")
				return nil
			}
			l.refresh(ctx, topic)
		case <-ctx.Done():
			return nil
		}
	}
}

// Start запускает Run в фоне; stop отписывается и ждёт завершения
func (l *Listener) Start(ctx context.Context, topics []string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := l.Run(ctx, topics); err != nil {
			l.logger.Error("realtime listener failed", zap.Error(err))
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (l *Listener) refresh(ctx context.Context, topic string) {
	envs, err := l.store.LastMessages(ctx, topic, l.limit)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error("failed to query store snapshot", zap.String("topic", topic), zap.Error(err))
		}
		return
	}

	if err := l.handler.HandleSnapshot(topic, envs); err != nil {
		l.logger.Warn("snapshot rejected", zap.String("topic", topic), zap.Error(err))
	}
}
