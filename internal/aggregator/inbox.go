package aggregator

import (
	"sync"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"

	"go.uber.org/zap"
)

// Inbox ограниченная очередь обновлений. При переполнении обновление отбрасывается.
type Inbox struct {
	ch     chan domain.Update
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewInbox(size int, logger *zap.Logger) *Inbox {
	if size <= 0 {
		size = 1
	}
	return &Inbox{
		ch:     make(chan domain.Update, size),
		logger: logger,
	}
}

// Submit не блокируется; false означает, что обновление отброшено
func (in *Inbox) Submit(update domain.Update) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()

	if in.closed {
		metrics.AggregatorUpdatesDropped.WithLabelValues("closed").Inc()
		return false
	}

	select {
	case in.ch <- update:
		return true
	default:
		metrics.AggregatorUpdatesDropped.WithLabelValues("queue_full").Inc()
		in.logger.Warn("Update queue full, dropping update", zap.String("topic", update.Topic))
		return false
	}
}

func (in *Inbox) Updates() <-chan domain.Update {
	return in.ch
}

// Close закрывает очередь; повторный вызов безопасен
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.closed {
		in.closed = true
		close(in.ch)
	}
}
