package aggregator

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"
	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"
	"github.com/HrishikShaji/mqtt-dashboard/internal/window"

	"go.uber.org/zap"
)

// ViewSink получает каждую пересобранную модель топика
type ViewSink interface {
	PublishView(view viewmodel.View)
}

// Aggregator раскладывает топики по воркерам: каждым окном владеет ровно один воркер,
// поэтому окна не требуют блокировок.
type Aggregator struct {
	workers  int
	capacity int
	builder  *viewmodel.Builder
	sink     ViewSink
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

func NewAggregator(sink ViewSink, builder *viewmodel.Builder, workers, capacity int, logger *zap.Logger) *Aggregator {
	if workers <= 0 {
		workers = 1
	}
	return &Aggregator{
		workers:  workers,
		capacity: capacity,
		builder:  builder,
		sink:     sink,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// topicWindow окно одного топика вместе с типом его датчика
type topicWindow struct {
	kind  domain.Kind
	store *window.SampleStore
}

// Start блокируется, пока не закроется канал updates, не отменится ctx или не вызовут Stop
func (a *Aggregator) Start(ctx context.Context, updates <-chan domain.Update) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(a.done)

	a.mu.Lock()
	a.cancel = cancel
	if a.stopped {
		cancel()
	}
	a.mu.Unlock()

	a.logger.Info("starting aggregator",
		zap.Int("workers", a.workers),
		zap.Int("window_capacity", a.capacity),
		zap.String("start_time", time.Now().Format(time.RFC3339)),
	)

	metrics.AggregatorActiveWorkers.Set(float64(a.workers))

	shards := make([]chan domain.Update, a.workers)
	var wg sync.WaitGroup

	for i := 0; i < a.workers; i++ {
		shards[i] = make(chan domain.Update, 64)
		wg.Add(1)
		go func(workerID int, in <-chan domain.Update) {
			defer wg.Done()
			defer metrics.AggregatorActiveWorkers.Dec()
			a.runWorker(ctx, workerID, in)
		}(i, shards[i])
	}

	a.dispatch(ctx, updates, shards)

	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()

	metrics.AggregatorActiveWorkers.Set(0)

	a.logger.Info("aggregator stopped",
		zap.String("stop_time", time.Now().Format(time.RFC3339)),
	)
}

func (a *Aggregator) dispatch(ctx context.Context, updates <-chan domain.Update, shards []chan domain.Update) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				a.logger.Info("update channel closed, stopping dispatch")
				return
			}
			metrics.AggregatorUpdatesReceived.Inc()

			select {
			case shards[ShardFor(update.Topic, len(shards))] <- update:
			case <-ctx.Done():
				a.logger.Info("context cancelled, stopping dispatch")
				return
			}

		case <-ctx.Done():
			a.logger.Info("context cancelled, stopping dispatch")
			return
		}
	}
}

func (a *Aggregator) runWorker(ctx context.Context, workerID int, in <-chan domain.Update) {
	windows := make(map[string]*topicWindow)

	a.logger.Debug("worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case update, ok := <-in:
			if !ok {
				a.logger.Debug("shard channel closed, exiting worker", zap.Int("worker_id", workerID))
				return
			}
			a.apply(windows, update)

		case <-ctx.Done():
			a.logger.Debug("context cancelled, exiting worker", zap.Int("worker_id", workerID))
			return
		}
	}
}

// apply: push -> build -> publish, синхронно для каждого обновления
func (a *Aggregator) apply(windows map[string]*topicWindow, update domain.Update) {
	tw, ok := windows[update.Topic]
	if !ok {
		tw = &topicWindow{kind: update.Kind, store: window.NewSampleStore(a.capacity)}
		windows[update.Topic] = tw
	}
	if update.Kind != "" && update.Kind != tw.kind {
		a.logger.Warn("[Aggregator] topic kind changed, resetting window",
			zap.String("topic", update.Topic),
			zap.String("old_kind", string(tw.kind)),
			zap.String("new_kind", string(update.Kind)),
		)
		tw.kind = update.Kind
		tw.store.Reset()
	}

	if update.Replace {
		tw.store.Reset(update.Readings...)
	} else {
		for _, r := range update.Readings {
			tw.store.Push(r)
		}
	}

	startTime := time.Now()
	view := a.builder.Build(update.Topic, tw.kind, tw.store)
	metrics.AggregatorViewBuildTime.Observe(time.Since(startTime).Seconds())
	metrics.WindowSize.WithLabelValues(update.Topic).Set(float64(tw.store.Len()))

	a.sink.PublishView(view)
	metrics.AggregatorUpdatesProcessed.Inc()

	a.logger.Debug("[Aggregator] view rebuilt",
		zap.String("topic", update.Topic),
		zap.Int("readings", len(update.Readings)),
		zap.Bool("replace", update.Replace),
		zap.Int("window", tw.store.Len()),
		zap.String("quality", string(view.Quality.Status)),
	)
}

// Stop аккуратная остановка агрегатора
func (a *Aggregator) Stop() {
	a.logger.Info("stopping aggregator gracefully")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
	}
}

// Wait ждёт завершения Start
func (a *Aggregator) Wait() {
	<-a.done
}

// ShardFor выбирает воркера для топика
func ShardFor(topic string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int(h.Sum32() % uint32(shards))
}
