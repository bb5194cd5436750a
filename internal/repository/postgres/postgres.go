package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/config"
	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NotifyChannel канал LISTEN/NOTIFY; payload уведомления равен топику
const NotifyChannel = "messages_changed"

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	topic       TEXT NOT NULL,
	payload     TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_topic_received_at_idx ON messages (topic, received_at DESC);
`

const (
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

type PostgresRepository struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	retryDelay time.Duration
}

func NewPostgresRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresRepository, error) {
	// Конфигурация пула
	config, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Настройка пула
	config.MaxConns = int32(dbConfig.MaxDBConnections)
	config.MinConns = int32(dbConfig.MinDBConnections)
	config.MaxConnLifetime = dbConfig.MaxConnLifetime
	config.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	go monitorConnections(ctx, pool, logger)

	return &PostgresRepository{
		pool:       pool,
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}, nil
}

// monitorConnections периодически обновляет метрики соединений и завершается при отмене ctx
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping monitorConnections goroutine due to context cancellation")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

// SaveMessage сохраняет запись и уведомляет слушателей топика
func (r *PostgresRepository) SaveMessage(ctx context.Context, env *domain.Envelope) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("save_message").Observe(time.Since(start).Seconds())
	}()

	batch := &pgx.Batch{}
	batch.Queue("INSERT INTO messages (id, topic, payload, received_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
		env.ID, env.Topic, env.Payload, env.Timestamp)
	batch.Queue("SELECT pg_notify($1, $2)", NotifyChannel, env.Topic)

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// LastMessages возвращает последние limit записей топика по возрастанию времени
func (r *PostgresRepository) LastMessages(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("last_messages").Observe(time.Since(start).Seconds())
	}()

	query := "SELECT id, topic, payload, received_at FROM messages WHERE topic = $1 ORDER BY received_at DESC LIMIT $2"

	rows, err := r.pool.Query(ctx, query, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var results []*domain.Envelope
	for rows.Next() {
		var env domain.Envelope
		if err := rows.Scan(&env.ID, &env.Topic, &env.Payload, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, &env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	reverse(results)
	return results, nil
}

// Watch слушает NOTIFY и отдаёт топики, в которых появились записи.
// При потере соединения LISTEN восстанавливается с паузой между попытками,
// после чего все топики помечаются изменёнными: уведомления за время простоя потеряны.
// Канал закрывается только при отмене ctx.
func (r *PostgresRepository) Watch(ctx context.Context, topics []string) (<-chan string, error) {
	listenConn, err := r.listen(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[t] = true
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer func() {
			if listenConn != nil {
				_ = listenConn.Close(context.Background())
			}
		}()

		for {
			n, err := listenConn.WaitForNotification(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				r.logger.Error("Notification listener lost connection", zap.Error(err))
				_ = listenConn.Close(context.Background())

				listenConn = r.relisten(ctx)
				if listenConn == nil {
					return
				}
				for _, t := range topics {
					select {
					case out <- t:
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(wanted) > 0 && !wanted[n.Payload] {
				continue
			}
			select {
			case out <- n.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// listen берёт соединение из пула, выполняет LISTEN и забирает соединение из пула насовсем
func (r *PostgresRepository) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	return conn.Hijack(), nil
}

// relisten повторяет listen до успеха; nil означает отмену ctx
func (r *PostgresRepository) relisten(ctx context.Context) *pgx.Conn {
	delay := r.retryDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := r.listen(ctx)
		if err == nil {
			metrics.StoreReconnects.WithLabelValues("postgres").Inc()
			r.logger.Info("Notification listener restored", zap.Int("attempt", attempt))
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("Failed to restore notification listener", zap.Int("attempt", attempt), zap.Error(err))

		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.DBQueryDuration.WithLabelValues("health_check").Observe(duration)
	}()

	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func reverse(envs []*domain.Envelope) {
	for i, j := 0, len(envs)-1; i < j; i, j = i+1, j-1 {
		envs[i], envs[j] = envs[j], envs[i]
	}
}
