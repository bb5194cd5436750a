package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/aggregator"
	"github.com/HrishikShaji/mqtt-dashboard/internal/config"
	appgrpc "github.com/HrishikShaji/mqtt-dashboard/internal/grpc"
	apphttp "github.com/HrishikShaji/mqtt-dashboard/internal/http"
	applogger "github.com/HrishikShaji/mqtt-dashboard/internal/logger"
	"github.com/HrishikShaji/mqtt-dashboard/internal/realtime"
	"github.com/HrishikShaji/mqtt-dashboard/internal/repository/dynamo"
	"github.com/HrishikShaji/mqtt-dashboard/internal/repository/postgres"
	"github.com/HrishikShaji/mqtt-dashboard/internal/service"
	"github.com/HrishikShaji/mqtt-dashboard/internal/transport/mqtt"
	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"
	"github.com/HrishikShaji/mqtt-dashboard/pkg/utils"

	"go.uber.org/zap"
)

// store real-time хранилище: история, снимки и уведомления об изменениях
type store interface {
	service.Repository
	realtime.Store
	Close()
}

func main() {
	// Создаём отменяемый контекст для всего приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Гарантирует отмену при выходе

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error during logger sync: %v", err)
		}
	}()

	logger.Info("Starting MQTT Dashboard Service",
		zap.String("version", "1.0.0"),
		zap.Int("topics", len(cfg.Topics)),
		zap.String("store", cfg.Store.Driver),
	)

	// Инициализация хранилища
	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open message store", zap.Error(err))
		return
	}
	if repo != nil {
		defer func() {
			repo.Close()
			logger.Info("Message store closed")
		}()
	}

	// Конвейер: inbox -> aggregator -> service
	inbox := aggregator.NewInbox(cfg.QueueSize, logger)
	builder := viewmodel.NewBuilder(cfg.Location())

	opts := service.Options{
		Mirror:       cfg.Store.Mirror,
		HistoryLimit: cfg.Store.HistoryLimit,
	}
	if repo != nil {
		opts.Repository = repo
	}
	dashboardService := service.NewDashboardService(cfg.Topics, inbox, builder, opts, logger)

	agg := aggregator.NewAggregator(dashboardService, builder, cfg.WorkerCount, cfg.WindowCapacity, logger)
	go agg.Start(ctx, inbox.Updates())

	// Подписка на хранилище
	stopListener := func() {}
	if repo != nil {
		listener := realtime.NewListener(repo, dashboardService, cfg.WindowCapacity, logger)
		stopListener = listener.Start(ctx, dashboardService.Topics())
	}

	// Подключение к брокеру
	mqttClient := mqtt.NewClient(mqtt.Config{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		QoS:       byte(cfg.MQTT.QoS),
		KeepAlive: uint16(cfg.MQTT.KeepAlive),

		RetryDelay: cfg.MQTT.RetryDelay,
	}, dashboardService.HandleMessage, logger)
	dashboardService.SetStatusProvider(mqttClient)

	// Ошибка подключения не фатальна: клиент продолжает попытки в фоне,
	// подписки оформляются при подключении, статус виден в /api/v1/status
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := mqttClient.Connect(connectCtx); err != nil {
		logger.Warn("MQTT broker unavailable, retrying in background", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
	}
	if err := mqttClient.Subscribe(connectCtx, dashboardService.Topics()...); err != nil {
		logger.Error("Failed to subscribe to topics", zap.Error(err))
	}
	connectCancel()

	// Запуск HTTP сервера
	httpServer := apphttp.NewHTTPServer(cfg.RESTPort, dashboardService, logger)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			return
		}
	}()

	// Запуск GRPC сервера
	grpcServer := appgrpc.NewGRPCServer(dashboardService, logger)
	go func() {
		if err := grpcServer.Start(cfg.GRPCPort); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
			return
		}
	}()

	// Имитируем датчики, публикуя их показания в брокер
	var wg sync.WaitGroup
	if cfg.Simulate {
		wg.Add(1)
		go func() {
			defer wg.Done()
			simulate(ctx, cfg, mqttClient, logger)
		}()
	}

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down servers...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Отписка от брокера и хранилища, затем остановка конвейера
	if err := mqttClient.Dispose(shutdownCtx); err != nil {
		logger.Warn("MQTT client dispose failed", zap.Error(err))
	}
	stopListener()

	cancel()
	wg.Wait() // Дождаться симулятора

	inbox.Close()
	agg.Stop()
	agg.Wait() // Дождаться завершения воркеров

	// Останавливаем HTTP сервер
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Останавливаем GRPC сервер
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("gRPC server shutdown due to timeout")
		} else {
			logger.Error("gRPC server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("MQTT Dashboard Service stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		repo, err := postgres.NewPostgresRepository(ctx, cfg.DBConfig, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established")
		return repo, nil

	case config.StoreDynamo:
		repo, err := dynamo.NewDynamoRepository(cfg.Dynamo, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("DynamoDB client created", zap.String("table", cfg.Dynamo.Table))
		return repo, nil

	case config.StoreNone, "":
		return nil, nil

	default:
		return nil, errors.New("unsupported store driver: " + cfg.Store.Driver)
	}
}

func simulate(ctx context.Context, cfg *config.Config, client *mqtt.Client, logger *zap.Logger) {
	generator := utils.NewPayloadGenerator(time.Now().UnixNano())
	ticker := time.NewTicker(time.Duration(cfg.DataInterval) * time.Millisecond)
	defer ticker.Stop()

	logger.Info("Starting sensor simulation", zap.Int("interval_ms", cfg.DataInterval))

	for {
		select {
		case <-ticker.C:
			for _, t := range cfg.Topics {
				payload, err := generator.Generate(string(t.Kind))
				if err != nil {
					logger.Warn("Failed to generate payload", zap.String("topic", t.Topic), zap.Error(err))
					continue
				}
				if err := client.Publish(ctx, t.Topic, payload); err != nil {
					logger.Debug("Failed to publish simulated reading", zap.String("topic", t.Topic), zap.Error(err))
				}
			}

		case <-ctx.Done():
			logger.Info("Stopping sensor simulation")
			return
		}
	}
}
