package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"
	"github.com/HrishikShaji/mqtt-dashboard/internal/service"
	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DashboardService описывает бизнес-логику для получения моделей
type DashboardService interface {
	ListTopics() []service.TopicInfo
	GetView(topic string) (*viewmodel.View, error)
	Subscribe(topic string) (<-chan viewmodel.View, func(), error)
	ConnectionStatus() string
}

// GRPCServer реализует gRPC сервер с метриками и логированием
type GRPCServer struct {
	server  *grpc.Server
	service DashboardService
	logger  *zap.Logger
}

func NewGRPCServer(service DashboardService, logger *zap.Logger) *GRPCServer {
	loggingInterceptor := logging.UnaryServerInterceptor(interceptorLogger(logger))
	metricsInterceptor := grpc_prometheus.UnaryServerInterceptor
	customMetricsInterceptor := unaryMetricsInterceptor()

	chain := grpc.ChainUnaryInterceptor(
		loggingInterceptor,
		metricsInterceptor,
		customMetricsInterceptor,
	)
	streamChain := grpc.ChainStreamInterceptor(
		logging.StreamServerInterceptor(interceptorLogger(logger)),
		grpc_prometheus.StreamServerInterceptor,
	)

	s := &GRPCServer{
		server:  grpc.NewServer(chain, streamChain),
		service: service,
		logger:  logger,
	}

	RegisterDashboardServer(s.server, s)
	reflection.Register(s.server)

	grpc_prometheus.Register(s.server)
	grpc_prometheus.EnableHandlingTimeHistogram()

	return s
}

func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting gRPC server", zap.String("addr", addr))
	return s.Serve(lis)
}

// Serve обслуживает уже открытый listener
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

// Custom metrics interceptor для детального отслеживания статусов и длительности с статусом
func unaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		var statusCode string
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code().String()
			} else {
				statusCode = codes.Unknown.String()
			}
		} else {
			statusCode = codes.OK.String()
		}

		duration := time.Since(start).Seconds()

		metrics.GRPCRequests.WithLabelValues(info.FullMethod, statusCode).Inc()
		metrics.GRPCRequestDuration.WithLabelValues(info.FullMethod, statusCode).Observe(duration)

		return resp, err
	}
}

// Logger adapter для grpc middleware
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(_ context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			f = append(f, zap.Any(key, fields[i+1]))
		}
		logger := l.WithOptions(zap.AddCallerSkip(1)).With(f...)

		switch lvl {
		case logging.LevelDebug:
			logger.Debug(msg)
		case logging.LevelInfo:
			logger.Info(msg)
		case logging.LevelWarn:
			logger.Warn(msg)
		case logging.LevelError:
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
	})
}

func (s *GRPCServer) GetView(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "topic is required")
	}

	view, err := s.service.GetView(req.GetValue())
	if err != nil {
		return nil, s.toStatus(err, "failed to get view")
	}

	return viewToStruct(view)
}

func (s *GRPCServer) ListTopics(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	topics := s.service.ListTopics()

	values := make([]*structpb.Value, 0, len(topics))
	for _, t := range topics {
		values = append(values, structpb.NewStructValue(&structpb.Struct{
			Fields: map[string]*structpb.Value{
				"topic":       structpb.NewStringValue(t.Topic),
				"kind":        structpb.NewStringValue(string(t.Kind)),
				"samples":     structpb.NewNumberValue(float64(t.Samples)),
				"quality":     structpb.NewStringValue(t.Quality),
				"color":       structpb.NewStringValue(t.Color),
				"subscribers": structpb.NewNumberValue(float64(t.Subscribers)),
			},
		}))
	}

	return &structpb.ListValue{Values: values}, nil
}

func (s *GRPCServer) GetStatus(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.service.ConnectionStatus()), nil
}

// WatchView отправляет текущую модель и затем каждое её обновление
func (s *GRPCServer) WatchView(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	topic := req.GetValue()
	if topic == "" {
		return status.Error(codes.InvalidArgument, "topic is required")
	}

	views, cancel, err := s.service.Subscribe(topic)
	if err != nil {
		return s.toStatus(err, "failed to subscribe")
	}
	defer cancel()

	if current, err := s.service.GetView(topic); err == nil {
		if err := s.sendView(stream, current); err != nil {
			return err
		}
	}

	for {
		select {
		case view, ok := <-views:
			if !ok {
				return nil
			}
			if err := s.sendView(stream, &view); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *GRPCServer) sendView(stream grpc.ServerStream, view *viewmodel.View) error {
	msg, err := viewToStruct(view)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

func (s *GRPCServer) toStatus(err error, msg string) error {
	if errors.Is(err, service.ErrUnknownTopic) {
		return status.Error(codes.NotFound, "topic not found")
	}
	s.logger.Error(msg, zap.Error(err))
	return status.Error(codes.Internal, msg)
}

// viewToStruct переводит модель в structpb через её JSON представление
func viewToStruct(view *viewmodel.View) (*structpb.Struct, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode view")
	}

	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode view")
	}
	return out, nil
}
