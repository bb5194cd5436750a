package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"
	"github.com/HrishikShaji/mqtt-dashboard/internal/service"
	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const streamWriteTimeout = 10 * time.Second

type DashboardService interface {
	ListTopics() []service.TopicInfo
	GetView(topic string) (*viewmodel.View, error)
	History(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error)
	Subscribe(topic string) (<-chan viewmodel.View, func(), error)
	ConnectionStatus() string
	CheckHealth(ctx context.Context) error
}

type HTTPServer struct {
	server   *http.Server
	service  DashboardService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHTTPServer(addr string, service DashboardService, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// дашборд раздаётся с другого origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	// Middleware регистрации
	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	// Маршруты
	router.HandleFunc("/health", s.healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/status", s.getStatus).Methods("GET")
	router.HandleFunc("/api/v1/topics", s.listTopics).Methods("GET")
	router.HandleFunc("/api/v1/views", s.getView).Methods("GET")
	router.HandleFunc("/api/v1/history", s.getHistory).Methods("GET")
	router.HandleFunc("/api/v1/stream", s.streamView).Methods("GET")

	// Метрики Prometheus
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter для отслеживания статус кода и размера
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack нужен websocket.Upgrader
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// middleware для сбора метрик HTTP запросов с использованием шаблона пути
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		status := strconv.Itoa(rw.statusCode)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(rw.size))
	})
}

// middleware для логирования HTTP запросов
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("ip", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CheckHealth(r.Context()); err != nil {
		s.logger.Error("Health check failed", zap.Error(err))
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, map[string]string{
		"status": "healthy",
		"mqtt":   s.service.ConnectionStatus(),
	})
}

func (s *HTTPServer) getStatus(w http.ResponseWriter, r *http.Request) {
	topics := s.service.ListTopics()
	subscribers := 0
	for _, t := range topics {
		subscribers += t.Subscribers
	}
	s.writeJSON(w, map[string]any{
		"mqtt":        s.service.ConnectionStatus(),
		"topics":      len(topics),
		"subscribers": subscribers,
	})
}

func (s *HTTPServer) listTopics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.service.ListTopics())
}

func (s *HTTPServer) getView(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic parameter is required", http.StatusBadRequest)
		return
	}

	view, err := s.service.GetView(topic)
	if err != nil {
		s.handleServiceError(w, "Failed to get view", topic, err)
		return
	}

	s.writeJSON(w, view)
}

func (s *HTTPServer) getHistory(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic parameter is required", http.StatusBadRequest)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			s.logger.Error("invalid limit",
				zap.String("received_limit", limitStr))
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	envs, err := s.service.History(r.Context(), topic, limit)
	if err != nil {
		s.handleServiceError(w, "Failed to get history", topic, err)
		return
	}

	s.writeJSON(w, envs)
}

// streamView отправляет модель топика при каждом обновлении окна
func (s *HTTPServer) streamView(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic parameter is required", http.StatusBadRequest)
		return
	}

	views, cancel, err := s.service.Subscribe(topic)
	if err != nil {
		s.handleServiceError(w, "Failed to subscribe", topic, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	if current, err := s.service.GetView(topic); err == nil {
		if err := s.writeFrame(conn, current); err != nil {
			return
		}
	}

	// читаем только ради обнаружения закрытия со стороны клиента
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case view, ok := <-views:
			if !ok {
				return
			}
			if err := s.writeFrame(conn, &view); err != nil {
				s.logger.Debug("Stream write failed", zap.String("topic", topic), zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *HTTPServer) writeFrame(conn *websocket.Conn, view *viewmodel.View) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(view)
}

func (s *HTTPServer) handleServiceError(w http.ResponseWriter, msg, topic string, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownTopic):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, service.ErrStoreDisabled):
		http.Error(w, "History is not available", http.StatusNotImplemented)
	default:
		s.logger.Error(msg, zap.String("topic", topic), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
