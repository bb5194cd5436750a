package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/quality"
	"github.com/HrishikShaji/mqtt-dashboard/internal/service"
	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ListTopics() []service.TopicInfo {
	args := m.Called()
	return args.Get(0).([]service.TopicInfo)
}

func (m *MockService) GetView(topic string) (*viewmodel.View, error) {
	args := m.Called(topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*viewmodel.View), args.Error(1)
}

func (m *MockService) History(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error) {
	args := m.Called(ctx, topic, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Envelope), args.Error(1)
}

func (m *MockService) Subscribe(topic string) (<-chan viewmodel.View, func(), error) {
	args := m.Called(topic)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(<-chan viewmodel.View), args.Get(1).(func()), args.Error(2)
}

func (m *MockService) ConnectionStatus() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockService) CheckHealth(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestServer(svc DashboardService) *HTTPServer {
	logger, _ := zap.NewDevelopment()
	return NewHTTPServer(":0", svc, logger)
}

func TestHTTPServer_HealthCheck(t *testing.T) {
	mockService := new(MockService)
	mockService.On("CheckHealth", mock.Anything).Return(nil)
	mockService.On("ConnectionStatus").Return("connected")

	server := newTestServer(mockService)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["mqtt"])
}

func TestHTTPServer_HealthCheck_StoreDown(t *testing.T) {
	mockService := new(MockService)
	mockService.On("CheckHealth", mock.Anything).Return(errors.New("db down"))

	server := newTestServer(mockService)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHTTPServer_Status(t *testing.T) {
	mockService := new(MockService)
	mockService.On("ConnectionStatus").Return("reconnecting")
	mockService.On("ListTopics").Return([]service.TopicInfo{{Topic: "a", Subscribers: 2}, {Topic: "b", Subscribers: 1}})

	server := newTestServer(mockService)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/status", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"mqtt":"reconnecting","topics":2,"subscribers":3}`, rr.Body.String())
}

func TestHTTPServer_ListTopics(t *testing.T) {
	mockService := new(MockService)
	mockService.On("ListTopics").Return([]service.TopicInfo{
		{Topic: "sensors/power", Kind: domain.KindPower, Samples: 4, Quality: "Good", Color: quality.ColorBlue},
	})

	server := newTestServer(mockService)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/topics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"topic":"sensors/power","kind":"power","samples":4,"quality":"Good","color":"#3b82f6"}]`, rr.Body.String())
}

func TestHTTPServer_GetView(t *testing.T) {
	view := &viewmodel.View{
		Topic:   "sensors/power",
		Kind:    domain.KindPower,
		Samples: 2,
		Quality: quality.Verdict{Status: quality.Fair, Color: quality.ColorAmber},
	}

	tests := []struct {
		name       string
		query      string
		setup      func(m *MockService)
		wantStatus int
	}{
		{
			name:  "ok",
			query: "?topic=sensors/power",
			setup: func(m *MockService) {
				m.On("GetView", "sensors/power").Return(view, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing topic",
			query:      "",
			setup:      func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "unknown topic",
			query: "?topic=nope",
			setup: func(m *MockService) {
				m.On("GetView", "nope").Return(nil, service.ErrUnknownTopic)
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setup(mockService)
			server := newTestServer(mockService)

			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/views"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				var got viewmodel.View
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				assert.Equal(t, 2, got.Samples)
				assert.Equal(t, quality.Fair, got.Quality.Status)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHTTPServer_GetHistory(t *testing.T) {
	ts := time.Date(2025, 8, 27, 14, 58, 37, 0, time.UTC)
	envs := []*domain.Envelope{{ID: "1", Topic: "sensors/power", Payload: `{"voltage":230}`, Timestamp: ts}}

	tests := []struct {
		name       string
		query      string
		setup      func(m *MockService)
		wantStatus int
	}{
		{
			name:  "ok",
			query: "?topic=sensors/power&limit=10",
			setup: func(m *MockService) {
				m.On("History", mock.Anything, "sensors/power", 10).Return(envs, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:  "default limit",
			query: "?topic=sensors/power",
			setup: func(m *MockService) {
				m.On("History", mock.Anything, "sensors/power", 0).Return(envs, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid limit",
			query:      "?topic=sensors/power&limit=abc",
			setup:      func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative limit",
			query:      "?topic=sensors/power&limit=-1",
			setup:      func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "store disabled",
			query: "?topic=sensors/power",
			setup: func(m *MockService) {
				m.On("History", mock.Anything, "sensors/power", 0).Return(nil, service.ErrStoreDisabled)
			},
			wantStatus: http.StatusNotImplemented,
		},
		{
			name:  "store error",
			query: "?topic=sensors/power",
			setup: func(m *MockService) {
				m.On("History", mock.Anything, "sensors/power", 0).Return(nil, errors.New("boom"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setup(mockService)
			server := newTestServer(mockService)

			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/history"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				var got []*domain.Envelope
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				assert.Equal(t, envs, got)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHTTPServer_StreamView(t *testing.T) {
	updates := make(chan viewmodel.View, 1)
	cancelled := make(chan struct{})
	cancel := func() { close(cancelled) }

	mockService := new(MockService)
	mockService.On("Subscribe", "sensors/power").Return((<-chan viewmodel.View)(updates), cancel, nil)
	mockService.On("GetView", "sensors/power").Return(&viewmodel.View{Topic: "sensors/power", Samples: 1}, nil)

	server := newTestServer(mockService)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream?topic=sensors/power"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var first viewmodel.View
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1, first.Samples)

	updates <- viewmodel.View{Topic: "sensors/power", Samples: 2}

	var second viewmodel.View
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 2, second.Samples)

	require.NoError(t, conn.Close())

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not cancelled after client disconnect")
	}
}

func TestHTTPServer_StreamView_UnknownTopic(t *testing.T) {
	mockService := new(MockService)
	mockService.On("Subscribe", "nope").Return(nil, nil, service.ErrUnknownTopic)

	server := newTestServer(mockService)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/stream?topic=nope", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
