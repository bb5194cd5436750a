package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu       sync.Mutex
	records  map[string][]*domain.Envelope
	changes  chan string
	watchErr error
	limits   []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string][]*domain.Envelope),
		changes: make(chan string, 8),
	}
}

func (f *fakeStore) LastMessages(_ context.Context, topic string, limit int) ([]*domain.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)

	all := f.records[topic]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]*domain.Envelope(nil), all...), nil
}

func (f *fakeStore) Watch(_ context.Context, _ []string) (<-chan string, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.changes, nil
}

func (f *fakeStore) add(topic, id string) {
	f.mu.Lock()
	f.records[topic] = append(f.records[topic], &domain.Envelope{ID: id, Topic: topic})
	f.mu.Unlock()
	f.changes <- topic
}

type snapshot struct {
	topic string
	ids   []string
}

type recordingHandler struct {
	out chan snapshot
}

func (h *recordingHandler) HandleSnapshot(topic string, envs []*domain.Envelope) error {
	ids := make([]string, 0, len(envs))
	for _, e := range envs {
		ids = append(ids, e.ID)
	}
	h.out <- snapshot{topic: topic, ids: ids}
	return nil
}

func next(t *testing.T, ch <-chan snapshot) snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot was not delivered")
		return snapshot{}
	}
}

func TestListener_InitialAndChangeSnapshots(t *testing.T) {
	store := newFakeStore()
	store.records["a"] = []*domain.Envelope{{ID: "1", Topic: "a"}}
	handler := &recordingHandler{out: make(chan snapshot, 8)}

	l := NewListener(store, handler, 2, zap.NewNop())
	stop := l.Start(context.Background(), []string{"a", "b"})
	defer stop()

	first := next(t, handler.out)
	assert.Equal(t, snapshot{topic: "a", ids: []string{"1"}}, first)
	second := next(t, handler.out)
	assert.Equal(t, "b", second.topic)
	assert.Empty(t, second.ids)

	store.add("a", "2")
	assert.Equal(t, []string{"1", "2"}, next(t, handler.out).ids)

	store.add("a", "3")
	assert.Equal(t, []string{"2", "3"}, next(t, handler.out).ids)
}

func TestListener_StopUnsubscribes(t *testing.T) {
	store := newFakeStore()
	handler := &recordingHandler{out: make(chan snapshot, 8)}

	l := NewListener(store, handler, 5, zap.NewNop())
	stop := l.Start(context.Background(), []string{"a"})
	next(t, handler.out)

	stop()

	store.changes <- "a"
	select {
	case <-handler.out:
		t.Fatal("snapshot delivered after stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListener_RunWatchError(t *testing.T) {
	store := newFakeStore()
	store.watchErr = errors.New("listen failed")

	l := NewListener(store, &recordingHandler{out: make(chan snapshot, 1)}, 5, zap.NewNop())
	err := l.Run(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestListener_RunReturnsWhenFeedCloses(t *testing.T) {
	store := newFakeStore()
	handler := &recordingHandler{out: make(chan snapshot, 8)}
	close(store.changes)

	l := NewListener(store, handler, 5, zap.NewNop())
	assert.NoError(t, l.Run(context.Background(), []string{"a"}))
	assert.Equal(t, "a", next(t, handler.out).topic)
}
