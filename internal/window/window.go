package window

import (
	"sort"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
)

// DefaultCapacity размер окна по умолчанию
const DefaultCapacity = 50

// SampleStore хранит последние N измерений одного топика.
// Не потокобезопасен: окном владеет один воркер конвейера.
type SampleStore struct {
	capacity int
	items    []domain.Reading
}

func NewSampleStore(capacity int) *SampleStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SampleStore{
		capacity: capacity,
		items:    make([]domain.Reading, 0, capacity),
	}
}

func (s *SampleStore) Capacity() int { return s.capacity }

func (s *SampleStore) Len() int { return len(s.items) }

// Push добавляет измерение. При переполнении вытесняется поступившее раньше всех,
// независимо от его метки времени.
func (s *SampleStore) Push(r domain.Reading) {
	if len(s.items) == s.capacity {
		copy(s.items, s.items[1:])
		s.items = s.items[:len(s.items)-1]
	}
	s.items = append(s.items, r.Clone())
}

// Reset заменяет содержимое окна, сохраняя только последние capacity записей
func (s *SampleStore) Reset(readings ...domain.Reading) {
	s.items = s.items[:0]
	if len(readings) > s.capacity {
		readings = readings[len(readings)-s.capacity:]
	}
	for _, r := range readings {
		s.items = append(s.items, r.Clone())
	}
}

// Snapshot возвращает копию, отсортированную по возрастанию времени.
// Порядок вставки в самом окне не меняется.
func (s *SampleStore) Snapshot() []domain.Reading {
	out := make([]domain.Reading, len(s.items))
	for i, r := range s.items {
		out[i] = r.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Descending возвращает копию от самого свежего к самому старому
func (s *SampleStore) Descending() []domain.Reading {
	asc := s.Snapshot()
	for i, j := 0, len(asc)-1; i < j; i, j = i+1, j-1 {
		asc[i], asc[j] = asc[j], asc[i]
	}
	return asc
}

// Latest возвращает самое свежее измерение; false означает, что данных нет
func (s *SampleStore) Latest() (domain.Reading, bool) {
	if len(s.items) == 0 {
		return domain.Reading{}, false
	}
	latest := 0
	for i := 1; i < len(s.items); i++ {
		// при равных метках побеждает вставленное позже
		if !s.items[i].Timestamp.Before(s.items[latest].Timestamp) {
			latest = i
		}
	}
	return s.items[latest].Clone(), true
}
