package stats

import (
	"sort"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
)

// ZeroPolicy определяет, считается ли 0 пропуском значения
type ZeroPolicy int

const (
	// ZeroIsValue: 0 участвует в avg/min/max (уровень бака, температура, состояние реле)
	ZeroIsValue ZeroPolicy = iota
	// ZeroIsMissing: 0 исключается из avg/min/max, но остаётся в Current (0V = отключённый счётчик)
	ZeroIsMissing
)

// Field описывает агрегируемое числовое поле
type Field struct {
	Name       string
	Zero       ZeroPolicy
	Accumulate bool
}

// FieldStats агрегаты одного поля по окну
type FieldStats struct {
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
	Total   float64 `json:"total,omitempty"`
	Count   int     `json:"count"`
}

// Deviation полуразмах (max - min) / 2
func (fs FieldStats) Deviation() float64 {
	return (fs.Max - fs.Min) / 2
}

// Spread размах max - min
func (fs FieldStats) Spread() float64 {
	return fs.Max - fs.Min
}

// Stats агрегаты по всем полям окна
type Stats map[string]FieldStats

// Field возвращает агрегаты поля или нулевые, если поле не отслеживается
func (s Stats) Field(name string) FieldStats {
	return s[name]
}

// Aggregate считает avg/min/max/current по readings, упорядоченным по возрастанию времени.
// Current берётся из последнего элемента как есть, включая 0.
func Aggregate(readings []domain.Reading, fields []Field) Stats {
	out := make(Stats, len(fields))

	for _, f := range fields {
		var fs FieldStats
		if len(readings) > 0 {
			fs.Current = readings[len(readings)-1].Value(f.Name)
		}

		var sum float64
		for _, r := range readings {
			v := r.Value(f.Name)
			if f.Zero == ZeroIsMissing && v == 0 {
				continue
			}
			if fs.Count == 0 {
				fs.Min, fs.Max = v, v
			} else {
				if v < fs.Min {
					fs.Min = v
				}
				if v > fs.Max {
					fs.Max = v
				}
			}
			sum += v
			fs.Count++
		}

		if fs.Count > 0 {
			fs.Avg = sum / float64(fs.Count)
		}
		if f.Accumulate {
			fs.Total = sum
		}

		out[f.Name] = fs
	}

	return out
}

// Count одна строка гистограммы статусов
type Count struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// CountLabels считает, сколько раз встречается каждое значение метки.
// Результат отсортирован по убыванию, при равенстве по имени.
func CountLabels(readings []domain.Reading, key string) []Count {
	counts := make(map[string]int)
	for _, r := range readings {
		counts[r.Labels[key]]++
	}
	return sortCounts(counts)
}

// CountFlags делит измерения по флагу на два статуса
func CountFlags(readings []domain.Reading, flag, on, off string) []Count {
	counts := make(map[string]int)
	for _, r := range readings {
		if r.Flags[flag] {
			counts[on]++
		} else {
			counts[off]++
		}
	}
	return sortCounts(counts)
}

// CountValues делит измерения по ненулевому значению поля
func CountValues(readings []domain.Reading, field, on, off string) []Count {
	counts := make(map[string]int)
	for _, r := range readings {
		if r.Value(field) != 0 {
			counts[on]++
		} else {
			counts[off]++
		}
	}
	return sortCounts(counts)
}

// Primary самый частый статус; пустая строка, если данных нет
func Primary(counts []Count) string {
	if len(counts) == 0 {
		return ""
	}
	return counts[0].Status
}

func sortCounts(counts map[string]int) []Count {
	out := make([]Count, 0, len(counts))
	for status, n := range counts {
		out = append(out, Count{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Status < out[j].Status
	})
	return out
}
