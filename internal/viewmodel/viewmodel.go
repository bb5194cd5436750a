package viewmodel

import (
	"math"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/quality"
	"github.com/HrishikShaji/mqtt-dashboard/internal/stats"
)

// TimeLabelLayout формат подписи оси X
const TimeLabelLayout = "15:04:05"

// RecentLimit размер ленты последних измерений
const RecentLimit = 10

// Point одна точка графика
type Point struct {
	Time      string             `json:"time"`
	Timestamp time.Time          `json:"fullTimestamp"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// Row строка таблицы статистики
type Row struct {
	Field     string  `json:"field"`
	Current   float64 `json:"current"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Deviation float64 `json:"deviation"`
	Total     float64 `json:"total,omitempty"`
	Samples   int     `json:"samples"`
}

// View готовая к отображению модель одного топика
type View struct {
	Topic         string          `json:"topic"`
	Kind          domain.Kind     `json:"kind"`
	Samples       int             `json:"samples"`
	Series        []Point         `json:"series"`
	Recent        []Point         `json:"recent"` // от свежих к старым
	Stats         stats.Stats     `json:"stats"`
	Rows          []Row           `json:"rows"`
	Quality       quality.Verdict `json:"quality"`
	StatusCounts  []stats.Count   `json:"statusCounts,omitempty"`
	PrimaryStatus string          `json:"primaryStatus,omitempty"`
	Latest        *domain.Reading `json:"latest"`
	GeneratedAt   time.Time       `json:"generatedAt"`
}

// Window источник измерений для построения модели
type Window interface {
	Snapshot() []domain.Reading
	Descending() []domain.Reading
	Latest() (domain.Reading, bool)
}

// Builder строит View из содержимого окна. Чистая функция: без побочных эффектов.
type Builder struct {
	location *time.Location
}

func NewBuilder(location *time.Location) *Builder {
	if location == nil {
		location = time.UTC
	}
	return &Builder{location: location}
}

func (b *Builder) Build(topic string, kind domain.Kind, w Window) View {
	readings := w.Snapshot()
	fields := stats.FieldsFor(kind)
	aggregated := stats.Aggregate(readings, fields)

	view := View{
		Topic:   topic,
		Kind:    kind,
		Samples: len(readings),
		Series:  make([]Point, 0, len(readings)),
		Stats:   aggregated,
		Rows:    make([]Row, 0, len(fields)),
		Quality: quality.Classify(kind, aggregated),
	}

	for _, r := range readings {
		view.Series = append(view.Series, b.point(kind, r))
	}

	recent := w.Descending()
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	view.Recent = make([]Point, 0, len(recent))
	for _, r := range recent {
		view.Recent = append(view.Recent, b.point(kind, r))
	}

	for _, f := range fields {
		fs := aggregated.Field(f.Name)
		view.Rows = append(view.Rows, Row{
			Field:     f.Name,
			Current:   fs.Current,
			Avg:       fs.Avg,
			Min:       fs.Min,
			Max:       fs.Max,
			Deviation: fs.Deviation(),
			Total:     fs.Total,
			Samples:   fs.Count,
		})
	}

	switch kind {
	case domain.KindWater:
		view.StatusCounts = stats.CountLabels(readings, domain.LabelStatus)
	case domain.KindTemperature:
		view.StatusCounts = stats.CountFlags(readings, domain.FlagEnabled, "active", "inactive")
	case domain.KindSwitch:
		view.StatusCounts = stats.CountValues(readings, domain.FieldState, string(quality.On), string(quality.Off))
	}
	view.PrimaryStatus = stats.Primary(view.StatusCounts)

	if latest, ok := w.Latest(); ok {
		view.Latest = &latest
		view.GeneratedAt = latest.Timestamp
	}

	return view
}

func (b *Builder) point(kind domain.Kind, r domain.Reading) Point {
	p := Point{
		Time:      r.Timestamp.In(b.location).Format(TimeLabelLayout),
		Timestamp: r.Timestamp,
		Values:    make(map[string]float64, len(r.Values)+2),
	}
	for k, v := range r.Values {
		p.Values[k] = v
	}
	if len(r.Labels) > 0 {
		p.Labels = make(map[string]string, len(r.Labels)+1)
		for k, v := range r.Labels {
			p.Labels[k] = v
		}
	}

	switch kind {
	case domain.KindPower:
		voltage := r.Value(domain.FieldVoltage)
		current := r.Value(domain.FieldCurrent)
		p.Values["apparentPower"] = round(voltage*current, 2)
		p.Values["efficiency"] = round(r.Value(domain.FieldPowerFactor)*100, 1)
	case domain.KindWater:
		p.Values[domain.FieldPercentage] = round(r.Value(domain.FieldPercentage), 1)
	case domain.KindSwitch:
		if p.Labels == nil {
			p.Labels = make(map[string]string, 1)
		}
		if r.Value(domain.FieldState) != 0 {
			p.Labels["stateLabel"] = string(quality.On)
		} else {
			p.Labels["stateLabel"] = string(quality.Off)
		}
	}

	return p
}

func round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
