package domain

import (
	"errors"
	"time"
)

// Kind определяет тип датчика, публикующего в топик
type Kind string

const (
	KindSwitch      Kind = "switch"
	KindTemperature Kind = "temperature"
	KindWater       Kind = "water"
	KindPower       Kind = "power"
)

var (
	ErrUnknownKind      = errors.New("unknown sensor kind")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrEmptyPayload     = errors.New("empty payload")
)

// ParseKind проверяет строковое имя типа датчика
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSwitch, KindTemperature, KindWater, KindPower:
		return k, nil
	}
	return "", ErrUnknownKind
}

// Названия числовых полей
const (
	FieldState       = "state"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldLevel       = "level"
	FieldCapacity    = "capacity"
	FieldPercentage  = "percentage"
	FieldVoltage     = "voltage"
	FieldCurrent     = "current"
	FieldPower       = "power"
	FieldFrequency   = "frequency"
	FieldPowerFactor = "powerFactor"
)

// Названия меток и флагов
const (
	LabelDevice   = "device"
	LabelSensor   = "sensor"
	LabelLocation = "location"
	LabelStatus   = "status"
	LabelPhase    = "phase"

	FlagEnabled       = "enabled"
	FlagAlertsEnabled = "alertsEnabled"
	FlagMonitoring    = "monitoring"
)

// DefaultTankCapacity используется, если датчик не прислал ёмкость бака
const DefaultTankCapacity = 1000

// Reading представляет одно распарсенное измерение из топика
type Reading struct {
	Topic     string             `json:"topic"`
	Kind      Kind               `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels,omitempty"`
	Flags     map[string]bool    `json:"flags,omitempty"`
}

// Value возвращает числовое поле или 0, если его нет
func (r Reading) Value(field string) float64 {
	return r.Values[field]
}

// Clone возвращает глубокую копию, чтобы окно не делило карты с вызывающим кодом
func (r Reading) Clone() Reading {
	c := r
	if r.Values != nil {
		c.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			c.Values[k] = v
		}
	}
	if r.Labels != nil {
		c.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			c.Labels[k] = v
		}
	}
	if r.Flags != nil {
		c.Flags = make(map[string]bool, len(r.Flags))
		for k, v := range r.Flags {
			c.Flags[k] = v
		}
	}
	return c
}

// Envelope представляет запись real-time хранилища: payload хранится JSON-строкой
type Envelope struct {
	ID        string    `json:"id" db:"id" dynamodbav:"id"`
	Topic     string    `json:"topic" db:"topic" dynamodbav:"topic"`
	Payload   string    `json:"payload" db:"payload" dynamodbav:"payload"`
	Timestamp time.Time `json:"timestamp" db:"received_at" dynamodbav:"timestamp"`
}

// Message представляет сообщение, полученное из MQTT
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Update входящее обновление для конвейера агрегации.
// Replace=true означает снимок хранилища: окно заменяется целиком.
type Update struct {
	Topic    string
	Kind     Kind
	Readings []Reading
	Replace  bool
}
