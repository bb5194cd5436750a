package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// Number принимает число, строку с числом, bool или null.
// Всё, что не удалось привести, превращается в 0 (NaN и Inf тоже).
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case bool:
		if x {
			f = 1
		}
	}

	*n = Number(finite(f))
	return nil
}

// Bool принимает bool, число или строку
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	*b = false

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}

	switch x := v.(type) {
	case bool:
		*b = Bool(x)
	case float64:
		*b = Bool(x != 0 && !math.IsNaN(x))
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			*b = Bool(parsed)
		} else {
			*b = Bool(x != "")
		}
	}
	return nil
}

// Text принимает строку, число или bool. Остальное даёт пустую строку,
// чтобы кривая метка не стоила всего показания.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}

	switch x := v.(type) {
	case string:
		*t = Text(x)
	case float64:
		*t = Text(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*t = Text(strconv.FormatBool(x))
	}
	return nil
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type switchPayload struct {
	State     Bool            `json:"state"`
	Device    Text            `json:"device"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type temperaturePayload struct {
	Temperature Number          `json:"temperature"`
	Humidity    Number          `json:"humidity"`
	Sensor      Text            `json:"sensor"`
	Location    Text            `json:"location"`
	Enabled     Bool            `json:"enabled"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

type waterPayload struct {
	Level         Number          `json:"level"`
	Capacity      Number          `json:"capacity"`
	Status        Text            `json:"status"`
	Sensor        Text            `json:"sensor"`
	Location      Text            `json:"location"`
	Enabled       Bool            `json:"enabled"`
	AlertsEnabled Bool            `json:"alertsEnabled"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

type powerPayload struct {
	Voltage     Number          `json:"voltage"`
	Current     Number          `json:"current"`
	Power       Number          `json:"power"`
	Frequency   Number          `json:"frequency"`
	PowerFactor Number          `json:"powerFactor"`
	Phase       Text            `json:"phase"`
	Sensor      Text            `json:"sensor"`
	Enabled     Bool            `json:"enabled"`
	Monitoring  Bool            `json:"monitoring"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// ParseReading разбирает JSON payload датчика указанного типа.
// Если в payload нет timestamp, используется fallback.
func ParseReading(topic string, kind Kind, payload []byte, fallback time.Time) (Reading, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Reading{}, ErrEmptyPayload
	}

	r := Reading{
		Topic:  topic,
		Kind:   kind,
		Values: map[string]float64{},
		Labels: map[string]string{},
		Flags:  map[string]bool{},
	}

	var rawTS json.RawMessage

	switch kind {
	case KindSwitch:
		var p switchPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Reading{}, fmt.Errorf("failed to decode switch payload: %w", err)
		}
		if p.State {
			r.Values[FieldState] = 1
		} else {
			r.Values[FieldState] = 0
		}
		r.Labels[LabelDevice] = string(p.Device)
		rawTS = p.Timestamp

	case KindTemperature:
		var p temperaturePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Reading{}, fmt.Errorf("failed to decode temperature payload: %w", err)
		}
		r.Values[FieldTemperature] = float64(p.Temperature)
		r.Values[FieldHumidity] = float64(p.Humidity)
		r.Labels[LabelSensor] = string(p.Sensor)
		r.Labels[LabelLocation] = string(p.Location)
		r.Flags[FlagEnabled] = bool(p.Enabled)
		rawTS = p.Timestamp

	case KindWater:
		var p waterPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Reading{}, fmt.Errorf("failed to decode water payload: %w", err)
		}
		capacity := float64(p.Capacity)
		if capacity <= 0 {
			capacity = DefaultTankCapacity
		}
		level := float64(p.Level)
		r.Values[FieldLevel] = level
		r.Values[FieldCapacity] = capacity
		r.Values[FieldPercentage] = finite(level / capacity * 100)
		r.Labels[LabelStatus] = string(p.Status)
		r.Labels[LabelSensor] = string(p.Sensor)
		r.Labels[LabelLocation] = string(p.Location)
		r.Flags[FlagEnabled] = bool(p.Enabled)
		r.Flags[FlagAlertsEnabled] = bool(p.AlertsEnabled)
		rawTS = p.Timestamp

	case KindPower:
		var p powerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Reading{}, fmt.Errorf("failed to decode power payload: %w", err)
		}
		r.Values[FieldVoltage] = float64(p.Voltage)
		r.Values[FieldCurrent] = float64(p.Current)
		r.Values[FieldPower] = float64(p.Power)
		r.Values[FieldFrequency] = float64(p.Frequency)
		r.Values[FieldPowerFactor] = float64(p.PowerFactor)
		r.Labels[LabelPhase] = orDefault(string(p.Phase), "Single")
		r.Labels[LabelSensor] = orDefault(string(p.Sensor), "Power Meter")
		r.Flags[FlagEnabled] = bool(p.Enabled)
		r.Flags[FlagMonitoring] = bool(p.Monitoring)
		rawTS = p.Timestamp

	default:
		return Reading{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	ts, ok, err := ParseTimestamp(rawTS)
	if err != nil {
		return Reading{}, err
	}
	if !ok {
		ts = fallback
	}
	r.Timestamp = ts

	return r, nil
}

// ParseEnvelope разбирает вложенный JSON payload записи хранилища
func ParseEnvelope(env *Envelope, kind Kind) (Reading, error) {
	return ParseReading(env.Topic, kind, []byte(env.Payload), env.Timestamp)
}

// ParseTimestamp принимает ISO 8601 строку или epoch (секунды или миллисекунды).
// ok=false означает, что поле отсутствует или равно null.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return time.Time{}, false, nil
		}
		t, err := iso8601.ParseString(strings.TrimSpace(x))
		if err != nil {
			if f, ferr := strconv.ParseFloat(x, 64); ferr == nil {
				return fromEpoch(f), true, nil
			}
			return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidTimestamp, x)
		}
		return t, true, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidTimestamp, x)
		}
		return fromEpoch(x), true, nil
	}

	return time.Time{}, false, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, v)
}

// epoch больше 1e12 считаем миллисекундами
func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
