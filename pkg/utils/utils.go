package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

func NewUUID() uuid.UUID {
	return uuid.New()
}

// PayloadGenerator генерит правдоподобные payload'ы датчиков для режима симуляции
type PayloadGenerator struct {
	rnd   *rand.Rand
	now   func() time.Time
	level float64
	on    bool
}

func NewPayloadGenerator(seed int64) *PayloadGenerator {
	return &PayloadGenerator{
		rnd:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
		level: 600,
	}
}

// Generate возвращает JSON payload для типа датчика: switch, temperature, water, power
func (g *PayloadGenerator) Generate(kind string) ([]byte, error) {
	ts := g.now().UTC().Format(time.RFC3339Nano)

	var payload map[string]any
	switch kind {
	case "switch":
		// переключаем примерно каждое пятое сообщение
		if g.rnd.Intn(5) == 0 {
			g.on = !g.on
		}
		payload = map[string]any{
			"state":     g.on,
			"device":    "Main Switch",
			"timestamp": ts,
		}

	case "temperature":
		payload = map[string]any{
			"temperature": round(g.between(15, 35), 1),
			"humidity":    round(g.between(30, 70), 1),
			"sensor":      "DHT22",
			"location":    "Living Room",
			"enabled":     true,
			"timestamp":   ts,
		}

	case "water":
		const capacity = 1000
		g.level = math.Max(0, math.Min(capacity, g.level+g.between(-40, 40)))
		status := "Normal"
		switch {
		case g.level < capacity*0.2:
			status = "Critical"
		case g.level < capacity*0.5:
			status = "Low"
		}
		payload = map[string]any{
			"level":         round(g.level, 1),
			"capacity":      capacity,
			"status":        status,
			"sensor":        "Ultrasonic",
			"location":      "Roof Tank",
			"enabled":       true,
			"alertsEnabled": true,
			"timestamp":     ts,
		}

	case "power":
		voltage := g.between(225, 235)
		current := g.between(2, 10)
		pf := g.between(0.85, 0.99)
		payload = map[string]any{
			"voltage":     round(voltage, 1),
			"current":     round(current, 2),
			"power":       round(voltage*current*pf, 1),
			"frequency":   round(g.between(49.5, 50.5), 2),
			"powerFactor": round(pf, 2),
			"phase":       "Single",
			"sensor":      "PZEM-004T",
			"enabled":     true,
			"monitoring":  true,
			"timestamp":   ts,
		}

	default:
		return nil, fmt.Errorf("unsupported sensor kind %q", kind)
	}

	return json.Marshal(payload)
}

func (g *PayloadGenerator) between(min, max float64) float64 {
	return min + g.rnd.Float64()*(max-min)
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
