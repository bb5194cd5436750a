package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUUID(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	assert.NotEmpty(t, a.String())
	assert.NotEqual(t, a, b)
	assert.Equal(t, 4, int(a.Version()))
}

func TestPayloadGenerator_Generate(t *testing.T) {
	g := NewPayloadGenerator(42)

	tests := []struct {
		kind   string
		fields []string
	}{
		{"switch", []string{"state", "device", "timestamp"}},
		{"temperature", []string{"temperature", "humidity", "sensor", "location", "enabled", "timestamp"}},
		{"water", []string{"level", "capacity", "status", "alertsEnabled", "timestamp"}},
		{"power", []string{"voltage", "current", "power", "frequency", "powerFactor", "phase", "timestamp"}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				data, err := g.Generate(tt.kind)
				require.NoError(t, err)

				var payload map[string]any
				require.NoError(t, json.Unmarshal(data, &payload))
				for _, f := range tt.fields {
					assert.Contains(t, payload, f)
				}
			}
		})
	}
}

func TestPayloadGenerator_WaterLevelStaysInTank(t *testing.T) {
	g := NewPayloadGenerator(7)

	for i := 0; i < 500; i++ {
		data, err := g.Generate("water")
		require.NoError(t, err)

		var payload struct {
			Level    float64 `json:"level"`
			Capacity float64 `json:"capacity"`
		}
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.GreaterOrEqual(t, payload.Level, 0.0)
		assert.LessOrEqual(t, payload.Level, payload.Capacity)
	}
}

func TestPayloadGenerator_UnknownKind(t *testing.T) {
	_, err := NewPayloadGenerator(1).Generate("humidity")
	assert.Error(t, err)
}
