package stats

import (
	"testing"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(field string, values ...float64) []domain.Reading {
	base := time.Date(2025, 8, 27, 14, 0, 0, 0, time.UTC)
	out := make([]domain.Reading, len(values))
	for i, v := range values {
		out[i] = domain.Reading{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Values:    map[string]float64{field: v},
		}
	}
	return out
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil, FieldsFor(domain.KindPower))

	for _, f := range FieldsFor(domain.KindPower) {
		fs := s.Field(f.Name)
		assert.Equal(t, FieldStats{}, fs, f.Name)
	}
}

func TestAggregate_ZeroIsMissing(t *testing.T) {
	readings := series(domain.FieldVoltage, 230, 231, 229, 0)

	fs := Aggregate(readings, FieldsFor(domain.KindPower)).Field(domain.FieldVoltage)

	assert.InDelta(t, 230, fs.Avg, 1e-9)
	assert.Equal(t, 229.0, fs.Min)
	assert.Equal(t, 231.0, fs.Max)
	assert.Equal(t, 0.0, fs.Current)
	assert.Equal(t, 3, fs.Count)
	assert.Equal(t, 1.0, fs.Deviation())
}

func TestAggregate_AllZeroPower(t *testing.T) {
	fs := Aggregate(series(domain.FieldVoltage, 0, 0), FieldsFor(domain.KindPower)).Field(domain.FieldVoltage)

	assert.Equal(t, FieldStats{}, fs)
}

func TestAggregate_NegativeValuesCount(t *testing.T) {
	fs := Aggregate(series(domain.FieldCurrent, -2, 4), FieldsFor(domain.KindPower)).Field(domain.FieldCurrent)

	assert.Equal(t, -2.0, fs.Min)
	assert.Equal(t, 4.0, fs.Max)
	assert.Equal(t, 1.0, fs.Avg)
}

func TestAggregate_ZeroIsValue(t *testing.T) {
	fs := Aggregate(series(domain.FieldLevel, 0, 50, 100), FieldsFor(domain.KindWater)).Field(domain.FieldLevel)

	assert.Equal(t, 50.0, fs.Avg)
	assert.Equal(t, 0.0, fs.Min)
	assert.Equal(t, 100.0, fs.Max)
	assert.Equal(t, 100.0, fs.Current)
	assert.Equal(t, 3, fs.Count)
}

func TestAggregate_Total(t *testing.T) {
	fs := Aggregate(series(domain.FieldPower, 100, 0, 300), FieldsFor(domain.KindPower)).Field(domain.FieldPower)

	assert.Equal(t, 400.0, fs.Total)
	assert.Equal(t, 200.0, fs.Avg)
}

func TestAggregate_MinAvgMaxOrdering(t *testing.T) {
	values := []float64{12.5, 3, 7, 7, 19.25, 0.5, 11}
	fs := Aggregate(series(domain.FieldTemperature, values...), FieldsFor(domain.KindTemperature)).Field(domain.FieldTemperature)

	assert.LessOrEqual(t, fs.Min, fs.Avg)
	assert.LessOrEqual(t, fs.Avg, fs.Max)
	assert.Equal(t, 11.0, fs.Current)
}

func TestAggregate_UntrackedField(t *testing.T) {
	s := Aggregate(series(domain.FieldVoltage, 230), FieldsFor(domain.KindPower))
	assert.Equal(t, FieldStats{}, s.Field("pressure"))
}

func TestCountLabels(t *testing.T) {
	readings := []domain.Reading{
		{Labels: map[string]string{domain.LabelStatus: "Low"}},
		{Labels: map[string]string{domain.LabelStatus: "Normal"}},
		{Labels: map[string]string{domain.LabelStatus: "Low"}},
		{Labels: map[string]string{domain.LabelStatus: "Critical"}},
	}

	counts := CountLabels(readings, domain.LabelStatus)
	require.Len(t, counts, 3)
	assert.Equal(t, Count{Status: "Low", Count: 2}, counts[0])
	assert.Equal(t, Count{Status: "Critical", Count: 1}, counts[1])
	assert.Equal(t, Count{Status: "Normal", Count: 1}, counts[2])
	assert.Equal(t, "Low", Primary(counts))
}

func TestCountFlagsAndValues(t *testing.T) {
	readings := []domain.Reading{
		{Flags: map[string]bool{domain.FlagEnabled: true}, Values: map[string]float64{domain.FieldState: 1}},
		{Flags: map[string]bool{domain.FlagEnabled: false}, Values: map[string]float64{domain.FieldState: 1}},
		{Values: map[string]float64{domain.FieldState: 0}},
	}

	flags := CountFlags(readings, domain.FlagEnabled, "active", "inactive")
	assert.Equal(t, []Count{{Status: "inactive", Count: 2}, {Status: "active", Count: 1}}, flags)

	values := CountValues(readings, domain.FieldState, "ON", "OFF")
	assert.Equal(t, []Count{{Status: "ON", Count: 2}, {Status: "OFF", Count: 1}}, values)

	assert.Equal(t, "", Primary(nil))
}
