package quality

import (
	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/stats"
)

type Status string

const (
	Excellent Status = "Excellent"
	Good      Status = "Good"
	Fair      Status = "Fair"
	Poor      Status = "Poor"

	Normal   Status = "Normal"
	Low      Status = "Low"
	Critical Status = "Critical"

	Cold Status = "Cold"
	Hot  Status = "Hot"

	On  Status = "ON"
	Off Status = "OFF"
)

const (
	ColorGreen  = "#10b981"
	ColorBlue   = "#3b82f6"
	ColorAmber  = "#f59e0b"
	ColorRed    = "#ef4444"
	ColorSky    = "#0ea5e9"
	ColorSilver = "#9ca3af"
)

// Verdict качественная оценка окна
type Verdict struct {
	Status Status `json:"status"`
	Color  string `json:"color"`
}

// PowerTier порог одного уровня качества сети
type PowerTier struct {
	Status         Status
	Color          string
	MinPowerFactor float64
	MaxFreqSpread  float64
	MaxVoltSpread  float64 // в процентах от среднего напряжения
}

// PowerTiers проверяются сверху вниз, первое совпадение побеждает
var PowerTiers = []PowerTier{
	{Status: Excellent, Color: ColorGreen, MinPowerFactor: 0.95, MaxFreqSpread: 1, MaxVoltSpread: 5},
	{Status: Good, Color: ColorBlue, MinPowerFactor: 0.90, MaxFreqSpread: 2, MaxVoltSpread: 10},
	{Status: Fair, Color: ColorAmber, MinPowerFactor: 0.80, MaxFreqSpread: 3, MaxVoltSpread: 15},
}

var poorPower = Verdict{Status: Poor, Color: ColorRed}

// PowerMetrics входные метрики классификатора качества сети
type PowerMetrics struct {
	AvgPowerFactor   float64 `json:"avgPowerFactor"`
	FrequencySpread  float64 `json:"frequencySpread"`
	VoltageSpreadPct float64 `json:"voltageSpreadPct"`
}

// PowerMetricsFrom выводит метрики из агрегатов окна
func PowerMetricsFrom(s stats.Stats) PowerMetrics {
	voltage := s.Field(domain.FieldVoltage)

	var voltSpread float64
	if voltage.Avg > 0 {
		voltSpread = voltage.Spread() / voltage.Avg * 100
	}

	return PowerMetrics{
		AvgPowerFactor:   s.Field(domain.FieldPowerFactor).Avg,
		FrequencySpread:  s.Field(domain.FieldFrequency).Spread(),
		VoltageSpreadPct: voltSpread,
	}
}

// Power классифицирует качество электросети.
// Пустое окно (все нули) даёт Poor: коэффициент мощности 0 не проходит ни один уровень.
func Power(s stats.Stats) Verdict {
	return ClassifyPower(PowerMetricsFrom(s))
}

func ClassifyPower(m PowerMetrics) Verdict {
	for _, t := range PowerTiers {
		if m.AvgPowerFactor >= t.MinPowerFactor &&
			m.FrequencySpread <= t.MaxFreqSpread &&
			m.VoltageSpreadPct <= t.MaxVoltSpread {
			return Verdict{Status: t.Status, Color: t.Color}
		}
	}
	return poorPower
}

// WaterLevel классифицирует заполненность бака в процентах
func WaterLevel(pct float64) Verdict {
	switch {
	case pct < 20:
		return Verdict{Status: Critical, Color: ColorRed}
	case pct < 50:
		return Verdict{Status: Low, Color: ColorAmber}
	default:
		return Verdict{Status: Normal, Color: ColorGreen}
	}
}

// Temperature классифицирует температуру в °C
func Temperature(celsius float64) Verdict {
	switch {
	case celsius < 20:
		return Verdict{Status: Cold, Color: ColorSky}
	case celsius > 30:
		return Verdict{Status: Hot, Color: ColorRed}
	default:
		return Verdict{Status: Normal, Color: ColorGreen}
	}
}

func Switch(on bool) Verdict {
	if on {
		return Verdict{Status: On, Color: ColorGreen}
	}
	return Verdict{Status: Off, Color: ColorSilver}
}

// Classify выбирает классификатор по типу датчика
func Classify(kind domain.Kind, s stats.Stats) Verdict {
	switch kind {
	case domain.KindPower:
		return Power(s)
	case domain.KindWater:
		return WaterLevel(s.Field(domain.FieldPercentage).Current)
	case domain.KindTemperature:
		return Temperature(s.Field(domain.FieldTemperature).Current)
	case domain.KindSwitch:
		return Switch(s.Field(domain.FieldState).Current != 0)
	}
	return Verdict{Status: "Unknown", Color: ColorSilver}
}
