package stats

import "github.com/HrishikShaji/mqtt-dashboard/internal/domain"

// FieldsFor возвращает набор агрегируемых полей для типа датчика
func FieldsFor(kind domain.Kind) []Field {
	switch kind {
	case domain.KindSwitch:
		return []Field{
			{Name: domain.FieldState, Zero: ZeroIsValue},
		}
	case domain.KindTemperature:
		return []Field{
			{Name: domain.FieldTemperature, Zero: ZeroIsValue},
			{Name: domain.FieldHumidity, Zero: ZeroIsValue},
		}
	case domain.KindWater:
		// пустой бак (0%) валидное и важное значение
		return []Field{
			{Name: domain.FieldLevel, Zero: ZeroIsValue},
			{Name: domain.FieldPercentage, Zero: ZeroIsValue},
		}
	case domain.KindPower:
		return []Field{
			{Name: domain.FieldVoltage, Zero: ZeroIsMissing},
			{Name: domain.FieldCurrent, Zero: ZeroIsMissing},
			{Name: domain.FieldPower, Zero: ZeroIsMissing, Accumulate: true},
			{Name: domain.FieldPowerFactor, Zero: ZeroIsMissing},
			{Name: domain.FieldFrequency, Zero: ZeroIsMissing},
		}
	}
	return nil
}
