package service

import "github.com/digkill/MoonPathBot/internal/models"

// PlusHistoryDepth is how many of the newest readings a Plus subscriber can browse.
const PlusHistoryDepth = 30

// MinWeeklyReadings is the number of readings from the last seven days a weekly report needs.
const MinWeeklyReadings = 3

// VisibleHistory returns the part of a newest-first history that plan may see.
// The result shares the backing array with history.
func VisibleHistory(plan models.Plan, history []models.HistoricReading) []models.HistoricReading {
	switch plan {
	case models.PlanPremium:
		return history
	case models.PlanPlus:
		if len(history) > PlusHistoryDepth {
			return history[:PlusHistoryDepth]
		}
		return history
	default:
		return []models.HistoricReading{}
	}
}

// IsPremiumFeatureEnabled gates history browsing and weekly reports.
func IsPremiumFeatureEnabled(plan models.Plan) bool {
	return plan == models.PlanPlus || plan == models.PlanPremium
}

// IsSpecialReading reports whether plan gets the special variant on phase.
func IsSpecialReading(plan models.Plan, phase models.MoonPhase) bool {
	return plan == models.PlanPremium && (phase == models.MoonPhaseFull || phase == models.MoonPhaseNew)
}

func ReadingTypeFor(plan models.Plan, phase models.MoonPhase) models.ReadingType {
	if IsSpecialReading(plan, phase) {
		return models.ReadingTypeSpecial
	}
	return models.ReadingTypeDaily
}

func CanGenerateWeeklyReport(plan models.Plan, recentReadings int) bool {
	return IsPremiumFeatureEnabled(plan) && recentReadings >= MinWeeklyReadings
}
