package models

import "time"

type MoonPhase string

const (
	MoonPhaseNew            MoonPhase = "New Moon"
	MoonPhaseWaxingCrescent MoonPhase = "Waxing Crescent"
	MoonPhaseFirstQuarter   MoonPhase = "First Quarter"
	MoonPhaseWaxingGibbous  MoonPhase = "Waxing Gibbous"
	MoonPhaseFull           MoonPhase = "Full Moon"
	MoonPhaseWaningGibbous  MoonPhase = "Waning Gibbous"
	MoonPhaseLastQuarter    MoonPhase = "Last Quarter"
	MoonPhaseWaningCrescent MoonPhase = "Waning Crescent"
)

// MoonPhases lists the lunar cycle in order, starting at the new moon.
var MoonPhases = []MoonPhase{
	MoonPhaseNew,
	MoonPhaseWaxingCrescent,
	MoonPhaseFirstQuarter,
	MoonPhaseWaxingGibbous,
	MoonPhaseFull,
	MoonPhaseWaningGibbous,
	MoonPhaseLastQuarter,
	MoonPhaseWaningCrescent,
}

func (p MoonPhase) Valid() bool {
	for _, phase := range MoonPhases {
		if p == phase {
			return true
		}
	}
	return false
}

type Mood string

const (
	MoodReflective Mood = "Reflective"
	MoodHopeful    Mood = "Hopeful"
	MoodWeary      Mood = "Weary"
	MoodRestless   Mood = "Restless"
	MoodJoyful     Mood = "Joyful"
	MoodSearching  Mood = "Searching"
)

var Moods = []Mood{MoodReflective, MoodHopeful, MoodWeary, MoodRestless, MoodJoyful, MoodSearching}

func (m Mood) Valid() bool {
	for _, mood := range Moods {
		if m == mood {
			return true
		}
	}
	return false
}

type Plan string

const (
	PlanFree    Plan = "Free"
	PlanPlus    Plan = "MoonPath Plus"
	PlanPremium Plan = "MoonPath Premium"
)

var Plans = []Plan{PlanFree, PlanPlus, PlanPremium}

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPlus, PlanPremium:
		return true
	default:
		return false
	}
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Toggle returns the opposite theme; unknown values flip to light.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

type UserInputs struct {
	Name      string    `json:"name"`
	Mood      Mood      `json:"mood"`
	MoonPhase MoonPhase `json:"moonPhase"`
}

// HistoricReading is one persisted generation event. Only JournalEntry changes after creation.
type HistoricReading struct {
	ID           string     `json:"id"`
	Date         time.Time  `json:"date"`
	UserInputs   UserInputs `json:"userInputs"`
	Reading      Reading    `json:"reading"`
	JournalEntry string     `json:"journalEntry"`
}

type Section struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type WeeklyReport struct {
	DateRange        string  `json:"dateRange"`
	MoodAnalysis     Section `json:"moodAnalysis"`
	ThematicInsights Section `json:"thematicInsights"`
	ForwardGuidance  Section `json:"forwardGuidance"`
}

// Complete reports whether every section of the report carries text.
func (r WeeklyReport) Complete() bool {
	if r.DateRange == "" {
		return false
	}
	for _, s := range []Section{r.MoodAnalysis, r.ThematicInsights, r.ForwardGuidance} {
		if s.Title == "" || s.Description == "" {
			return false
		}
	}
	return true
}

type SubscriptionPlan struct {
	Name        Plan     `json:"name"`
	Price       string   `json:"price"`
	Tagline     string   `json:"tagline"`
	Features    []string `json:"features"`
	Recommended bool     `json:"recommended,omitempty"`
}

type PaymentStatus string

const (
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusDeclined          PaymentStatus = "declined"
	PaymentStatusInsufficientFunds PaymentStatus = "insufficient_funds"
	PaymentStatusUnsupported       PaymentStatus = "unsupported"
	PaymentStatusInvalid           PaymentStatus = "invalid"
)

// Payment is a ledger row for one simulated checkout attempt.
type Payment struct {
	ID        int64
	Namespace string
	Plan      Plan
	CardLast4 string
	Status    PaymentStatus
	Message   string
	CreatedAt time.Time
}
