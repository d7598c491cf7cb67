package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDaily() DailyReading {
	return DailyReading{
		MoonPhaseHeading:  Heading{Title: "Full Moon", Description: "Everything is lit."},
		LunarAlignment:    "Silver Drift",
		LunarMessage:      []string{"First paragraph.", "Second paragraph."},
		LunarWarning:      "Do not rush.",
		OpportunityWindow: "13:00-16:00",
		LunarSymbol:       Symbol{Name: "The Veiled Bridge", Meaning: "Crossing softly."},
		ClosingLine:       "The tide knows.",
	}
}

func sampleSpecial() SpecialReading {
	return SpecialReading{
		MoonPhaseHeading: Heading{Title: "New Moon", Description: "A dark sky."},
		LunarAlignment:   "Quiet Orbit",
		SpecialTheme:     "The Tide of Beginnings",
		DeepDiveMessage:  []string{"One.", "Two.", "Three."},
		RitualSuggestion: Section{Title: "Seed Ritual", Description: "Write one intention."},
		OracleInsight:    Section{Title: "Ask", Description: "What wants to begin?"},
		ClosingLine:      "Begin in the dark.",
	}
}

func TestReadingJSONCarriesDiscriminator(t *testing.T) {
	r := Reading{
		Content: sampleDaily(),
		SponsoredProducts: []SponsoredProduct{
			{DisplayName: "Moon Journal", DisplayDescription: "Dotted pages.", URL: "https://example.com/j"},
		},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "daily", raw["readingType"])
	assert.Equal(t, "Silver Drift", raw["lunarAlignment"])
	assert.Len(t, raw["sponsoredProducts"], 1)

	var decoded Reading
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r, decoded)
}

func TestReadingJSONSpecialVariant(t *testing.T) {
	r := Reading{Content: sampleSpecial()}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sponsoredProducts")

	var decoded Reading
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ReadingTypeSpecial, decoded.Type())
	assert.Equal(t, sampleSpecial(), decoded.Content)
}

func TestReadingJSONInfersLegacyVariant(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ReadingType
	}{
		{name: "daily without tag", body: `{"lunarMessage":["a"],"closingLine":"c"}`, want: ReadingTypeDaily},
		{name: "special without tag", body: `{"deepDiveMessage":["a"],"specialTheme":"t"}`, want: ReadingTypeSpecial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Reading
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			assert.Equal(t, tt.want, r.Type())
		})
	}
}

func TestReadingJSONRejectsBadInput(t *testing.T) {
	for _, body := range []string{`null`, `[1,2]`, `{"readingType":"weekly"}`, `"text"`} {
		var r Reading
		assert.Error(t, json.Unmarshal([]byte(body), &r), body)
	}
}

func TestReadingValidate(t *testing.T) {
	assert.NoError(t, Reading{Content: sampleDaily()}.Validate())
	assert.NoError(t, Reading{Content: sampleSpecial()}.Validate())

	incomplete := sampleDaily()
	incomplete.ClosingLine = ""
	assert.ErrorIs(t, Reading{Content: incomplete}.Validate(), ErrIncompleteReading)
	assert.ErrorIs(t, Reading{}.Validate(), ErrIncompleteReading)

	tooMany := Reading{Content: sampleDaily(), SponsoredProducts: make([]SponsoredProduct, 4)}
	assert.Error(t, tooMany.Validate())
}

func TestMatchReading(t *testing.T) {
	label := func(r Reading) string {
		return MatchReading(r,
			func(d DailyReading) string { return "daily:" + d.LunarSymbol.Name },
			func(s SpecialReading) string { return "special:" + s.SpecialTheme },
		)
	}
	assert.Equal(t, "daily:The Veiled Bridge", label(Reading{Content: sampleDaily()}))
	assert.Equal(t, "special:The Tide of Beginnings", label(Reading{Content: sampleSpecial()}))
}

func TestHistoricReadingRoundTrip(t *testing.T) {
	rec := HistoricReading{
		ID:           "0190f6d2-aaaa",
		Date:         time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		UserInputs:   UserInputs{Name: "Ana", Mood: MoodHopeful, MoonPhase: MoonPhaseFull},
		Reading:      Reading{Content: sampleDaily()},
		JournalEntry: "felt calm",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date":"2024-05-01T10:00:00Z"`)

	var decoded HistoricReading
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec, decoded)
}

func TestEnumValidity(t *testing.T) {
	assert.Len(t, MoonPhases, 8)
	assert.True(t, MoonPhaseWaningCrescent.Valid())
	assert.False(t, MoonPhase("Blue Moon").Valid())
	assert.True(t, MoodSearching.Valid())
	assert.False(t, Mood("").Valid())
	assert.True(t, PlanPremium.Valid())
	assert.False(t, Plan("Gold").Valid())
	assert.Equal(t, ThemeLight, ThemeDark.Toggle())
	assert.Equal(t, ThemeDark, ThemeLight.Toggle())
}

func TestWeeklyReportComplete(t *testing.T) {
	r := WeeklyReport{
		DateRange:        "May 1 - May 7",
		MoodAnalysis:     Section{Title: "Moods", Description: "Mostly hopeful."},
		ThematicInsights: Section{Title: "Themes", Description: "Tides."},
		ForwardGuidance:  Section{Title: "Ahead", Description: "Rest."},
	}
	assert.True(t, r.Complete())
	r.ForwardGuidance.Description = ""
	assert.False(t, r.Complete())
}
