package telegram

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/payment"
	"github.com/digkill/MoonPathBot/internal/service"
)

const (
	historyPageSize = 10
	maxMessageLen   = 4096
)

const (
	cbSkipName      = "skip_name"
	cbMoodPrefix    = "mood:"
	cbPhasePrefix   = "phase:"
	cbPlanPrefix    = "plan:"
	cbHistPrefix    = "hist:"
	cbPagePrefix    = "page:"
	cbJournalPrefix = "journal:"
	cbNew           = "nav:new"
	cbHistory       = "nav:history"
	cbBackHistory   = "nav:back_history"
	cbPlans         = "nav:plans"
	cbClosePlans    = "nav:close_plans"
	cbSettings      = "nav:settings"
	cbCloseSettings = "nav:close_settings"
	cbWeekly        = "nav:weekly"
	cbTheme         = "theme"
	cbClear         = "clear"
	cbClearYes      = "clear:yes"
	cbClearNo       = "clear:no"
	cbExport        = "export"
)

const cardFormatHelp = "Send your card as: number; MM/YY; CVC\nFor example: 4242 4242 4242 4242; 12/30; 123\nTest cards only. Send /cancel to stop."

var errCardFormat = errors.New("card details must be: number; MM/YY; CVC")

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func renderOnboarding(errMsg string) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	b.WriteString("🌙 Welcome to MoonPath.\n\n")
	if errMsg != "" {
		b.WriteString("⚠️ " + errMsg + "\n\n")
	}
	b.WriteString("What should the moon call you? Send your name, or tap Skip.")
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("Skip", cbSkipName)),
		tgbotapi.NewInlineKeyboardRow(button("✨ Plans", cbPlans), button("⚙️ Settings", cbSettings)),
	)
	return b.String(), keyboard
}

func moodKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(models.Moods); i += 2 {
		row := []tgbotapi.InlineKeyboardButton{button(string(models.Moods[i]), cbMoodPrefix+string(models.Moods[i]))}
		if i+1 < len(models.Moods) {
			row = append(row, button(string(models.Moods[i+1]), cbMoodPrefix+string(models.Moods[i+1])))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func phaseKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(models.MoonPhases); i += 2 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(string(models.MoonPhases[i]), cbPhasePrefix+string(models.MoonPhases[i])),
			button(string(models.MoonPhases[i+1]), cbPhasePrefix+string(models.MoonPhases[i+1])),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func renderReading(rec models.HistoricReading, fromHistory bool) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	if rec.UserInputs.Name != "" {
		fmt.Fprintf(&b, "For %s · %s · %s\n\n", rec.UserInputs.Name, rec.UserInputs.MoonPhase, rec.UserInputs.Mood)
	}
	b.WriteString(models.MatchReading(rec.Reading, renderDaily, renderSpecial))

	if len(rec.Reading.SponsoredProducts) > 0 {
		b.WriteString("\n\n🛍 For your path:")
		for _, p := range rec.Reading.SponsoredProducts {
			fmt.Fprintf(&b, "\n• %s: %s %s", p.DisplayName, p.DisplayDescription, p.URL)
		}
	}
	if rec.JournalEntry != "" {
		b.WriteString("\n\n📝 Your journal:\n" + rec.JournalEntry)
	}

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(button("✍️ Journal", cbJournalPrefix+rec.ID)),
	}
	if fromHistory {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⬅️ Back to history", cbBackHistory)))
	} else {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("📜 History", cbHistory)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("🌙 New reading", cbNew), button("✨ Plans", cbPlans)))
	return b.String(), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func renderDaily(d models.DailyReading) string {
	var b strings.Builder
	heading(&b, d.MoonPhaseHeading)
	if d.LunarAlignment != "" {
		fmt.Fprintf(&b, "Lunar alignment: %s\n\n", d.LunarAlignment)
	}
	b.WriteString(strings.Join(d.LunarMessage, "\n\n"))
	fmt.Fprintf(&b, "\n\n⚠️ Lunar warning: %s", d.LunarWarning)
	fmt.Fprintf(&b, "\n⏳ Opportunity window: %s", d.OpportunityWindow)
	fmt.Fprintf(&b, "\n🔮 Lunar symbol: %s. %s", d.LunarSymbol.Name, d.LunarSymbol.Meaning)
	fmt.Fprintf(&b, "\n\n%s", d.ClosingLine)
	return b.String()
}

func renderSpecial(s models.SpecialReading) string {
	var b strings.Builder
	heading(&b, s.MoonPhaseHeading)
	fmt.Fprintf(&b, "✨ %s\n", s.SpecialTheme)
	if s.LunarAlignment != "" {
		fmt.Fprintf(&b, "Lunar alignment: %s\n", s.LunarAlignment)
	}
	b.WriteString("\n" + strings.Join(s.DeepDiveMessage, "\n\n"))
	fmt.Fprintf(&b, "\n\n🕯 %s\n%s", s.RitualSuggestion.Title, s.RitualSuggestion.Description)
	fmt.Fprintf(&b, "\n\n🔮 %s\n%s", s.OracleInsight.Title, s.OracleInsight.Description)
	fmt.Fprintf(&b, "\n\n%s", s.ClosingLine)
	return b.String()
}

func heading(b *strings.Builder, h models.Heading) {
	if h.Title == "" {
		return
	}
	fmt.Fprintf(b, "🌕 %s\n", h.Title)
	if h.Description != "" {
		b.WriteString(h.Description + "\n")
	}
	b.WriteString("\n")
}

func renderHistory(plan models.Plan, visible []models.HistoricReading, page int) (string, tgbotapi.InlineKeyboardMarkup) {
	if !service.IsPremiumFeatureEnabled(plan) {
		return "📜 Your reading history opens with MoonPath Plus and Premium.",
			tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(button("✨ See plans", cbPlans)),
				tgbotapi.NewInlineKeyboardRow(button("🌙 New reading", cbNew)),
			)
	}
	if len(visible) == 0 {
		return "📜 No readings yet. Your first one is a tap away.",
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(button("🌙 New reading", cbNew)))
	}

	pages := (len(visible) + historyPageSize - 1) / historyPageSize
	page = max(0, min(page, pages-1))
	start := page * historyPageSize
	end := min(start+historyPageSize, len(visible))

	text := fmt.Sprintf("📜 Your readings (%d)", len(visible))
	if pages > 1 {
		text += fmt.Sprintf(", page %d of %d", page+1, pages)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, rec := range visible[start:end] {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(historyLabel(rec), cbHistPrefix+rec.ID)))
	}
	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, button("◀️", fmt.Sprintf("%s%d", cbPagePrefix, page-1)))
	}
	if page < pages-1 {
		nav = append(nav, button("▶️", fmt.Sprintf("%s%d", cbPagePrefix, page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(button("📈 Weekly report", cbWeekly)),
		tgbotapi.NewInlineKeyboardRow(button("🌙 New reading", cbNew)),
	)
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func historyLabel(rec models.HistoricReading) string {
	label := fmt.Sprintf("%s · %s · %s", rec.Date.Format("Jan 2"), rec.UserInputs.MoonPhase, rec.UserInputs.Mood)
	if rec.Reading.Type() == models.ReadingTypeSpecial {
		label = "✨ " + label
	}
	if rec.JournalEntry != "" {
		label += " 📝"
	}
	return label
}

func renderSubscription(catalog []models.SubscriptionPlan, current models.Plan) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	b.WriteString("✨ Choose your path\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range catalog {
		fmt.Fprintf(&b, "\n%s · %s", p.Name, p.Price)
		switch {
		case p.Name == current:
			b.WriteString(" (current plan)")
		case p.Recommended:
			b.WriteString(" ★ recommended")
		}
		fmt.Fprintf(&b, "\n%s\n", p.Tagline)
		for _, f := range p.Features {
			b.WriteString("• " + f + "\n")
		}
		if p.Name != current {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("Choose "+string(p.Name), cbPlanPrefix+string(p.Name))))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("Close", cbClosePlans)))
	return strings.TrimRight(b.String(), "\n"), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func renderSettings(s settingsView) (string, tgbotapi.InlineKeyboardMarkup) {
	if s.ConfirmingClear {
		return "Clear all of your readings and journal entries? This cannot be undone.",
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				button("Yes, clear", cbClearYes),
				button("Cancel", cbClearNo),
			))
	}
	text := fmt.Sprintf("⚙️ Settings\n\nPlan: %s\nTheme: %s", s.Plan, s.Theme)
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(button(fmt.Sprintf("Switch to %s theme", s.Theme.Toggle()), cbTheme)),
		tgbotapi.NewInlineKeyboardRow(button("Manage subscription", cbPlans)),
	}
	if s.ExportEnabled {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("Export history", cbExport)))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(button("Clear reading history", cbClear)),
		tgbotapi.NewInlineKeyboardRow(button("Close", cbCloseSettings)),
	)
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...)
}

type settingsView struct {
	Plan            models.Plan
	Theme           models.Theme
	ConfirmingClear bool
	ExportEnabled   bool
}

func renderWeeklyReport(r models.WeeklyReport) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 Weekly Lunar Evolution\n%s", r.DateRange)
	for _, s := range []models.Section{r.MoodAnalysis, r.ThematicInsights, r.ForwardGuidance} {
		fmt.Fprintf(&b, "\n\n%s\n%s", s.Title, s.Description)
	}
	return b.String(), tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("⬅️ Back to history", cbHistory)),
	)
}

// parseCard reads "number; MM/YY; CVC". Newlines work as separators too.
func parseCard(text string) (payment.Card, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ';' || r == '\n' })
	if len(fields) != 3 {
		return payment.Card{}, errCardFormat
	}
	return payment.Card{
		Number: strings.TrimSpace(fields[0]),
		Expiry: payment.FormatExpiry(fields[1]),
		CVC:    strings.TrimSpace(fields[2]),
	}, nil
}

func truncateText(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen - len("…")
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
