package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/service"
	"github.com/digkill/MoonPathBot/internal/session"
)

const (
	maxJournalLen     = 4000
	msgStillAnswering = "The moon is still answering your last request. Please try again in a moment."
)

type Exporter interface {
	ExportHistory(ctx context.Context, namespace string, plan models.Plan, records []models.HistoricReading) (string, error)
}

type Catalog interface {
	Catalog() []models.SubscriptionPlan
	Describe(plan models.Plan) (models.SubscriptionPlan, bool)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api      *tgbotapi.BotAPI
	send     sender
	log      *slog.Logger
	sessions *session.Manager
	catalog  Catalog
	exporter Exporter
	inputs   *InputManager
	wg       sync.WaitGroup
}

// NewBot wires the Telegram client to the session manager. exporter may be nil.
func NewBot(api *tgbotapi.BotAPI, log *slog.Logger, sessions *session.Manager, catalog Catalog, exporter Exporter) *Bot {
	return &Bot{
		api:      api,
		send:     api,
		log:      log,
		sessions: sessions,
		catalog:  catalog,
		exporter: exporter,
		inputs:   NewInputManager(),
	}
}

// Run polls for updates until ctx is cancelled. Each update is handled on its own goroutine.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update handler panicked", "update_id", update.UpdateID, "panic", r)
		}
	}()
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) machine(ctx context.Context, chatID int64) *session.Machine {
	return b.sessions.Get(ctx, session.Namespace(chatID))
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	chatID := msg.Chat.ID
	input := b.inputs.Get(chatID)
	switch input.Mode {
	case ModeAwaitingName:
		b.inputs.Update(chatID, func(in *Input) { in.Name = text })
		b.promptMood(chatID)
	case ModeAwaitingJournal:
		b.handleJournal(ctx, msg, input)
	case ModeAwaitingCard:
		b.handleCard(ctx, msg, input)
	default:
		b.sendText(chatID, "Tap /reading to ask the moon, or /help to see what I can do.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	m := b.machine(ctx, chatID)
	switch msg.Command() {
	case "start", "reading":
		b.inputs.Reset(chatID)
		m.Reset()
	case "history":
		b.inputs.Reset(chatID)
		m.ViewHistory()
	case "plans":
		m.OpenSubscription()
	case "settings":
		m.OpenSettings()
	case "cancel":
		b.inputs.Reset(chatID)
		b.closeModals(m)
		b.sendText(chatID, "Cancelled.")
	case "help":
		b.sendText(chatID, "/reading · a new lunar reading\n/history · your past readings\n/plans · MoonPath plans\n/settings · theme, export and history\n/cancel · stop what you were doing")
		return
	default:
		b.sendText(chatID, "Unknown command. Try /help.")
		return
	}
	b.show(chatID, m)
}

func (b *Bot) closeModals(m *session.Machine) {
	switch m.Snapshot().Screen {
	case session.ScreenSubscription:
		_ = m.CloseSubscription()
	case session.ScreenSettings:
		_ = m.CloseSettings()
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		b.answer(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID
	m := b.machine(ctx, chatID)
	data := cb.Data

	var err error
	switch {
	case data == cbSkipName:
		b.answer(cb.ID, "")
		b.inputs.Update(chatID, func(in *Input) { in.Mode, in.Name = ModeIdle, "" })
		b.promptMood(chatID)
		return
	case strings.HasPrefix(data, cbMoodPrefix):
		mood := models.Mood(strings.TrimPrefix(data, cbMoodPrefix))
		if !mood.Valid() {
			b.answer(cb.ID, "Unknown mood")
			return
		}
		b.answer(cb.ID, "")
		b.inputs.Update(chatID, func(in *Input) { in.Mode, in.Mood = ModeIdle, mood })
		b.promptPhase(chatID)
		return
	case strings.HasPrefix(data, cbPhasePrefix):
		b.answer(cb.ID, "")
		b.submitReading(ctx, chatID, m, models.MoonPhase(strings.TrimPrefix(data, cbPhasePrefix)))
		return
	case strings.HasPrefix(data, cbPlanPrefix):
		b.answer(cb.ID, "")
		b.choosePlan(ctx, chatID, m, models.Plan(strings.TrimPrefix(data, cbPlanPrefix)))
		return
	case strings.HasPrefix(data, cbHistPrefix):
		err = m.SelectHistoricReading(strings.TrimPrefix(data, cbHistPrefix))
	case strings.HasPrefix(data, cbPagePrefix):
		page, convErr := strconv.Atoi(strings.TrimPrefix(data, cbPagePrefix))
		if convErr != nil {
			b.answer(cb.ID, "")
			return
		}
		b.inputs.Update(chatID, func(in *Input) { in.Page = page })
		m.ViewHistory()
	case strings.HasPrefix(data, cbJournalPrefix):
		id := strings.TrimPrefix(data, cbJournalPrefix)
		b.answer(cb.ID, "")
		b.inputs.Update(chatID, func(in *Input) { in.Mode, in.ReadingID = ModeAwaitingJournal, id })
		b.sendText(chatID, "Send your journal entry for this reading. It replaces any earlier entry. /cancel to stop.")
		return
	case data == cbNew:
		b.inputs.Reset(chatID)
		m.Reset()
	case data == cbHistory:
		b.inputs.Update(chatID, func(in *Input) { in.Page = 0 })
		m.ViewHistory()
	case data == cbBackHistory:
		m.BackToHistory()
	case data == cbPlans:
		m.OpenSubscription()
	case data == cbClosePlans:
		b.inputs.Update(chatID, func(in *Input) { in.Mode = ModeIdle })
		err = m.CloseSubscription()
	case data == cbSettings:
		m.OpenSettings()
	case data == cbCloseSettings:
		err = m.CloseSettings()
	case data == cbWeekly:
		b.answer(cb.ID, "")
		b.sendText(chatID, "🌘 Gathering your week…")
		err = m.GenerateWeeklyReport(ctx)
		b.afterAction(chatID, m, err)
		return
	case data == cbTheme:
		theme := m.ToggleTheme(ctx)
		b.answer(cb.ID, fmt.Sprintf("Theme: %s", theme))
		b.show(chatID, m)
		return
	case data == cbClear:
		err = m.InitiateClearHistory()
	case data == cbClearYes:
		err = m.ConfirmClearHistory(ctx)
	case data == cbClearNo:
		m.CancelClearHistory()
	case data == cbExport:
		b.answer(cb.ID, "")
		b.exportHistory(ctx, chatID, m)
		return
	default:
		b.answer(cb.ID, "Unknown choice")
		return
	}
	b.answer(cb.ID, "")
	b.afterAction(chatID, m, err)
}

// afterAction reports a rejected action, or shows the resulting screen.
func (b *Bot) afterAction(chatID int64, m *session.Machine, err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRequestInFlight):
		b.sendText(chatID, "The moon is still answering your last request. One moment.")
		return
	case errors.Is(err, session.ErrReadingNotFound):
		b.sendText(chatID, "That reading is no longer available.")
	case errors.Is(err, session.ErrInvalidTransition):
		b.log.Debug("stale button", "chat_id", chatID, "err", err)
	default:
		b.log.Error("session action", "chat_id", chatID, "err", err)
	}
	b.show(chatID, m)
}

func (b *Bot) promptMood(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "How are you feeling today?")
	msg.ReplyMarkup = moodKeyboard()
	b.sendMessage(msg)
}

func (b *Bot) promptPhase(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Which moon phase calls to you?")
	msg.ReplyMarkup = phaseKeyboard()
	b.sendMessage(msg)
}

func (b *Bot) submitReading(ctx context.Context, chatID int64, m *session.Machine, phase models.MoonPhase) {
	input := b.inputs.Get(chatID)
	if input.Mood == "" {
		b.promptMood(chatID)
		return
	}
	if m.Snapshot().Screen != session.ScreenOnboarding {
		m.Reset()
	}
	b.sendText(chatID, "🌙 The moon is listening…")
	err := m.SubmitReadingRequest(ctx, models.UserInputs{
		Name:      input.Name,
		Mood:      input.Mood,
		MoonPhase: phase,
	})
	if err == nil {
		b.inputs.Reset(chatID)
	}
	b.afterAction(chatID, m, err)
}

func (b *Bot) choosePlan(ctx context.Context, chatID int64, m *session.Machine, plan models.Plan) {
	if !plan.Valid() {
		b.sendText(chatID, "That plan is not available.")
		return
	}
	if m.Snapshot().Screen != session.ScreenSubscription {
		m.OpenSubscription()
	}
	if plan == models.PlanFree {
		if err := m.SelectPlan(ctx, plan); err != nil {
			b.log.Error("select plan", "chat_id", chatID, "err", err)
		}
		b.show(chatID, m)
		return
	}
	b.inputs.Update(chatID, func(in *Input) { in.Mode, in.Plan = ModeAwaitingCard, plan })
	prompt := fmt.Sprintf("Subscribe to %s.", plan)
	if p, ok := b.catalog.Describe(plan); ok {
		prompt = fmt.Sprintf("Subscribe to %s for %s.", plan, p.Price)
	}
	b.sendText(chatID, prompt+"\n\n"+cardFormatHelp)
}

func (b *Bot) handleCard(ctx context.Context, msg *tgbotapi.Message, input Input) {
	chatID := msg.Chat.ID
	if _, err := b.send.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		b.log.Warn("delete card message", "chat_id", chatID, "err", err)
	}
	card, err := parseCard(msg.Text)
	if err != nil {
		b.sendText(chatID, cardFormatHelp)
		return
	}

	m := b.machine(ctx, chatID)
	state := m.Snapshot()
	if state.Loading {
		b.sendText(chatID, msgStillAnswering)
		return
	}
	if state.Screen != session.ScreenSubscription {
		m.OpenSubscription()
	}
	b.sendText(chatID, "Processing payment…")
	err = m.PurchasePlan(ctx, input.Plan, card)
	switch {
	case err == nil:
		b.inputs.Reset(chatID)
		b.show(chatID, m)
	case errors.Is(err, session.ErrRequestInFlight):
		b.sendText(chatID, msgStillAnswering)
	default:
		b.sendText(chatID, service.PaymentMessage(err)+"\n\n"+cardFormatHelp)
	}
}

func (b *Bot) handleJournal(ctx context.Context, msg *tgbotapi.Message, input Input) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if len(text) > maxJournalLen {
		b.sendText(chatID, fmt.Sprintf("Please keep your entry under %d characters.", maxJournalLen))
		return
	}
	m := b.machine(ctx, chatID)
	saved := m.UpdateJournal(ctx, input.ReadingID, text)
	b.inputs.Update(chatID, func(in *Input) { in.Mode, in.ReadingID = ModeIdle, "" })
	if saved {
		b.sendText(chatID, "📝 Journal saved.")
	} else {
		b.sendText(chatID, "That reading is no longer available.")
	}
	b.show(chatID, m)
}

func (b *Bot) exportHistory(ctx context.Context, chatID int64, m *session.Machine) {
	if b.exporter == nil {
		b.sendText(chatID, "Export is not available right now.")
		return
	}
	records := m.VisibleHistory()
	if len(records) == 0 {
		b.sendText(chatID, "There is nothing to export yet.")
		return
	}
	url, err := b.exporter.ExportHistory(ctx, m.Namespace(), m.Snapshot().Plan, records)
	if err != nil {
		b.log.Error("export history", "chat_id", chatID, "err", err)
		b.sendText(chatID, "We couldn't export your history. Please try again later.")
		return
	}
	b.sendText(chatID, "Your reading history is ready. The link expires soon: "+url)
}

// show sends pending toasts and then the current screen.
func (b *Bot) show(chatID int64, m *session.Machine) {
	for _, toast := range m.TakeToasts() {
		b.sendText(chatID, toast)
	}

	state := m.Snapshot()
	var (
		text     string
		keyboard tgbotapi.InlineKeyboardMarkup
	)
	switch state.Screen {
	case session.ScreenReading:
		if state.CurrentReading == nil {
			m.Reset()
			b.show(chatID, m)
			return
		}
		text, keyboard = renderReading(*state.CurrentReading, state.ViewingFromHistory)
	case session.ScreenHistory:
		text, keyboard = renderHistory(state.Plan, m.VisibleHistory(), b.inputs.Get(chatID).Page)
	case session.ScreenSubscription:
		text, keyboard = renderSubscription(b.catalog.Catalog(), state.Plan)
	case session.ScreenSettings:
		text, keyboard = renderSettings(settingsView{
			Plan:            state.Plan,
			Theme:           state.Theme,
			ConfirmingClear: state.ConfirmingClear,
			ExportEnabled:   b.exporter != nil,
		})
	case session.ScreenWeeklyReport:
		if state.WeeklyReport == nil {
			m.ViewHistory()
			b.show(chatID, m)
			return
		}
		text, keyboard = renderWeeklyReport(*state.WeeklyReport)
	default:
		text, keyboard = renderOnboarding(state.Error)
		b.inputs.Update(chatID, func(in *Input) {
			if in.Mode == ModeIdle {
				in.Mode = ModeAwaitingName
			}
		})
	}

	msg := tgbotapi.NewMessage(chatID, truncateText(text))
	msg.ReplyMarkup = keyboard
	b.sendMessage(msg)
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.send.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if _, err := b.send.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, truncateText(text)))
}
