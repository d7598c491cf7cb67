package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/payment"
	"github.com/digkill/MoonPathBot/internal/repository"
	"github.com/digkill/MoonPathBot/internal/securestore"
	"github.com/digkill/MoonPathBot/internal/service"
	"github.com/digkill/MoonPathBot/internal/session"
)

const chatID int64 = 42

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	deleted  []int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if del, ok := c.(tgbotapi.DeleteMessageConfig); ok {
		f.deleted = append(f.deleted, del.MessageID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeSender) last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[len(f.messages)-1]
}

type stubReadings struct {
	seq int
}

func (s *stubReadings) Generate(_ context.Context, inputs models.UserInputs, _ models.Plan) (models.HistoricReading, error) {
	s.seq++
	return models.HistoricReading{
		ID:         fmt.Sprintf("r%d", s.seq),
		Date:       time.Now(),
		UserInputs: inputs,
		Reading: models.Reading{Content: models.DailyReading{
			LunarMessage: []string{"The tide turns."},
			ClosingLine:  "Rest well.",
		}},
	}, nil
}

func (s *stubReadings) WeeklyReport(context.Context, models.Plan, []models.HistoricReading) (models.WeeklyReport, error) {
	return models.WeeklyReport{}, service.ErrNotEnoughReadings
}

// blockingReadings holds Generate until release is closed.
type blockingReadings struct {
	stubReadings
	started chan struct{}
	release chan struct{}
}

func (r *blockingReadings) Generate(ctx context.Context, inputs models.UserInputs, plan models.Plan) (models.HistoricReading, error) {
	close(r.started)
	<-r.release
	return r.stubReadings.Generate(ctx, inputs, plan)
}

type stubExporter struct {
	records []models.HistoricReading
}

func (s *stubExporter) ExportHistory(_ context.Context, _ string, _ models.Plan, records []models.HistoricReading) (string, error) {
	s.records = records
	return "https://cdn.example.com/exports/x.json", nil
}

func newTestBot(t *testing.T) (*Bot, *fakeSender) {
	t.Helper()
	return newTestBotWithReadings(t, &stubReadings{})
}

func newTestBotWithReadings(t *testing.T, readings session.Readings) (*Bot, *fakeSender) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := repository.NewMemoryKV()
	plans := service.NewPlanService(securestore.New(kv, securestore.NewObfuscator("secret"), log), log)
	sessions := session.NewManager(session.Deps{
		KV:       kv,
		Readings: readings,
		Plans:    plans,
		Themes:   service.NewThemeService(kv, log),
		Payments: service.NewPaymentService(log, payment.NewGateway(0), nil, nil),
		Log:      log,
	})
	fs := &fakeSender{}
	return &Bot{
		send:     fs,
		log:      log,
		sessions: sessions,
		catalog:  plans,
		inputs:   NewInputManager(),
	}, fs
}

func command(cmd string) *tgbotapi.Message {
	text := "/" + cmd
	return &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func text(id int, body string) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: id, Chat: &tgbotapi.Chat{ID: chatID}, Text: body}
}

func callback(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{ID: "cb", Data: data, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}}}
}

func (b *Bot) screen(t *testing.T) session.State {
	t.Helper()
	return b.machine(context.Background(), chatID).Snapshot()
}

func TestReadingFlow(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)

	b.handleMessage(ctx, command("start"))
	assert.Contains(t, fs.last().Text, "What should the moon call you?")
	assert.Equal(t, ModeAwaitingName, b.inputs.Get(chatID).Mode)

	b.handleMessage(ctx, text(2, "  Ana "))
	assert.Equal(t, "How are you feeling today?", fs.last().Text)

	b.handleCallback(ctx, callback(cbMoodPrefix+string(models.MoodHopeful)))
	assert.Equal(t, "Which moon phase calls to you?", fs.last().Text)

	b.handleCallback(ctx, callback(cbPhasePrefix+string(models.MoonPhaseFull)))
	assert.Contains(t, fs.texts(), "🌙 The moon is listening…")
	assert.Contains(t, fs.last().Text, "For Ana · Full Moon · Hopeful")

	state := b.screen(t)
	assert.Equal(t, session.ScreenReading, state.Screen)
	require.NotNil(t, state.CurrentReading)
	assert.Equal(t, ModeIdle, b.inputs.Get(chatID).Mode)
}

func TestSkipNameStillGeneratesReading(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)

	b.handleMessage(ctx, command("reading"))
	b.handleCallback(ctx, callback(cbSkipName))
	b.handleCallback(ctx, callback(cbMoodPrefix+string(models.MoodWeary)))
	b.handleCallback(ctx, callback(cbPhasePrefix+string(models.MoonPhaseNew)))

	assert.Contains(t, fs.last().Text, "The tide turns.")
	assert.NotContains(t, fs.last().Text, "For ")
}

func TestPhaseWithoutMoodAsksForMood(t *testing.T) {
	b, fs := newTestBot(t)
	b.handleCallback(context.Background(), callback(cbPhasePrefix+string(models.MoonPhaseFull)))
	assert.Equal(t, "How are you feeling today?", fs.last().Text)
}

func TestJournalFlow(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)
	b.handleMessage(ctx, command("start"))
	b.handleCallback(ctx, callback(cbSkipName))
	b.handleCallback(ctx, callback(cbMoodPrefix+string(models.MoodJoyful)))
	b.handleCallback(ctx, callback(cbPhasePrefix+string(models.MoonPhaseFull)))

	b.handleCallback(ctx, callback(cbJournalPrefix+"r1"))
	assert.Equal(t, ModeAwaitingJournal, b.inputs.Get(chatID).Mode)

	b.handleMessage(ctx, text(5, "felt the tide"))
	assert.Contains(t, fs.texts(), "📝 Journal saved.")
	assert.Contains(t, fs.last().Text, "felt the tide")

	visible := b.machine(ctx, chatID).VisibleHistory()
	require.Len(t, visible, 1)
	assert.Equal(t, "felt the tide", visible[0].JournalEntry)
}

func TestJournalForClearedReading(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)
	b.handleMessage(ctx, command("start"))
	b.handleCallback(ctx, callback(cbSkipName))
	b.handleCallback(ctx, callback(cbMoodPrefix+string(models.MoodJoyful)))
	b.handleCallback(ctx, callback(cbPhasePrefix+string(models.MoonPhaseFull)))
	b.handleCallback(ctx, callback(cbJournalPrefix+"r1"))

	m := b.machine(ctx, chatID)
	m.OpenSettings()
	require.NoError(t, m.InitiateClearHistory())
	require.NoError(t, m.ConfirmClearHistory(ctx))

	b.handleMessage(ctx, text(5, "too late"))
	assert.Contains(t, fs.texts(), "That reading is no longer available.")
	assert.NotContains(t, fs.texts(), "📝 Journal saved.")
	assert.Equal(t, ModeIdle, b.inputs.Get(chatID).Mode)
	assert.Empty(t, m.VisibleHistory())
}

func TestPurchaseFlow(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)

	b.handleMessage(ctx, command("plans"))
	assert.Contains(t, fs.last().Text, "Choose your path")
	assert.Equal(t, session.ScreenSubscription, b.screen(t).Screen)

	b.handleCallback(ctx, callback(cbPlanPrefix+string(models.PlanPlus)))
	assert.Equal(t, ModeAwaitingCard, b.inputs.Get(chatID).Mode)
	plus, ok := b.catalog.Describe(models.PlanPlus)
	require.True(t, ok)
	assert.Contains(t, fs.last().Text, "Subscribe to MoonPath Plus for "+plus.Price+".")

	b.handleMessage(ctx, text(7, "4111 1111 1111 1111; 12/30; 123"))
	assert.Contains(t, fs.last().Text, "Your card was declined.")
	assert.Equal(t, models.PlanFree, b.screen(t).Plan)
	assert.Equal(t, ModeAwaitingCard, b.inputs.Get(chatID).Mode)

	b.handleMessage(ctx, text(8, "4242 4242 4242 4242; 12/30; 123"))
	assert.Equal(t, []int{7, 8}, fs.deleted)
	assert.Contains(t, fs.texts(), "Welcome to MoonPath Plus! Your path has deepened.")

	state := b.screen(t)
	assert.Equal(t, models.PlanPlus, state.Plan)
	assert.Equal(t, session.ScreenOnboarding, state.Screen)
	assert.Equal(t, ModeAwaitingName, b.inputs.Get(chatID).Mode)
}

func TestCardWhileReadingInFlight(t *testing.T) {
	ctx := context.Background()
	readings := &blockingReadings{started: make(chan struct{}), release: make(chan struct{})}
	b, fs := newTestBotWithReadings(t, readings)
	m := b.machine(ctx, chatID)

	done := make(chan error, 1)
	go func() {
		done <- m.SubmitReadingRequest(ctx, models.UserInputs{Mood: models.MoodJoyful, MoonPhase: models.MoonPhaseFull})
	}()
	<-readings.started

	b.inputs.Update(chatID, func(in *Input) { in.Mode, in.Plan = ModeAwaitingCard, models.PlanPlus })
	b.handleMessage(ctx, text(9, "4242 4242 4242 4242; 12/30; 123"))
	assert.Equal(t, msgStillAnswering, fs.last().Text)
	assert.NotContains(t, fs.texts(), "Processing payment…")
	assert.Equal(t, ModeAwaitingCard, b.inputs.Get(chatID).Mode)
	assert.Equal(t, []int{9}, fs.deleted)

	close(readings.release)
	require.NoError(t, <-done)
	state := b.screen(t)
	assert.Equal(t, models.PlanFree, state.Plan)
	assert.Equal(t, session.ScreenReading, state.Screen)
}

func TestBadCardFormatKeepsWaiting(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)
	b.handleMessage(ctx, command("plans"))
	b.handleCallback(ctx, callback(cbPlanPrefix+string(models.PlanPremium)))

	b.handleMessage(ctx, text(3, "4242424242424242"))
	assert.Equal(t, cardFormatHelp, fs.last().Text)
	assert.Equal(t, []int{3}, fs.deleted)
	assert.Equal(t, ModeAwaitingCard, b.inputs.Get(chatID).Mode)
}

func TestDowngradeToFreeNeedsNoCard(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)
	m := b.machine(ctx, chatID)
	require.NoError(t, m.SelectPlan(ctx, models.PlanPremium))
	m.TakeToasts()

	b.handleCallback(ctx, callback(cbPlanPrefix+string(models.PlanFree)))
	assert.Contains(t, fs.texts(), "You've returned to the free path.")
	assert.Equal(t, models.PlanFree, b.screen(t).Plan)
}

func TestHistoryAndExport(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)
	exporter := &stubExporter{}
	b.exporter = exporter

	m := b.machine(ctx, chatID)
	require.NoError(t, m.SelectPlan(ctx, models.PlanPlus))
	b.handleMessage(ctx, command("start"))
	b.handleCallback(ctx, callback(cbSkipName))
	b.handleCallback(ctx, callback(cbMoodPrefix+string(models.MoodJoyful)))
	b.handleCallback(ctx, callback(cbPhasePrefix+string(models.MoonPhaseFull)))

	b.handleMessage(ctx, command("history"))
	assert.Contains(t, fs.last().Text, "Your readings (1)")
	assert.Contains(t, callbackData(fs.last().ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)), cbHistPrefix+"r1")

	b.handleCallback(ctx, callback(cbHistPrefix+"r1"))
	assert.True(t, b.screen(t).ViewingFromHistory)

	b.handleMessage(ctx, command("settings"))
	b.handleCallback(ctx, callback(cbExport))
	assert.Len(t, exporter.records, 1)
	assert.Contains(t, fs.last().Text, "https://cdn.example.com/exports/x.json")
}

func TestClearHistoryFlow(t *testing.T) {
	ctx := context.Background()
	b, fs := newTestBot(t)
	b.handleMessage(ctx, command("start"))
	b.handleCallback(ctx, callback(cbSkipName))
	b.handleCallback(ctx, callback(cbMoodPrefix+string(models.MoodJoyful)))
	b.handleCallback(ctx, callback(cbPhasePrefix+string(models.MoonPhaseFull)))

	b.handleMessage(ctx, command("settings"))
	b.handleCallback(ctx, callback(cbClear))
	assert.Contains(t, fs.last().Text, "cannot be undone")

	b.handleCallback(ctx, callback(cbClearYes))
	assert.Contains(t, fs.texts(), "Your reading history has been cleared.")
	assert.Empty(t, b.machine(ctx, chatID).VisibleHistory())
	assert.Contains(t, fs.last().Text, "Settings")
}

func TestWeeklyReportGateOnFreePlan(t *testing.T) {
	b, fs := newTestBot(t)
	b.handleCallback(context.Background(), callback(cbWeekly))
	assert.Contains(t, fs.texts(), "Upgrade your plan to unlock this feature.")
	assert.Equal(t, session.ScreenHistory, b.screen(t).Screen)
}

func TestThemeToggle(t *testing.T) {
	b, fs := newTestBot(t)
	b.handleMessage(context.Background(), command("settings"))
	b.handleCallback(context.Background(), callback(cbTheme))
	assert.Equal(t, models.ThemeLight, b.screen(t).Theme)
	assert.Contains(t, fs.last().Text, "Theme: light")
}

func TestUnknownCommand(t *testing.T) {
	b, fs := newTestBot(t)
	b.handleMessage(context.Background(), command("dance"))
	assert.Equal(t, "Unknown command. Try /help.", fs.last().Text)
}
