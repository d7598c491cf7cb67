// Package session holds the per-chat navigation state and the transitions between screens.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/MoonPathBot/internal/history"
	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/payment"
	"github.com/digkill/MoonPathBot/internal/repository"
	"github.com/digkill/MoonPathBot/internal/service"
)

type Screen string

const (
	ScreenOnboarding   Screen = "onboarding"
	ScreenReading      Screen = "reading"
	ScreenSubscription Screen = "subscription"
	ScreenHistory      Screen = "history"
	ScreenWeeklyReport Screen = "weekly_report"
	ScreenSettings     Screen = "settings"
)

func (s Screen) modal() bool {
	return s == ScreenSubscription || s == ScreenSettings
}

const weeklyWindow = 7 * 24 * time.Hour

const (
	toastFreePath      = "You've returned to the free path."
	toastUpgradeFormat = "Welcome to %s! Your path has deepened."
	toastHistoryClear  = "Your reading history has been cleared."
	toastNotSaved      = "We couldn't save your changes on this device. They will last until you leave."
)

var (
	ErrRequestInFlight   = errors.New("another request is still in progress")
	ErrInvalidTransition = errors.New("action not available on this screen")
	ErrReadingNotFound   = errors.New("reading not found")
)

// State is a snapshot of one chat's session.
type State struct {
	Screen             Screen
	PreviousScreen     Screen
	CurrentReading     *models.HistoricReading
	ViewingFromHistory bool
	Loading            bool
	Error              string
	Toasts             []string
	Theme              models.Theme
	Plan               models.Plan
	WeeklyReport       *models.WeeklyReport
	ConfirmingClear    bool
}

type Readings interface {
	Generate(ctx context.Context, inputs models.UserInputs, plan models.Plan) (models.HistoricReading, error)
	WeeklyReport(ctx context.Context, plan models.Plan, recent []models.HistoricReading) (models.WeeklyReport, error)
}

type Plans interface {
	Current(ctx context.Context, namespace string) models.Plan
	Select(ctx context.Context, namespace string, plan models.Plan) error
}

type Themes interface {
	Current(ctx context.Context, namespace string) models.Theme
	Toggle(ctx context.Context, namespace string) (models.Theme, error)
}

type Payments interface {
	Submit(ctx context.Context, namespace string, req service.PaymentRequest) (*service.Confirmation, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	KV       repository.KV
	Readings Readings
	Plans    Plans
	Themes   Themes
	Payments Payments
	Metrics  *metrics.Collector
	Log      *slog.Logger
	Now      func() time.Time
}

// Machine is the navigation state of one chat. Calls to the content service
// and the payment gateway run without holding the lock; at most one runs at a time.
type Machine struct {
	mu        sync.Mutex
	namespace string
	deps      Deps
	history   *history.Store
	state     State
}

// NewMachine loads the chat's history, plan and theme and starts on onboarding.
func NewMachine(ctx context.Context, namespace string, deps Deps) *Machine {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log.With("namespace", namespace)
	deps.Log = log

	store := history.NewStore(deps.KV, namespace, log)
	store.Load(ctx)

	return &Machine{
		namespace: namespace,
		deps:      deps,
		history:   store,
		state: State{
			Screen:         ScreenOnboarding,
			PreviousScreen: ScreenOnboarding,
			Plan:           deps.Plans.Current(ctx, namespace),
			Theme:          deps.Themes.Current(ctx, namespace),
		},
	}
}

func (m *Machine) Namespace() string {
	return m.namespace
}

// SubmitReadingRequest asks for a new reading. Failures of the content service
// end up in State.Error and leave the chat on onboarding.
func (m *Machine) SubmitReadingRequest(ctx context.Context, inputs models.UserInputs) error {
	m.mu.Lock()
	if m.state.Loading {
		m.mu.Unlock()
		return ErrRequestInFlight
	}
	if m.state.Screen != ScreenOnboarding {
		m.mu.Unlock()
		return fmt.Errorf("submit reading from %s: %w", m.state.Screen, ErrInvalidTransition)
	}
	m.state.Loading = true
	m.state.Error = ""
	plan := m.state.Plan
	m.mu.Unlock()

	rec, err := m.generate(ctx, inputs, plan)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.state.Loading = false }()

	if err != nil {
		m.state.Error = service.UserMessage(err)
		m.state.Screen = ScreenOnboarding
		return nil
	}

	if err := m.history.Append(ctx, rec); err != nil {
		var perr *history.PersistError
		if errors.As(err, &perr) {
			m.persistFailed("append", err)
		} else {
			m.deps.Log.Error("append reading", "id", rec.ID, "err", err)
		}
	}
	m.state.CurrentReading = &rec
	m.state.ViewingFromHistory = false
	m.state.Screen = ScreenReading
	return nil
}

// generate converts a panic in the content path into an error so Loading is always cleared.
func (m *Machine) generate(ctx context.Context, inputs models.UserInputs, plan models.Plan) (rec models.HistoricReading, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.deps.Log.Error("reading generation panicked", "panic", r)
			err = fmt.Errorf("generate reading: %v", r)
		}
	}()
	return m.deps.Readings.Generate(ctx, inputs, plan)
}

func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Screen = ScreenOnboarding
	m.state.CurrentReading = nil
	m.state.Error = ""
	m.state.ViewingFromHistory = false
}

func (m *Machine) OpenSubscription() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openModal(ScreenSubscription)
}

func (m *Machine) OpenSettings() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openModal(ScreenSettings)
	m.state.ConfirmingClear = false
}

// openModal remembers where to return to. A modal opened over another modal
// keeps the screen underneath both.
func (m *Machine) openModal(target Screen) {
	if m.state.Screen == target {
		return
	}
	switch {
	case m.state.Loading:
		m.state.PreviousScreen = ScreenOnboarding
	case !m.state.Screen.modal():
		m.state.PreviousScreen = m.state.Screen
	}
	m.state.Screen = target
}

// SelectPlan switches plan without payment and leaves the subscription screen.
func (m *Machine) SelectPlan(ctx context.Context, plan models.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("select plan %q: unknown plan", plan)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectPlan(ctx, plan)
	return nil
}

func (m *Machine) selectPlan(ctx context.Context, plan models.Plan) {
	previous := m.state.Plan
	if err := m.deps.Plans.Select(ctx, m.namespace, plan); err != nil {
		m.persistFailed("plan", err)
	}
	m.state.Plan = plan
	m.state.Screen = m.state.PreviousScreen
	if plan == previous {
		return
	}
	if plan == models.PlanFree {
		m.toast(toastFreePath)
		return
	}
	m.toast(fmt.Sprintf(toastUpgradeFormat, plan))
}

// PurchasePlan charges card for plan and selects it on success. Payment
// failures are returned unchanged and leave the chat on the subscription screen.
func (m *Machine) PurchasePlan(ctx context.Context, plan models.Plan, card payment.Card) error {
	m.mu.Lock()
	if m.state.Loading {
		m.mu.Unlock()
		return ErrRequestInFlight
	}
	if m.state.Screen != ScreenSubscription {
		m.mu.Unlock()
		return fmt.Errorf("purchase from %s: %w", m.state.Screen, ErrInvalidTransition)
	}
	m.state.Loading = true
	m.mu.Unlock()

	_, err := m.deps.Payments.Submit(ctx, m.namespace, service.PaymentRequest{Card: card, Plan: plan})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Loading = false
	if err != nil {
		return err
	}
	m.selectPlan(ctx, plan)
	return nil
}

func (m *Machine) CloseSubscription() error {
	return m.closeModal(ScreenSubscription)
}

func (m *Machine) CloseSettings() error {
	return m.closeModal(ScreenSettings)
}

func (m *Machine) closeModal(screen Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Screen != screen {
		return fmt.Errorf("close %s from %s: %w", screen, m.state.Screen, ErrInvalidTransition)
	}
	m.state.Screen = m.state.PreviousScreen
	m.state.ConfirmingClear = false
	return nil
}

func (m *Machine) ViewHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Screen = ScreenHistory
}

// VisibleHistory is the part of the history the current plan may browse, newest first.
func (m *Machine) VisibleHistory() []models.HistoricReading {
	m.mu.Lock()
	plan := m.state.Plan
	m.mu.Unlock()
	return service.VisibleHistory(plan, m.history.All())
}

func (m *Machine) SelectHistoricReading(id string) error {
	for _, rec := range m.VisibleHistory() {
		if rec.ID != id {
			continue
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.state.CurrentReading = &rec
		m.state.ViewingFromHistory = true
		m.state.Screen = ScreenReading
		return nil
	}
	return fmt.Errorf("select %s: %w", id, ErrReadingNotFound)
}

func (m *Machine) BackToHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ViewingFromHistory = true
	m.state.Screen = ScreenHistory
}

// UpdateJournal stores text as the journal entry of reading id and reports
// whether the reading exists. An unknown id changes nothing.
func (m *Machine) UpdateJournal(ctx context.Context, id, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	found, err := m.history.UpdateByID(ctx, id, func(rec *models.HistoricReading) {
		rec.JournalEntry = text
	})
	if !found {
		return false
	}
	if err != nil {
		m.persistFailed("journal", err)
	}
	if m.state.CurrentReading != nil && m.state.CurrentReading.ID == id {
		m.state.CurrentReading.JournalEntry = text
	}
	return true
}

// GenerateWeeklyReport asks for a report over the readings of the last seven
// days. Unmet preconditions and failures are reported as toasts on the history screen.
func (m *Machine) GenerateWeeklyReport(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Loading {
		m.mu.Unlock()
		return ErrRequestInFlight
	}
	plan := m.state.Plan
	recent := m.history.Since(m.deps.Now().Add(-weeklyWindow))
	if !service.CanGenerateWeeklyReport(plan, len(recent)) {
		if service.IsPremiumFeatureEnabled(plan) {
			m.toast(service.UserMessage(service.ErrNotEnoughReadings))
		} else {
			m.toast(service.UserMessage(service.ErrPremiumFeature))
		}
		m.state.Screen = ScreenHistory
		m.mu.Unlock()
		return nil
	}
	m.state.Loading = true
	m.mu.Unlock()

	report, err := m.deps.Readings.WeeklyReport(ctx, plan, recent)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Loading = false
	if err != nil {
		m.toast(service.UserMessage(err))
		m.state.Screen = ScreenHistory
		return nil
	}
	m.state.WeeklyReport = &report
	m.state.Screen = ScreenWeeklyReport
	return nil
}

func (m *Machine) InitiateClearHistory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Screen != ScreenSettings {
		return fmt.Errorf("clear history from %s: %w", m.state.Screen, ErrInvalidTransition)
	}
	m.state.ConfirmingClear = true
	return nil
}

func (m *Machine) CancelClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ConfirmingClear = false
}

func (m *Machine) ConfirmClearHistory(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.ConfirmingClear {
		return fmt.Errorf("confirm clear: %w", ErrInvalidTransition)
	}
	m.state.ConfirmingClear = false
	if err := m.history.Clear(ctx); err != nil {
		m.persistFailed("clear", err)
	}
	m.toast(toastHistoryClear)
	return nil
}

func (m *Machine) ToggleTheme(ctx context.Context) models.Theme {
	m.mu.Lock()
	defer m.mu.Unlock()
	theme, err := m.deps.Themes.Toggle(ctx, m.namespace)
	if err != nil {
		m.persistFailed("theme", err)
	}
	m.state.Theme = theme
	return theme
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.CurrentReading != nil {
		rec := *s.CurrentReading
		s.CurrentReading = &rec
	}
	if s.WeeklyReport != nil {
		report := *s.WeeklyReport
		s.WeeklyReport = &report
	}
	s.Toasts = append([]string(nil), s.Toasts...)
	return s
}

func (m *Machine) busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Loading
}

// TakeToasts returns the pending notifications and clears them.
func (m *Machine) TakeToasts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	toasts := m.state.Toasts
	m.state.Toasts = nil
	return toasts
}

func (m *Machine) toast(msg string) {
	m.state.Toasts = append(m.state.Toasts, msg)
}

func (m *Machine) persistFailed(op string, err error) {
	m.deps.Log.Warn("persist session data", "op", op, "err", err)
	m.deps.Metrics.PersistFailed(op)
	m.toast(toastNotSaved)
}
