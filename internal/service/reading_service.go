package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/digkill/MoonPathBot/internal/config"
	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/oracle"
)

var (
	ErrInvalidInput      = errors.New("invalid reading request")
	ErrNotEnoughReadings = errors.New("not enough recent readings for a weekly report")
	ErrPremiumFeature    = errors.New("feature requires a paid plan")
)

const (
	msgInvalidInput      = "Please choose your mood and the moon phase."
	msgNotEnoughReadings = "You need at least 3 readings this week for a report."
	msgPremiumFeature    = "Upgrade your plan to unlock this feature."
)

// Generator is the content-generation service.
type Generator interface {
	GenerateReading(ctx context.Context, req oracle.ReadingRequest) (models.Reading, error)
	GenerateWeeklyReport(ctx context.Context, userName string, history []models.HistoricReading) (models.WeeklyReport, error)
}

type readingInput struct {
	Name      string           `validate:"max=64"`
	Mood      models.Mood      `validate:"required,mood"`
	MoonPhase models.MoonPhase `validate:"required,moonphase"`
}

type ReadingService struct {
	log       *slog.Logger
	generator Generator
	limiter   *rate.Limiter
	validate  *validator.Validate
	metrics   *metrics.Collector
	now       func() time.Time
	newID     func() (string, error)
}

func NewReadingService(cfg config.Config, log *slog.Logger, generator Generator, m *metrics.Collector) *ReadingService {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if cfg.OracleRatePerSecond > 0 {
		limit = rate.Limit(cfg.OracleRatePerSecond)
	}
	burst := cfg.OracleBurst
	if burst <= 0 {
		burst = 1
	}
	return &ReadingService{
		log:       log,
		generator: generator,
		limiter:   rate.NewLimiter(limit, burst),
		validate:  newValidator(),
		metrics:   m,
		now:       time.Now,
		newID:     newReadingID,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mood", func(fl validator.FieldLevel) bool {
		return models.Mood(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("moonphase", func(fl validator.FieldLevel) bool {
		return models.MoonPhase(fl.Field().String()).Valid()
	})
	return v
}

// newReadingID returns a time-ordered UUIDv7.
func newReadingID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Generate asks for a reading for inputs under plan and wraps it in a new
// history record with a fresh id and date. It does not store the record.
func (s *ReadingService) Generate(ctx context.Context, inputs models.UserInputs, plan models.Plan) (models.HistoricReading, error) {
	inputs.Name = strings.TrimSpace(inputs.Name)
	if err := s.validate.Struct(readingInput{Name: inputs.Name, Mood: inputs.Mood, MoonPhase: inputs.MoonPhase}); err != nil {
		return models.HistoricReading{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !plan.Valid() {
		plan = models.PlanFree
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.HistoricReading{}, fmt.Errorf("wait for oracle slot: %w", err)
	}

	readingType := ReadingTypeFor(plan, inputs.MoonPhase)
	reading, err := s.generator.GenerateReading(ctx, oracle.ReadingRequest{
		UserName:    inputs.Name,
		UserMood:    inputs.Mood,
		MoonPhase:   inputs.MoonPhase,
		CurrentPlan: plan,
		ReadingType: readingType,
	})
	if err != nil {
		s.log.Error("generate reading", "plan", plan, "reading_type", readingType, "err", err)
		return models.HistoricReading{}, err
	}

	id, err := s.newID()
	if err != nil {
		return models.HistoricReading{}, fmt.Errorf("new reading id: %w", err)
	}
	s.metrics.ReadingGenerated(string(reading.Type()))
	s.log.Info("reading generated", "id", id, "reading_type", reading.Type(), "plan", plan)

	return models.HistoricReading{
		ID:         id,
		Date:       s.now().UTC(),
		UserInputs: inputs,
		Reading:    reading,
	}, nil
}

// WeeklyReport asks for a report over recent. The caller selects the readings;
// the name of the newest one addresses the report.
func (s *ReadingService) WeeklyReport(ctx context.Context, plan models.Plan, recent []models.HistoricReading) (models.WeeklyReport, error) {
	if !IsPremiumFeatureEnabled(plan) {
		return models.WeeklyReport{}, ErrPremiumFeature
	}
	if len(recent) < MinWeeklyReadings {
		return models.WeeklyReport{}, ErrNotEnoughReadings
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return models.WeeklyReport{}, fmt.Errorf("wait for oracle slot: %w", err)
	}

	report, err := s.generator.GenerateWeeklyReport(ctx, recent[0].UserInputs.Name, recent)
	if err != nil {
		s.log.Error("generate weekly report", "readings", len(recent), "err", err)
		return models.WeeklyReport{}, err
	}
	return report, nil
}

// UserMessage turns a reading or report failure into text for the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return msgInvalidInput
	case errors.Is(err, ErrNotEnoughReadings):
		return msgNotEnoughReadings
	case errors.Is(err, ErrPremiumFeature):
		return msgPremiumFeature
	default:
		return oracle.UserMessage(err)
	}
}
