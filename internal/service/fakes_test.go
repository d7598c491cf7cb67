package service

import (
	"context"
	"sync"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/oracle"
)

func dailyReading() models.Reading {
	return models.Reading{Content: models.DailyReading{
		LunarMessage:      []string{"msg"},
		LunarWarning:      "warn",
		OpportunityWindow: "noon",
		LunarSymbol:       models.Symbol{Name: "Bridge", Meaning: "cross"},
		ClosingLine:       "end",
	}}
}

func specialReading() models.Reading {
	return models.Reading{Content: models.SpecialReading{
		SpecialTheme:     "Beginnings",
		DeepDiveMessage:  []string{"a"},
		RitualSuggestion: models.Section{Title: "Seed", Description: "Plant"},
		OracleInsight:    models.Section{Title: "Ask", Description: "Why"},
		ClosingLine:      "end",
	}}
}

type fakeGenerator struct {
	mu         sync.Mutex
	requests   []oracle.ReadingRequest
	weekly     [][]models.HistoricReading
	weeklyName string
	err        error
}

func (f *fakeGenerator) GenerateReading(_ context.Context, req oracle.ReadingRequest) (models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return models.Reading{}, f.err
	}
	if req.ReadingType == models.ReadingTypeSpecial {
		return specialReading(), nil
	}
	return dailyReading(), nil
}

func (f *fakeGenerator) GenerateWeeklyReport(_ context.Context, name string, history []models.HistoricReading) (models.WeeklyReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekly = append(f.weekly, history)
	f.weeklyName = name
	if f.err != nil {
		return models.WeeklyReport{}, f.err
	}
	return models.WeeklyReport{DateRange: "this week"}, nil
}

type fakeLedger struct {
	payments []models.Payment
	err      error
}

func (l *fakeLedger) Create(_ context.Context, p *models.Payment) error {
	if l.err != nil {
		return l.err
	}
	p.ID = int64(len(l.payments) + 1)
	l.payments = append(l.payments, *p)
	return nil
}
