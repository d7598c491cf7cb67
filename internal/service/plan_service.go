package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/securestore"
)

const planKey = "plan"

var catalog = []models.SubscriptionPlan{
	{
		Name:    models.PlanFree,
		Price:   "$0",
		Tagline: "Daily Lunar Whispers",
		Features: []string{
			"Standard Daily Reading",
			"Based on your mood",
			"Current Moon Phase guidance",
		},
	},
	{
		Name:        models.PlanPlus,
		Price:       "$2.99 / month",
		Tagline:     "Clearer Lunar Insights",
		Recommended: true,
		Features: []string{
			"Everything in Free, plus:",
			"Expanded Lunar Messages",
			"Access to 30-day reading history",
			"Weekly Lunar Evolution reports",
		},
	},
	{
		Name:    models.PlanPremium,
		Price:   "$4.99 / month",
		Tagline: "Deeper Lunar Currents",
		Features: []string{
			"Everything in Plus, plus:",
			"Deepest, most detailed readings",
			"Full unlimited reading history",
			"Special readings on Full & New Moons",
			"Priority access to new features",
		},
	},
}

// PlanService stores each chat's plan through the obfuscated store.
type PlanService struct {
	store *securestore.Store
	log   *slog.Logger
}

func NewPlanService(store *securestore.Store, log *slog.Logger) *PlanService {
	if log == nil {
		log = slog.Default()
	}
	return &PlanService{store: store, log: log}
}

// Catalog returns a copy of the plans on offer, cheapest first.
func (s *PlanService) Catalog() []models.SubscriptionPlan {
	out := make([]models.SubscriptionPlan, len(catalog))
	for i, p := range catalog {
		p.Features = append([]string(nil), p.Features...)
		out[i] = p
	}
	return out
}

func (s *PlanService) Describe(plan models.Plan) (models.SubscriptionPlan, bool) {
	for _, p := range s.Catalog() {
		if p.Name == plan {
			return p, true
		}
	}
	return models.SubscriptionPlan{}, false
}

// Current returns the stored plan, falling back to Free for missing or unknown values.
func (s *PlanService) Current(ctx context.Context, namespace string) models.Plan {
	plan := securestore.GetOr(ctx, s.store, namespace, planKey, models.PlanFree)
	if !plan.Valid() {
		s.log.Warn("unknown stored plan", "namespace", namespace, "plan", plan)
		return models.PlanFree
	}
	return plan
}

func (s *PlanService) Select(ctx context.Context, namespace string, plan models.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("unknown plan %q", plan)
	}
	return s.store.Put(ctx, namespace, planKey, plan)
}
