package service

import (
	"context"
	"log/slog"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/repository"
)

const themeKey = "theme"

type ThemeService struct {
	kv  repository.KV
	log *slog.Logger
}

func NewThemeService(kv repository.KV, log *slog.Logger) *ThemeService {
	if log == nil {
		log = slog.Default()
	}
	return &ThemeService{kv: kv, log: log}
}

// Current returns the stored theme, dark when unset or unreadable.
func (s *ThemeService) Current(ctx context.Context, namespace string) models.Theme {
	raw, err := s.kv.Get(ctx, namespace, themeKey)
	if err != nil {
		s.log.Warn("load theme", "namespace", namespace, "err", err)
		return models.ThemeDark
	}
	theme := models.Theme(raw)
	if !theme.Valid() {
		return models.ThemeDark
	}
	return theme
}

func (s *ThemeService) Set(ctx context.Context, namespace string, theme models.Theme) error {
	return s.kv.Set(ctx, namespace, themeKey, []byte(theme))
}

// Toggle flips the stored theme and returns the new value. The value is
// returned even when saving it fails.
func (s *ThemeService) Toggle(ctx context.Context, namespace string) (models.Theme, error) {
	next := s.Current(ctx, namespace).Toggle()
	return next, s.Set(ctx, namespace, next)
}
