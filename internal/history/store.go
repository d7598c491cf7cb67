// Package history keeps the newest-first list of readings for one chat.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/MoonPathBot/internal/models"
	"github.com/digkill/MoonPathBot/internal/repository"
)

const Key = "history"

var ErrDuplicateID = errors.New("reading id already exists")

// PersistError means the in-memory list changed but the write to storage failed.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist history (%s): %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

type Store struct {
	mu        sync.RWMutex
	kv        repository.KV
	namespace string
	records   []models.HistoricReading
	log       *slog.Logger
}

func NewStore(kv repository.KV, namespace string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, namespace: namespace, log: log}
}

// Load replaces the in-memory list with the persisted one. Missing or unreadable
// data leaves an empty list, and records that fail to decode are skipped.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil

	raw, err := s.kv.Get(ctx, s.namespace, Key)
	if err != nil {
		s.log.Warn("load history", "namespace", s.namespace, "err", err)
		return
	}
	if raw == nil {
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s.log.Warn("decode history", "namespace", s.namespace, "err", err)
		return
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		var rec models.HistoricReading
		if err := json.Unmarshal(item, &rec); err != nil {
			s.log.Warn("skip history record", "namespace", s.namespace, "index", i, "err", err)
			continue
		}
		if rec.Reading.Content == nil {
			s.log.Warn("skip history record without reading", "namespace", s.namespace, "index", i, "id", rec.ID)
			continue
		}
		if _, dup := seen[rec.ID]; dup || rec.ID == "" {
			s.log.Warn("skip history record", "namespace", s.namespace, "index", i, "id", rec.ID)
			continue
		}
		seen[rec.ID] = struct{}{}
		s.records = append(s.records, rec)
	}
}

// Append puts rec at the front of the list.
func (s *Store) Append(ctx context.Context, rec models.HistoricReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(rec.ID) >= 0 {
		return fmt.Errorf("append %s: %w", rec.ID, ErrDuplicateID)
	}
	s.records = append([]models.HistoricReading{rec}, s.records...)
	return s.persist(ctx, "append")
}

// UpdateByID applies mutate to a copy of the matching record. Only the journal
// entry is taken from the result. found is false when no record has id.
func (s *Store) UpdateByID(ctx context.Context, id string, mutate func(*models.HistoricReading)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	updated := s.records[i]
	mutate(&updated)
	s.records[i].JournalEntry = updated.JournalEntry
	return true, s.persist(ctx, "update")
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	if err := s.kv.Delete(ctx, s.namespace, Key); err != nil {
		return &PersistError{Op: "clear", Err: err}
	}
	return nil
}

// All returns a copy of the list, newest first.
func (s *Store) All() []models.HistoricReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.HistoricReading, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Get(id string) (models.HistoricReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.records[i], true
	}
	return models.HistoricReading{}, false
}

// Since returns the records dated strictly after t, keeping list order.
func (s *Store) Since(t time.Time) []models.HistoricReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HistoricReading
	for _, rec := range s.records {
		if rec.Date.After(t) {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) indexOf(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persist(ctx context.Context, op string) error {
	records := s.records
	if records == nil {
		records = []models.HistoricReading{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return &PersistError{Op: op, Err: err}
	}
	if err := s.kv.Set(ctx, s.namespace, Key, data); err != nil {
		return &PersistError{Op: op, Err: err}
	}
	return nil
}
