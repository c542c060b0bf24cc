// Package memory is an in-process weather store. It backs simulations and
// tests, and keeps the same uniqueness guarantees as the database stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinglebot/weather-service/internal/domain"
)

type slot struct {
	village domain.Village
	date    int64
}

func slotOf(v domain.Village, t time.Time) slot {
	return slot{village: v, date: t.UnixMilli()}
}

// Store keeps records in maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	slots   map[slot]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]domain.Record),
		slots:   make(map[slot]string),
	}
}

func matches(rec domain.Record, onlyPosted bool) bool {
	return !onlyPosted || rec.Posted.IsPosted()
}

func (s *Store) FindLatestInRange(_ context.Context, village domain.Village, from, to time.Time, onlyPosted bool) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best domain.Record
	found := false
	for _, rec := range s.records {
		if rec.Village != village || rec.Date.Before(from) || !rec.Date.Before(to) || !matches(rec, onlyPosted) {
			continue
		}
		if !found || rec.Date.After(best.Date) {
			best, found = rec, true
		}
	}
	if !found {
		return domain.Record{}, domain.ErrNotFound
	}
	return clone(best), nil
}

func (s *Store) FindByDate(_ context.Context, village domain.Village, date time.Time, onlyPosted bool) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slots[slotOf(village, date)]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	rec := s.records[id]
	if !matches(rec, onlyPosted) {
		return domain.Record{}, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) InsertIfAbsent(_ context.Context, rec domain.Record) (domain.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotOf(rec.Village, rec.Date)
	if id, ok := s.slots[key]; ok {
		return clone(s.records[id]), false, nil
	}
	rec.ID = uuid.NewString()
	rec.Date = rec.Date.UTC()
	s.records[rec.ID] = clone(rec)
	s.slots[key] = rec.ID
	return rec, true, nil
}

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *Store) Recent(_ context.Context, village domain.Village, before time.Time, n int) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Record
	for _, rec := range s.records {
		if rec.Village == village && rec.Date.Before(before) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) SetPosted(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(rec *domain.Record) error {
		if rec.Posted != domain.Posted {
			rec.Posted = domain.Posted
			rec.PostedAt = &at
		}
		return nil
	})
}

func (s *Store) SetPmPosted(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(rec *domain.Record) error {
		if rec.PmPosted != domain.Posted {
			rec.PmPosted = domain.Posted
			rec.PmPostedAt = &at
		}
		return nil
	})
}

func (s *Store) SetSpecial(_ context.Context, id string, special domain.Condition) error {
	return s.update(id, func(rec *domain.Record) error {
		if rec.HasGuaranteedSpecial() {
			return domain.ErrAlreadyScheduled
		}
		rec.Special = &special
		return nil
	})
}

func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) update(id string, fn func(*domain.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&rec); err != nil {
		return err
	}
	s.records[id] = rec
	return nil
}

// clone copies the pointer fields so callers cannot mutate stored state.
func clone(rec domain.Record) domain.Record {
	if rec.Special != nil {
		sp := *rec.Special
		rec.Special = &sp
	}
	if rec.PostedAt != nil {
		t := *rec.PostedAt
		rec.PostedAt = &t
	}
	if rec.PmPostedAt != nil {
		t := *rec.PmPostedAt
		rec.PmPostedAt = &t
	}
	return rec
}
