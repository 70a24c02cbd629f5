package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ticketd/internal/domain"
	logx "ticketd/pkg/logx"
)

// memStore keeps everything in maps. With a snapshot path it also rewrites
// a JSON snapshot after every mutation and reloads it on open.
type memStore struct {
	mu sync.Mutex

	identities map[int64]domain.Identity
	nextID     int64
	triggers   map[string]domain.Trigger
	dedup      map[string]int64 // unix milli

	snapshotPath string
	log          logx.Logger
}

type snapshot struct {
	NextID     int64             `json:"next_id"`
	Identities []domain.Identity `json:"identities"`
	Triggers   []domain.Trigger  `json:"triggers"`
	Dedup      map[string]int64  `json:"dedup,omitempty"`
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		identities: map[int64]domain.Identity{},
		triggers:   map[string]domain.Trigger{},
		dedup:      map[string]int64{},
		log:        logx.Nop(),
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := NewMemory().(*memStore)
	s.snapshotPath = path
	s.log = log

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	s.nextID = snap.NextID
	for _, id := range snap.Identities {
		s.identities[id.ID] = id
		if id.ID > s.nextID {
			s.nextID = id.ID
		}
	}
	for _, t := range snap.Triggers {
		s.triggers[t.ID] = t
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	pruneExpiredDedup(s.dedup)
	log.Info("file store loaded", logx.String("path", path), logx.Int("identities", len(s.identities)), logx.Int("triggers", len(s.triggers)))
	return s, nil
}

// persistLocked writes the snapshot atomically. Caller holds mu.
func (s *memStore) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	snap := snapshot{NextID: s.nextID, Dedup: s.dedup}
	for _, id := range s.identities {
		snap.Identities = append(snap.Identities, id)
	}
	sort.Slice(snap.Identities, func(i, j int) bool { return snap.Identities[i].ID < snap.Identities[j].ID })
	for _, t := range s.triggers {
		snap.Triggers = append(snap.Triggers, t)
	}
	sortTriggers(snap.Triggers)

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *memStore) Close() error { return nil }

func (s *memStore) CreateIdentity(_ context.Context, id domain.Identity) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id.ID = s.nextID
	s.identities[id.ID] = id
	return id, s.persistLocked()
}

func (s *memStore) GetIdentity(_ context.Context, id int64) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return domain.Identity{}, fmt.Errorf("identity %d: %w", id, domain.ErrNotFound)
	}
	return ident, nil
}

func (s *memStore) ListIdentities(_ context.Context) ([]domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Identity, 0, len(s.identities))
	for _, id := range s.identities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateTrigger(_ context.Context, t domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; ok {
		return fmt.Errorf("trigger %s already exists", t.ID)
	}
	s.triggers[t.ID] = cloneTrigger(t)
	return s.persistLocked()
}

func (s *memStore) GetTrigger(_ context.Context, id string) (domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("trigger %s: %w", id, domain.ErrNotFound)
	}
	return cloneTrigger(t), nil
}

func (s *memStore) ListTriggers(_ context.Context, f TriggerFilter) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		if f.match(t) {
			out = append(out, cloneTrigger(t))
		}
	}
	sortTriggers(out)
	return out, nil
}

func (s *memStore) UpdateTrigger(_ context.Context, t domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return fmt.Errorf("trigger %s: %w", t.ID, domain.ErrNotFound)
	}
	s.triggers[t.ID] = cloneTrigger(t)
	return s.persistLocked()
}

func (s *memStore) DeleteTrigger(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return fmt.Errorf("trigger %s: %w", id, domain.ErrNotFound)
	}
	delete(s.triggers, id)
	return s.persistLocked()
}

func (s *memStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return fmt.Errorf("trigger %s: %w", id, domain.ErrNotFound)
	}
	t.IsActive = false
	t.UpdatedAt = time.Now()
	s.triggers[id] = t
	return s.persistLocked()
}

func (s *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until.UnixMilli()
	pruneExpiredDedup(s.dedup)
	return s.persistLocked()
}

func (s *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}

func cloneTrigger(t domain.Trigger) domain.Trigger {
	t.RecurringDays = append(domain.Weekdays(nil), t.RecurringDays...)
	return t
}

func sortTriggers(ts []domain.Trigger) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].FireDate != ts[j].FireDate {
			return ts[i].FireDate < ts[j].FireDate
		}
		if ts[i].FireTime != ts[j].FireTime {
			return ts[i].FireTime < ts[j].FireTime
		}
		return ts[i].ID < ts[j].ID
	})
}
