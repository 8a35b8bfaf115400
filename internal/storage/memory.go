package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ecobot-id/ecobot/internal/models"
)

// MemoryStorage is a map-backed gateway used for local development and
// tests. Safe for concurrent use.
type MemoryStorage struct {
	mu              sync.RWMutex
	users           map[string]*models.User
	turns           map[string][]*models.ConversationTurn
	facts           map[string]map[string]*models.DurableFact
	audit           map[string][]*models.AuditEntry
	classifications []*models.Classification
	points          []*models.CollectionPoint
	schedules       []*models.Schedule
	seenEvents      map[string]time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:      make(map[string]*models.User),
		turns:      make(map[string][]*models.ConversationTurn),
		facts:      make(map[string]map[string]*models.DurableFact),
		audit:      make(map[string][]*models.AuditEntry),
		seenEvents: make(map[string]time.Time),
	}
}

func (s *MemoryStorage) GetOrCreateUser(ctx context.Context, phone string, role models.Role, phase models.Phase) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.users[phone]; exists {
		user.LastActive = time.Now()
		u := *user
		return &u, false, nil
	}

	now := time.Now()
	user := &models.User{
		Phone:      phone,
		Role:       role,
		Phase:      phase,
		Active:     true,
		FirstSeen:  now,
		LastActive: now,
	}
	s.users[phone] = user
	u := *user
	return &u, true, nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[phone]
	if !exists {
		return nil, nil
	}
	u := *user
	return &u, nil
}

func (s *MemoryStorage) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.users[user.Phone]
	if !exists {
		return fmt.Errorf("user not found: %s", user.Phone)
	}
	updated := *user
	updated.MessageCount = existing.MessageCount
	updated.ImageCount = existing.ImageCount
	updated.FirstSeen = existing.FirstSeen
	updated.LastActive = time.Now()
	s.users[user.Phone] = &updated
	return nil
}

func (s *MemoryStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, user := range s.users {
		u := *user
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].FirstSeen.Before(users[j].FirstSeen)
	})
	return users, nil
}

func (s *MemoryStorage) IncrementMessageCount(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.users[phone]; exists {
		user.MessageCount++
		user.LastActive = time.Now()
	}
	return nil
}

func (s *MemoryStorage) IncrementImageCount(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.users[phone]; exists {
		user.ImageCount++
		user.LastActive = time.Now()
	}
	return nil
}

func (s *MemoryStorage) AddPoints(ctx context.Context, phone string, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.users[phone]; exists {
		user.Points += points
	}
	return nil
}

func (s *MemoryStorage) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *turn
	s.turns[turn.Phone] = append(s.turns[turn.Phone], &t)
	if len(s.turns[turn.Phone]) > retainedTurns {
		s.turns[turn.Phone] = s.turns[turn.Phone][len(s.turns[turn.Phone])-retainedTurns:]
	}
	return nil
}

func (s *MemoryStorage) RecentTurns(ctx context.Context, phone string, limit int) ([]*models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[phone]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	turns := make([]*models.ConversationTurn, 0, len(all))
	for _, turn := range all {
		t := *turn
		turns = append(turns, &t)
	}
	return turns, nil
}

func (s *MemoryStorage) UpsertFact(ctx context.Context, phone, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.facts[phone] == nil {
		s.facts[phone] = make(map[string]*models.DurableFact)
	}
	s.facts[phone][key] = &models.DurableFact{
		Phone:     phone,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *MemoryStorage) FactsFor(ctx context.Context, phone string) ([]*models.DurableFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts := make([]*models.DurableFact, 0, len(s.facts[phone]))
	for _, fact := range s.facts[phone] {
		f := *fact
		facts = append(facts, &f)
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].Key < facts[j].Key })
	return facts, nil
}

func (s *MemoryStorage) LogInteraction(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	s.audit[entry.Phone] = append(s.audit[entry.Phone], &e)
	return nil
}

func (s *MemoryStorage) AuditFor(ctx context.Context, phone string, limit int) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.audit[phone]
	entries := make([]*models.AuditEntry, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(entries) < limit; i-- {
		e := *all[i]
		entries = append(entries, &e)
	}
	return entries, nil
}

func (s *MemoryStorage) SaveClassification(ctx context.Context, c *models.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc := *c
	s.classifications = append(s.classifications, &cc)
	return nil
}

// Classifications returns all stored classification records. Test helper,
// not part of the Storage interface.
func (s *MemoryStorage) Classifications() []*models.Classification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Classification, 0, len(s.classifications))
	for _, c := range s.classifications {
		cc := *c
		out = append(out, &cc)
	}
	return out
}

// SeedCollectionPoint and SeedSchedule populate the read-only reference
// tables that the admin collaborator owns in production.
func (s *MemoryStorage) SeedCollectionPoint(p *models.CollectionPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pp := *p
	s.points = append(s.points, &pp)
}

func (s *MemoryStorage) SeedSchedule(sch *models.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scc := *sch
	s.schedules = append(s.schedules, &scc)
}

func (s *MemoryStorage) CollectionPoints(ctx context.Context) ([]*models.CollectionPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := make([]*models.CollectionPoint, 0, len(s.points))
	for _, p := range s.points {
		if p.Active {
			pp := *p
			points = append(points, &pp)
		}
	}
	return points, nil
}

func (s *MemoryStorage) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]*models.Schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		if sch.Active {
			scc := *sch
			schedules = append(schedules, &scc)
		}
	}
	return schedules, nil
}

func (s *MemoryStorage) Statistics(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{CategoryCounts: make(map[models.WasteCategory]int)}
	for _, user := range s.users {
		stats.TotalUsers++
		if user.Active {
			stats.ActiveUsers++
		}
		stats.TotalMessages += user.MessageCount
		stats.TotalImages += user.ImageCount
	}
	for _, c := range s.classifications {
		stats.CategoryCounts[c.Category]++
	}
	return stats, nil
}

func (s *MemoryStorage) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, expires := range s.seenEvents {
		if expires.Before(now) {
			delete(s.seenEvents, id)
		}
	}
	if _, seen := s.seenEvents[eventID]; seen {
		return true, nil
	}
	s.seenEvents[eventID] = now.Add(dedupTTL)
	return false, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
