package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobot-id/ecobot/internal/models"
)

const testPhone = "+6281234567890"

func TestGetOrCreateUser(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	user, created, err := s.GetOrCreateUser(ctx, testPhone, models.RoleResident, models.PhaseUnregistered)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, testPhone, user.Phone)
	assert.Equal(t, models.RoleResident, user.Role)
	assert.True(t, user.Active)
	assert.False(t, user.FirstSeen.IsZero())

	// Second call loads, never recreates. The stored role wins over the
	// passed default.
	again, created, err := s.GetOrCreateUser(ctx, testPhone, models.RoleAdmin, models.PhaseRegistered)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.RoleResident, again.Role)
	assert.Equal(t, models.PhaseUnregistered, again.Phase)
}

func TestGetUserMissingIsNilNil(t *testing.T) {
	s := NewMemoryStorage()
	user, err := s.GetUser(context.Background(), "+620000000000")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUpdateUserPreservesCounters(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	user, _, err := s.GetOrCreateUser(ctx, testPhone, models.RoleResident, models.PhaseAwaitName)
	require.NoError(t, err)
	require.NoError(t, s.IncrementMessageCount(ctx, testPhone))
	require.NoError(t, s.IncrementMessageCount(ctx, testPhone))

	user.Name = "Budi"
	user.Phase = models.PhaseAwaitAddress
	require.NoError(t, s.UpdateUser(ctx, user))

	stored, err := s.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "Budi", stored.Name)
	assert.Equal(t, models.PhaseAwaitAddress, stored.Phase)
	assert.Equal(t, 2, stored.MessageCount, "counters written by other calls must survive UpdateUser")
}

func TestUpdateUserUnknownFails(t *testing.T) {
	s := NewMemoryStorage()
	err := s.UpdateUser(context.Background(), &models.User{Phone: "+620000000000"})
	assert.Error(t, err)
}

func TestConcurrentCounterIncrements(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	_, _, err := s.GetOrCreateUser(ctx, testPhone, models.RoleResident, models.PhaseRegistered)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = s.IncrementMessageCount(ctx, testPhone)
		}()
	}
	wg.Wait()

	user, err := s.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, n, user.MessageCount)
}

func TestTurnRetentionWindow(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	for i := 0; i < retainedTurns+10; i++ {
		err := s.AppendTurn(ctx, &models.ConversationTurn{
			ID:      fmt.Sprintf("turn-%d", i),
			Phone:   testPhone,
			Speaker: models.SpeakerUser,
			Content: fmt.Sprintf("pesan %d", i),
		})
		require.NoError(t, err)
	}

	turns, err := s.RecentTurns(ctx, testPhone, retainedTurns+10)
	require.NoError(t, err)
	require.Len(t, turns, retainedTurns)
	// Oldest entries are pruned, newest kept, newest-last order.
	assert.Equal(t, "turn-10", turns[0].ID)
	assert.Equal(t, fmt.Sprintf("turn-%d", retainedTurns+9), turns[len(turns)-1].ID)
}

func TestRecentTurnsLimit(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendTurn(ctx, &models.ConversationTurn{
			ID: fmt.Sprintf("t%d", i), Phone: testPhone, Speaker: models.SpeakerUser,
		}))
	}

	turns, err := s.RecentTurns(ctx, testPhone, 5)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	assert.Equal(t, "t3", turns[0].ID)
	assert.Equal(t, "t7", turns[4].ID)
}

func TestUpsertFactOverwrites(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.UpsertFact(ctx, testPhone, "user_name", "Budi"))
	require.NoError(t, s.UpsertFact(ctx, testPhone, "user_name", "Budi Santoso"))
	require.NoError(t, s.UpsertFact(ctx, testPhone, "interest", "kompos"))

	facts, err := s.FactsFor(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "interest", facts[0].Key)
	assert.Equal(t, "user_name", facts[1].Key)
	assert.Equal(t, "Budi Santoso", facts[1].Value)
}

func TestAuditForNewestFirst(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LogInteraction(ctx, &models.AuditEntry{
			ID: fmt.Sprintf("a%d", i), Phone: testPhone, Command: "help", Success: true,
		}))
	}

	entries, err := s.AuditFor(ctx, testPhone, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a4", entries[0].ID)
	assert.Equal(t, "a2", entries[2].ID)
}

func TestStatistics(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	_, _, err := s.GetOrCreateUser(ctx, "+62811", models.RoleResident, models.PhaseRegistered)
	require.NoError(t, err)
	_, _, err = s.GetOrCreateUser(ctx, "+62812", models.RoleKoordinator, models.PhaseRegistered)
	require.NoError(t, err)
	require.NoError(t, s.IncrementMessageCount(ctx, "+62811"))
	require.NoError(t, s.IncrementImageCount(ctx, "+62812"))

	inactive, err := s.GetUser(ctx, "+62812")
	require.NoError(t, err)
	inactive.Active = false
	require.NoError(t, s.UpdateUser(ctx, inactive))

	require.NoError(t, s.SaveClassification(ctx, &models.Classification{
		ID: "c1", Phone: "+62811", Category: models.WasteOrganik, Method: models.MethodAI,
	}))
	require.NoError(t, s.SaveClassification(ctx, &models.Classification{
		ID: "c2", Phone: "+62811", Category: models.WasteB3, Method: models.MethodAI,
	}))

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.TotalImages)
	assert.Equal(t, 1, stats.CategoryCounts[models.WasteOrganik])
	assert.Equal(t, 1, stats.CategoryCounts[models.WasteB3])
	assert.Equal(t, 0, stats.CategoryCounts[models.WasteAnorganik])
}

func TestReferenceTablesFilterInactive(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	s.SeedCollectionPoint(&models.CollectionPoint{ID: 1, Name: "Bank Sampah A", Active: true})
	s.SeedCollectionPoint(&models.CollectionPoint{ID: 2, Name: "Bank Sampah B", Active: false})
	s.SeedSchedule(&models.Schedule{ID: 1, PointID: 1, Day: "Senin", Active: true})
	s.SeedSchedule(&models.Schedule{ID: 2, PointID: 2, Day: "Rabu", Active: false})

	points, err := s.CollectionPoints(ctx)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Bank Sampah A", points[0].Name)

	schedules, err := s.Schedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "Senin", schedules[0].Day)
}

func TestMarkEventSeen(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	seen, err := s.MarkEventSeen(ctx, "SM123")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.MarkEventSeen(ctx, "SM123")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.MarkEventSeen(ctx, "SM124")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCopyOutSemantics(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	user, _, err := s.GetOrCreateUser(ctx, testPhone, models.RoleResident, models.PhaseRegistered)
	require.NoError(t, err)

	// Mutating the returned copy must not touch the stored record.
	user.Name = "mutated"
	stored, err := s.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, stored.Name)
}
