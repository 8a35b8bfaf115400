package storage

import (
	"context"

	"github.com/ecobot-id/ecobot/internal/models"
)

// Stats are the aggregate numbers behind the statistik command and the
// emailed reports.
type Stats struct {
	TotalUsers     int
	ActiveUsers    int
	TotalMessages  int
	TotalImages    int
	CategoryCounts map[models.WasteCategory]int
}

// Storage is the persistence gateway. Pure data access, no business
// logic; the dispatcher and handlers own all decisions.
type Storage interface {
	// GetOrCreateUser returns the user for phone, creating it with the
	// given role and phase when no record exists. created reports
	// whether this call inserted the record.
	GetOrCreateUser(ctx context.Context, phone string, role models.Role, phase models.Phase) (user *models.User, created bool, err error)
	GetUser(ctx context.Context, phone string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	IncrementMessageCount(ctx context.Context, phone string) error
	IncrementImageCount(ctx context.Context, phone string) error
	AddPoints(ctx context.Context, phone string, points int) error

	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error
	RecentTurns(ctx context.Context, phone string, limit int) ([]*models.ConversationTurn, error)

	UpsertFact(ctx context.Context, phone, key, value string) error
	FactsFor(ctx context.Context, phone string) ([]*models.DurableFact, error)

	LogInteraction(ctx context.Context, entry *models.AuditEntry) error
	AuditFor(ctx context.Context, phone string, limit int) ([]*models.AuditEntry, error)

	SaveClassification(ctx context.Context, c *models.Classification) error

	CollectionPoints(ctx context.Context) ([]*models.CollectionPoint, error)
	Schedules(ctx context.Context) ([]*models.Schedule, error)

	Statistics(ctx context.Context) (*Stats, error)

	// MarkEventSeen records event id and reports whether it was already
	// recorded, for webhook re-delivery dedup.
	MarkEventSeen(ctx context.Context, eventID string) (seen bool, err error)

	Close() error
}
