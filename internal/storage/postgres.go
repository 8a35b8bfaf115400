package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// dedupTTL bounds how long a webhook event id is remembered.
const dedupTTL = 24 * time.Hour

// retainedTurns is how many history rows are kept per user; older rows
// are pruned on append.
const retainedTurns = 50

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	s := &PostgresStorage{db: db, logger: logger}

	if err := s.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetOrCreateUser(ctx context.Context, phone string, role models.Role, phase models.Phase) (*models.User, bool, error) {
	query := `
		INSERT INTO users (phone, role, phase)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET last_active = NOW()
		RETURNING phone, name, address, role, phase, message_count, image_count,
		          points, active, preferences, first_seen, last_active,
		          (xmax = 0) AS inserted`

	var (
		user     models.User
		prefs    []byte
		inserted bool
	)
	err := s.db.QueryRowContext(ctx, query, phone, role, phase).Scan(
		&user.Phone, &user.Name, &user.Address, &user.Role, &user.Phase,
		&user.MessageCount, &user.ImageCount, &user.Points, &user.Active,
		&prefs, &user.FirstSeen, &user.LastActive, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("error upserting user: %w", err)
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &user.Preferences); err != nil {
			s.logger.Warn("Failed to decode user preferences",
				zap.Error(err), zap.String("phone", phone))
		}
	}
	return &user, inserted, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, phone string) (*models.User, error) {
	query := `
		SELECT phone, name, address, role, phase, message_count, image_count,
		       points, active, preferences, first_seen, last_active
		FROM users WHERE phone = $1`

	var (
		user  models.User
		prefs []byte
	)
	err := s.db.QueryRowContext(ctx, query, phone).Scan(
		&user.Phone, &user.Name, &user.Address, &user.Role, &user.Phase,
		&user.MessageCount, &user.ImageCount, &user.Points, &user.Active,
		&prefs, &user.FirstSeen, &user.LastActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &user.Preferences); err != nil {
			s.logger.Warn("Failed to decode user preferences",
				zap.Error(err), zap.String("phone", phone))
		}
	}
	return &user, nil
}

func (s *PostgresStorage) UpdateUser(ctx context.Context, user *models.User) error {
	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("error encoding preferences: %w", err)
	}
	if len(user.Preferences) == 0 {
		prefs = []byte("{}")
	}

	query := `
		UPDATE users
		SET name = $2, address = $3, role = $4, phase = $5, points = $6,
		    active = $7, preferences = $8, last_active = NOW()
		WHERE phone = $1`

	result, err := s.db.ExecContext(ctx, query,
		user.Phone, user.Name, user.Address, user.Role, user.Phase,
		user.Points, user.Active, prefs)
	if err != nil {
		return fmt.Errorf("error updating user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found: %s", user.Phone)
	}
	return nil
}

func (s *PostgresStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT phone, name, address, role, phase, message_count, image_count,
		       points, active, preferences, first_seen, last_active
		FROM users ORDER BY first_seen`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var (
			user  models.User
			prefs []byte
		)
		if err := rows.Scan(
			&user.Phone, &user.Name, &user.Address, &user.Role, &user.Phase,
			&user.MessageCount, &user.ImageCount, &user.Points, &user.Active,
			&prefs, &user.FirstSeen, &user.LastActive,
		); err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		if len(prefs) > 0 {
			_ = json.Unmarshal(prefs, &user.Preferences)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (s *PostgresStorage) IncrementMessageCount(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET message_count = message_count + 1, last_active = NOW() WHERE phone = $1`, phone)
	if err != nil {
		return fmt.Errorf("error incrementing message count: %w", err)
	}
	return nil
}

func (s *PostgresStorage) IncrementImageCount(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET image_count = image_count + 1, last_active = NOW() WHERE phone = $1`, phone)
	if err != nil {
		return fmt.Errorf("error incrementing image count: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AddPoints(ctx context.Context, phone string, points int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET points = points + $2 WHERE phone = $1`, phone, points)
	if err != nil {
		return fmt.Errorf("error adding points: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	query := `
		INSERT INTO conversation_turns (id, phone, speaker, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.Phone, turn.Speaker, turn.Content, turn.CreatedAt); err != nil {
		return fmt.Errorf("error appending turn: %w", err)
	}

	// Retention: keep only the newest rows per user.
	prune := `
		DELETE FROM conversation_turns
		WHERE phone = $1 AND id NOT IN (
			SELECT id FROM conversation_turns
			WHERE phone = $1 ORDER BY created_at DESC LIMIT $2
		)`
	if _, err := s.db.ExecContext(ctx, prune, turn.Phone, retainedTurns); err != nil {
		s.logger.Warn("Failed to prune conversation turns",
			zap.Error(err), zap.String("phone", turn.Phone))
	}
	return nil
}

func (s *PostgresStorage) RecentTurns(ctx context.Context, phone string, limit int) ([]*models.ConversationTurn, error) {
	query := `
		SELECT id, phone, speaker, content, created_at
		FROM (
			SELECT id, phone, speaker, content, created_at
			FROM conversation_turns
			WHERE phone = $1 ORDER BY created_at DESC LIMIT $2
		) t ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.ConversationTurn
	for rows.Next() {
		turn := &models.ConversationTurn{}
		if err := rows.Scan(&turn.ID, &turn.Phone, &turn.Speaker, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *PostgresStorage) UpsertFact(ctx context.Context, phone, key, value string) error {
	query := `
		INSERT INTO durable_facts (phone, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (phone, key) DO UPDATE SET value = $3, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, phone, key, value); err != nil {
		return fmt.Errorf("error upserting fact: %w", err)
	}
	return nil
}

func (s *PostgresStorage) FactsFor(ctx context.Context, phone string) ([]*models.DurableFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone, key, value, updated_at FROM durable_facts WHERE phone = $1 ORDER BY key`, phone)
	if err != nil {
		return nil, fmt.Errorf("error querying facts: %w", err)
	}
	defer rows.Close()

	var facts []*models.DurableFact
	for rows.Next() {
		f := &models.DurableFact{}
		if err := rows.Scan(&f.Phone, &f.Key, &f.Value, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *PostgresStorage) LogInteraction(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, phone, command, success, failure, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Phone, entry.Command, entry.Success, entry.Failure,
		entry.LatencyMS, entry.CreatedAt); err != nil {
		return fmt.Errorf("error writing audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AuditFor(ctx context.Context, phone string, limit int) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone, command, success, failure, latency_ms, created_at
		FROM audit_log WHERE phone = $1 ORDER BY created_at DESC LIMIT $2`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Phone, &e.Command, &e.Success, &e.Failure,
			&e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) SaveClassification(ctx context.Context, c *models.Classification) error {
	query := `
		INSERT INTO classifications (id, phone, category, confidence, method, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.db.ExecContext(ctx, query,
		c.ID, c.Phone, c.Category, c.Confidence, c.Method, c.Description, c.CreatedAt); err != nil {
		return fmt.Errorf("error saving classification: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CollectionPoints(ctx context.Context) ([]*models.CollectionPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, latitude, longitude, accepted_types, active, updated_at
		FROM collection_points WHERE active ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error querying collection points: %w", err)
	}
	defer rows.Close()

	var points []*models.CollectionPoint
	for rows.Next() {
		p := &models.CollectionPoint{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.Latitude, &p.Longitude,
			pq.Array(&p.AcceptedTypes), &p.Active, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning collection point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStorage) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, point_id, day, start_time, end_time, active
		FROM collection_schedules WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		sch := &models.Schedule{}
		if err := rows.Scan(&sch.ID, &sch.PointID, &sch.Day, &sch.Start, &sch.End, &sch.Active); err != nil {
			return nil, fmt.Errorf("error scanning schedule: %w", err)
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}

func (s *PostgresStorage) Statistics(ctx context.Context) (*Stats, error) {
	stats := &Stats{CategoryCounts: make(map[models.WasteCategory]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE active),
		       COALESCE(SUM(message_count), 0),
		       COALESCE(SUM(image_count), 0)
		FROM users`).Scan(
		&stats.TotalUsers, &stats.ActiveUsers, &stats.TotalMessages, &stats.TotalImages)
	if err != nil {
		return nil, fmt.Errorf("error aggregating user stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM classifications GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("error aggregating classifications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category models.WasteCategory
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("error scanning classification count: %w", err)
		}
		stats.CategoryCounts[category] = count
	}
	return stats, rows.Err()
}

func (s *PostgresStorage) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(eventID)))

	// Opportunistic cleanup of expired ids.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE expires_at < NOW()`); err != nil {
		s.logger.Warn("Failed to clean up seen events", zap.Error(err))
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (event_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (event_hash) DO NOTHING`, hash, time.Now().Add(dedupTTL))
	if err != nil {
		return false, fmt.Errorf("error recording event id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rows == 0, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
