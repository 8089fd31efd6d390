package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// MessageStore persists and queries normalized message records. It is an
// explicitly constructed handle with a Connect/Close lifecycle; components
// receive it at construction time.
type MessageStore struct {
	db          *sqlx.DB
	driver      string
	exportLimit int
}

// NewMessageStore opens the backing database. URLs beginning with postgres://
// select the Postgres driver, anything else is treated as a SQLite DSN.
func NewMessageStore(databaseURL string, exportLimit int) (*MessageStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "postgres"
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// modernc sqlite misbehaves under concurrent writers on one handle.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if exportLimit <= 0 {
		exportLimit = 10000
	}

	store := &MessageStore{db: db, driver: driver, exportLimit: exportLimit}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info().Str("driver", driver).Msg("Message store connected")
	return store, nil
}

func (s *MessageStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		message_id     TEXT PRIMARY KEY,
		direction      TEXT NOT NULL,
		from_addr      TEXT NOT NULL DEFAULT '',
		to_addr        TEXT NOT NULL DEFAULT '',
		content_type   TEXT NOT NULL,
		body           TEXT NOT NULL DEFAULT '',
		caption        TEXT NOT NULL DEFAULT '',
		occurred_at    TIMESTAMP NOT NULL,
		status         TEXT NOT NULL,
		is_group       BOOLEAN NOT NULL DEFAULT FALSE,
		group_id       TEXT NOT NULL DEFAULT '',
		category       TEXT NOT NULL DEFAULT '',
		resolved_phone TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_direction ON messages(direction);
	CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_addr);
	CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_addr);
	CREATE INDEX IF NOT EXISTS idx_messages_content_type ON messages(content_type);
	CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
	CREATE INDEX IF NOT EXISTS idx_messages_occurred_at ON messages(occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at DESC);

	CREATE TABLE IF NOT EXISTS contacts (
		phone      TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		alias      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_alias ON contacts(alias);
	CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close releases the connection pool.
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// Ping verifies the backing database is reachable.
func (s *MessageStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// StoreInbound builds a MessageRecord from a raw event plus its derived
// identity and classification, and inserts it idempotently. A second insert
// with the same messageId is a duplicate-suppression no-op returning the
// record already stored.
func (s *MessageStore) StoreInbound(ctx context.Context, event RawEvent, identity ResolvedIdentity, classification Classification) (*MessageRecord, error) {
	if event.ExternalID == "" {
		return nil, newValidationError("externalId", "must not be empty")
	}
	if !isValidContentType(event.ContentType) {
		return nil, newValidationError("contentType", "unsupported value "+event.ContentType)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// For group messages the sender label falls back to the raw alias when
	// resolution failed, and the group id lands in the to/group columns.
	from := identity.CanonicalPhone
	if from == "" {
		from = stripProtocolSuffix(event.ParticipantRaw)
	}
	to := ""
	groupID := ""
	if event.IsGroupConversation {
		to = event.ConversationID
		groupID = event.ConversationID
	}

	now := time.Now().UTC()
	record := &MessageRecord{
		MessageID:     event.ExternalID,
		Direction:     DirectionInbound,
		From:          from,
		To:            to,
		ContentType:   event.ContentType,
		Body:          event.Body,
		Caption:       event.Caption,
		OccurredAt:    occurredAt,
		Status:        StatusReceived,
		IsGroup:       event.IsGroupConversation,
		GroupID:       groupID,
		Category:      classification.Category,
		ResolvedPhone: identity.CanonicalPhone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	return s.insertIdempotent(ctx, record)
}

// StoreOutbound records a sent message. The messageId comes from the
// transport's acknowledgment when present, otherwise a generated token.
func (s *MessageStore) StoreOutbound(ctx context.Context, conversationID, body string, isGroup bool, result *TransportResult) (*MessageRecord, error) {
	if conversationID == "" {
		return nil, newValidationError("conversationId", "must not be empty")
	}

	messageID := ""
	occurredAt := time.Now().UTC()
	if result != nil {
		messageID = result.ID
		if !result.Timestamp.IsZero() {
			occurredAt = result.Timestamp
		}
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	to := conversationID
	if !isGroup {
		to = stripProtocolSuffix(conversationID)
	}
	groupID := ""
	if isGroup {
		groupID = conversationID
	}

	now := time.Now().UTC()
	record := &MessageRecord{
		MessageID:   messageID,
		Direction:   DirectionOutbound,
		To:          to,
		ContentType: "text",
		Body:        body,
		OccurredAt:  occurredAt,
		Status:      StatusSent,
		IsGroup:     isGroup,
		GroupID:     groupID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return s.insertIdempotent(ctx, record)
}

// insertIdempotent performs the conflict-tolerant insert. Uniqueness is
// enforced by the messages primary key, so the second of two concurrent
// inserts for the same id observes the first's row and mutates nothing.
func (s *MessageStore) insertIdempotent(ctx context.Context, record *MessageRecord) (*MessageRecord, error) {
	query := s.db.Rebind(`
		INSERT INTO messages (
			message_id, direction, from_addr, to_addr, content_type, body, caption,
			occurred_at, status, is_group, group_id, category, resolved_phone,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		record.MessageID, record.Direction, record.From, record.To,
		record.ContentType, record.Body, record.Caption, record.OccurredAt,
		record.Status, record.IsGroup, record.GroupID, record.Category,
		record.ResolvedPhone, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		log.Debug().
			Str("messageId", record.MessageID).
			Msg("Duplicate insert suppressed, returning existing record")
		return s.GetByID(ctx, record.MessageID)
	}

	log.Debug().
		Str("messageId", record.MessageID).
		Str("direction", record.Direction).
		Str("category", record.Category).
		Msg("Message stored")
	return record, nil
}

// GetByID fetches a single record by its messageId.
func (s *MessageStore) GetByID(ctx context.Context, messageID string) (*MessageRecord, error) {
	var record MessageRecord
	query := s.db.Rebind(`SELECT * FROM messages WHERE message_id = ?`)
	if err := s.db.GetContext(ctx, &record, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return &record, nil
}

// UpdateStatus mutates the delivery status of a stored message.
func (s *MessageStore) UpdateStatus(ctx context.Context, messageID, status string) error {
	if !isValidStatus(status) {
		return newValidationError("status", "unsupported value "+status)
	}

	query := s.db.Rebind(`UPDATE messages SET status = ?, updated_at = ? WHERE message_id = ?`)
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	log.Debug().Str("messageId", messageID).Str("status", status).Msg("Message status updated")
	return nil
}

func validateFilters(filters SearchFilters) error {
	if filters.Direction != "" && !isValidDirection(filters.Direction) {
		return newValidationError("direction", "unsupported value "+filters.Direction)
	}
	if filters.ContentType != "" && !isValidContentType(filters.ContentType) {
		return newValidationError("contentType", "unsupported value "+filters.ContentType)
	}
	if filters.Status != "" && !isValidStatus(filters.Status) {
		return newValidationError("status", "unsupported value "+filters.Status)
	}
	if !filters.StartDate.IsZero() && !filters.EndDate.IsZero() && filters.EndDate.Before(filters.StartDate) {
		return newValidationError("endDate", "must not precede startDate")
	}
	return nil
}

// buildWhere turns the optional filters into a WHERE clause with ? bind
// placeholders. Substring filters compare lowercased on both sides so the
// behavior is identical across dialects.
func buildWhere(filters SearchFilters) (string, []interface{}) {
	clauses := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)

	if filters.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, filters.Direction)
	}
	if filters.From != "" {
		clauses = append(clauses, "LOWER(from_addr) LIKE ?")
		args = append(args, "%"+strings.ToLower(filters.From)+"%")
	}
	if filters.To != "" {
		clauses = append(clauses, "LOWER(to_addr) LIKE ?")
		args = append(args, "%"+strings.ToLower(filters.To)+"%")
	}
	if filters.ContentType != "" {
		clauses = append(clauses, "content_type = ?")
		args = append(args, filters.ContentType)
	}
	if filters.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filters.Status)
	}
	if !filters.StartDate.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, filters.StartDate)
	}
	if !filters.EndDate.IsZero() {
		clauses = append(clauses, "occurred_at <= ?")
		args = append(args, filters.EndDate)
	}
	if filters.SearchText != "" {
		clauses = append(clauses, "(LOWER(body) LIKE ? OR LOWER(from_addr) LIKE ? OR LOWER(to_addr) LIKE ?)")
		needle := "%" + strings.ToLower(filters.SearchText) + "%"
		args = append(args, needle, needle, needle)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Search returns the filtered page of records plus the total count of the
// filtered set independent of pagination.
func (s *MessageStore) Search(ctx context.Context, filters SearchFilters, opts SearchOptions) ([]MessageRecord, int64, error) {
	return s.search(ctx, filters, opts, maxSearchLimit)
}

// search is Search with a caller-chosen hard cap; the export path uses a
// larger bound than interactive queries.
func (s *MessageStore) search(ctx context.Context, filters SearchFilters, opts SearchOptions, hardCap int) ([]MessageRecord, int64, error) {
	if err := validateFilters(filters); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > hardCap {
		limit = hardCap
	}
	skip := opts.Skip
	if skip < 0 {
		skip = 0
	}
	order := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		order = "ASC"
	}

	where, args := buildWhere(filters)

	var total int64
	countQuery := s.db.Rebind("SELECT COUNT(*) FROM messages" + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	records := []MessageRecord{}
	query := s.db.Rebind(fmt.Sprintf(
		"SELECT * FROM messages%s ORDER BY occurred_at %s LIMIT ? OFFSET ?", where, order))
	queryArgs := append(append([]interface{}{}, args...), limit, skip)
	if err := s.db.SelectContext(ctx, &records, query, queryArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to search messages: %w", err)
	}

	return records, total, nil
}

// Recent returns the newest records without further filtering.
func (s *MessageStore) Recent(ctx context.Context, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	records, _, err := s.Search(ctx, SearchFilters{}, SearchOptions{Limit: limit})
	return records, err
}

// Statistics aggregates the filtered set server-side: one query for the
// totals, one grouped query for the per-content-type counts.
func (s *MessageStore) Statistics(ctx context.Context, filters SearchFilters) (*Statistics, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	where, args := buildWhere(filters)

	var totals struct {
		Total    int64 `db:"total"`
		Sent     int64 `db:"sent"`
		Received int64 `db:"received"`
	}
	totalsQuery := s.db.Rebind(`
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN direction = 'outbound' THEN 1 ELSE 0 END), 0) AS sent,
		       COALESCE(SUM(CASE WHEN direction = 'inbound' THEN 1 ELSE 0 END), 0) AS received
		FROM messages` + where)
	if err := s.db.GetContext(ctx, &totals, totalsQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate totals: %w", err)
	}

	typeRows := []struct {
		ContentType string `db:"content_type"`
		Count       int64  `db:"cnt"`
	}{}
	typeQuery := s.db.Rebind(
		"SELECT content_type, COUNT(*) AS cnt FROM messages" + where + " GROUP BY content_type")
	if err := s.db.SelectContext(ctx, &typeRows, typeQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate content types: %w", err)
	}

	countsByType := make(map[string]int64, len(typeRows))
	for _, row := range typeRows {
		countsByType[row.ContentType] = row.Count
	}

	return &Statistics{
		Total:               totals.Total,
		SentCount:           totals.Sent,
		ReceivedCount:       totals.Received,
		CountsByContentType: countsByType,
	}, nil
}

// Export serializes the filtered set with export metadata. The record count is
// capped to keep memory bounded; TotalCount still reflects the full match.
func (s *MessageStore) Export(ctx context.Context, filters SearchFilters) (*ExportSnapshot, error) {
	records, total, err := s.search(ctx, filters, SearchOptions{Limit: s.exportLimit}, s.exportLimit)
	if err != nil {
		return nil, err
	}

	return &ExportSnapshot{
		ExportedAt: time.Now().UTC(),
		TotalCount: total,
		Filters:    filters,
		Records:    records,
	}, nil
}

// Delete removes the filtered set. An empty filter set is rejected outright so
// a sloppy call can never wipe the table.
func (s *MessageStore) Delete(ctx context.Context, filters SearchFilters) (int64, error) {
	if filters.IsEmpty() {
		return 0, ErrUnsafeBulkOperation
	}
	if err := validateFilters(filters); err != nil {
		return 0, err
	}

	where, args := buildWhere(filters)
	query := s.db.Rebind("DELETE FROM messages" + where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}

	log.Info().Int64("deleted", deleted).Msg("Messages purged")
	return deleted, nil
}
