package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event ReviewEvent) error {
	detail := event.Detail
	if len(detail) == 0 {
		detail = []byte("{}")
	}
	var revision sql.NullInt64
	if event.Revision != nil {
		revision = sql.NullInt64{Int64: int64(*event.Revision), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_events (project, version, action, actor, topic_id, post_id, revision, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, event.Project, event.Version, string(event.Action), event.Actor, event.TopicID, event.PostID, revision, string(detail))
	if err != nil {
		return fmt.Errorf("insert review event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first. An empty project lists all
// projects.
func (s *PostgresStore) ListEvents(ctx context.Context, project string, limit int) ([]ReviewEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, version, action, actor, topic_id, post_id, revision, detail, created_at
		FROM review_events
		WHERE ($1 = '' OR project = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("list review events: %w", err)
	}
	defer rows.Close()

	events := make([]ReviewEvent, 0)
	for rows.Next() {
		var (
			event    ReviewEvent
			action   string
			revision sql.NullInt64
			detail   []byte
		)
		if err := rows.Scan(&event.ID, &event.Project, &event.Version, &action, &event.Actor, &event.TopicID, &event.PostID, &revision, &detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review event: %w", err)
		}
		event.Action = EventAction(action)
		if revision.Valid {
			value := int(revision.Int64)
			event.Revision = &value
		}
		event.Detail = detail
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review events: %w", err)
	}
	return events, nil
}
