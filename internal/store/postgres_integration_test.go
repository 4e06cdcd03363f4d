package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("MOONBASE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("MOONBASE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if err := RollbackMigrations(ctx, store.db, migrationsDir); err != nil {
		t.Fatalf("rollback migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, store.db, migrationsDir); err != nil {
		t.Fatalf("apply migrations (pass 2): %v", err)
	}
}

func TestReviewEventsInsertAndList(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	revision := 2
	events := []ReviewEvent{
		{Project: "Asteroids", Version: "1.0", Action: ActionSubmitted, TopicID: 10, PostID: 11},
		{Project: "Asteroids", Version: "1.0", Action: ActionRevised, TopicID: 10, PostID: 11, Revision: &revision},
		{Project: "Lander", Version: "0.1", Action: ActionSubmitted, Detail: json.RawMessage(`{"authors":["simeon"]}`)},
	}
	for _, event := range events {
		if err := store.InsertEvent(ctx, event); err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
	}

	asteroids, err := store.ListEvents(ctx, "Asteroids", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(asteroids) != 2 {
		t.Fatalf("expected 2 Asteroids events, got %d", len(asteroids))
	}
	if asteroids[0].Action != ActionRevised || asteroids[0].Revision == nil || *asteroids[0].Revision != 2 {
		t.Fatalf("unexpected newest event: %+v", asteroids[0])
	}

	all, err := store.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
}

func TestReviewEventsAreAppendOnly(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if err := store.InsertEvent(ctx, ReviewEvent{Project: "Asteroids", Version: "1.0", Action: ActionApproved}); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	_, err := store.db.ExecContext(ctx, `UPDATE review_events SET actor = 'mallory'`)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PgError, got %T: %v", err, err)
	}
	if !strings.Contains(pgErr.Message, "append-only") {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}
}
