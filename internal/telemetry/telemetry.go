// Package telemetry records command invocations in a local sqlite database.
//
// Events are written in the background so that recording never delays a command.
// Close waits for pending writes.
package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

//go:embed sql
var sqlEmbeddedFS embed.FS

const (
	schemaSQL      = "sql/schema.sql"
	eventInsertSQL = "sql/event_insert.sql"
	eventsGetSQL   = "sql/events_get.sql"
)

// timeFormat sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Event is a recorded invocation.
type Event struct {
	ID         string `db:"id"`
	Command    string `db:"command"`
	Properties string `db:"properties"` // json object
	CreatedAt  string `db:"created_at"`
}

// Props decodes the event properties.
func (e Event) Props() (map[string]any, error) {
	props := map[string]any{}
	if err := json.Unmarshal([]byte(e.Properties), &props); err != nil {
		return nil, fmt.Errorf("could not decode properties of event %s: %w", e.ID, err)
	}
	return props, nil
}

// Store is a telemetry event store.
type Store struct {
	db         *sqlx.DB
	insertStmt *sqlx.NamedStmt
	getStmt    *sqlx.NamedStmt
	wg         sync.WaitGroup
	log        *slog.Logger
	now        func() time.Time
}

// Open opens or creates the store at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dataSource := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	if strings.Contains(dbPath, ":memory:") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain '?cache=shared'", dbPath)
		}
		dataSource = dbPath
	}

	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := dbDB.Ping(); err != nil {
		_ = dbDB.Close()
		return nil, err
	}

	s := &Store{
		db:  sqlx.NewDb(dbDB, "sqlite"),
		log: logger,
		now: time.Now,
	}
	if err := s.initSchema(sqlEmbeddedFS, schemaSQL); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	if s.insertStmt, err = s.prepNamedStatement(sqlEmbeddedFS, eventInsertSQL); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	if s.getStmt, err = s.prepNamedStatement(sqlEmbeddedFS, eventsGetSQL); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist. The schema file can be
// run idempotently.
func (s *Store) initSchema(fileFS fs.FS, filePath string) error {
	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}
	if _, err := s.db.ExecContext(context.Background(), string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

func (s *Store) prepNamedStatement(fileFS fs.FS, filePath string) (*sqlx.NamedStmt, error) {
	query, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not read %q: %w", filePath, err)
	}
	stmt, err := s.db.PrepareNamed(string(query))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return stmt, nil
}

// Track records an event in the background. It meets the command.Tracker interface.
// Only encoding failures are returned; write failures are logged.
func (s *Store) Track(ctx context.Context, name string, props map[string]any) error {
	b, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("could not encode telemetry properties: %w", err)
	}
	ev := Event{
		ID:         uuid.NewString(),
		Command:    name,
		Properties: string(b),
		CreatedAt:  s.now().UTC().Format(timeFormat),
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.insertStmt.ExecContext(ctx, ev); err != nil {
			s.log.Debug(fmt.Sprintf("Track: could not save event %s: %v", ev.ID, err))
		}
	}()
	return nil
}

// Events returns the recorded events, oldest first, optionally for one command.
func (s *Store) Events(ctx context.Context, command string) ([]Event, error) {
	events := []Event{}
	if err := s.getStmt.SelectContext(ctx, &events, map[string]any{"command": command}); err != nil {
		return nil, fmt.Errorf("could not read events: %w", err)
	}
	return events, nil
}

// Flush waits for pending writes.
func (s *Store) Flush() {
	s.wg.Wait()
}

// Close waits for pending writes and closes the database.
func (s *Store) Close() error {
	s.wg.Wait()
	_ = s.insertStmt.Close()
	_ = s.getStmt.Close()
	return s.db.Close()
}
