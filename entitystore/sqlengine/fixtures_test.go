package sqlengine_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // database/sql driver "sqlite"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/entitystore/sqlengine"
	"github.com/AntonStoeckl/entity-store-go/testutil/helper"
)

const (
	noteEntityType      = "Note"
	taggedNoteType      = "TaggedNote"
	noteWrittenType     = "NoteWritten"
	noteTaggedEventType = "NoteTagged"
)

type note struct {
	entitystore.BaseEntity
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

func (n *note) EntityType() string { return noteEntityType }

type taggedNote struct {
	note
}

func (n *taggedNote) EntityType() string { return taggedNoteType }
func (n *taggedNote) SnapshotKey() int   { return 3 }

type noteWritten struct {
	entitystore.BaseEvent
	Text string `json:"text"`
}

func (e *noteWritten) EventType() string { return noteWrittenType }

func (e *noteWritten) Apply(entity entitystore.Entity) error {
	target, ok := entity.(*note)
	if !ok {
		return errors.New("not a note")
	}

	target.Text = e.Text

	return nil
}

type noteTagged struct {
	entitystore.BaseEvent
	Tag string `json:"tag"`
}

func (e *noteTagged) EventType() string { return noteTaggedEventType }

func (e *noteTagged) Apply(entity entitystore.Entity) error {
	target, ok := entity.(*note)
	if !ok {
		return errors.New("not a note")
	}

	target.Tags = append(target.Tags, e.Tag)

	return nil
}

func newTestRegistry() *entitystore.Registry {
	return entitystore.NewRegistry().
		RegisterEntity(func() entitystore.Entity { return &note{} }).
		RegisterEntity(func() entitystore.Entity { return &taggedNote{} }).
		RegisterEvent(func() entitystore.Event { return &noteWritten{} }).
		RegisterEvent(func() entitystore.Event { return &noteTagged{} })
}

// givenSQLiteDB opens a private in-memory database. One connection keeps the database alive.
func givenSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

type backendFixture struct {
	ctx      context.Context
	db       *sql.DB
	registry *entitystore.Registry
	backend  *sqlengine.Backend
	logSpy   *helper.LogHandlerSpy
}

func givenBackend(t *testing.T, options ...sqlengine.Option) backendFixture {
	t.Helper()

	ctx := context.Background()
	registry := newTestRegistry()
	logSpy := helper.NewLogHandlerSpy(false)

	options = append([]sqlengine.Option{
		sqlengine.WithDialect(sqlengine.DialectSQLite),
		sqlengine.WithLogger(slog.New(logSpy)),
	}, options...)

	db := givenSQLiteDB(t)
	backend, err := sqlengine.NewBackendFromSQLDB(db, registry, options...)
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(ctx))

	return backendFixture{ctx: ctx, db: db, registry: registry, backend: backend, logSpy: logSpy}
}

func givenStoredNote(t *testing.T, f backendFixture, version int) *note {
	t.Helper()

	entity := &note{}
	entity.SetVersion(version)

	id, err := f.backend.AddEntity(f.ctx, entity)
	require.NoError(t, err)

	entity.SetID(id)

	return entity
}

func givenEvent(event entitystore.Event, entityID string, version int) entitystore.Event {
	event.SetEntityID(entityID)
	event.SetEntityVersion(version)

	return event
}
