package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/entitystore/sqlengine/internal/adapters"
)

// Supported SQL dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

const (
	defaultEntitiesTableName = "entities"
	defaultEventsTableName   = "entity_events"
	colID                    = "id"
	colType                  = "_type"
	colSnapshotKey           = "snapshot_key"
	colVersion               = "version"
	colSnapshot              = "snapshot"
	colSnapshotVersion       = "snapshot_version"
	colEntityID              = "_entity_id"
	colEntityVersion         = "entity_version"
	colData                  = "data"
	colSequenceNumber        = "sequence_number"
	logMsgSQLExecuted        = "executed sql for: "
	logMsgBuildQueryFailed   = "failed to build sql statement"
	logMsgDBQueryFailed      = "database statement execution failed"
	logMsgCloseRowsFailed    = "failed to close database rows"
	logMsgScanRowFailed      = "failed to scan database row"
	logMsgUnknownEntityType  = "skipped entity of unknown type"
	logAttrError             = "error"
	logAttrQuery             = "query"
	logAttrDurationMS        = "duration_ms"
	logAttrEntityID          = "entity_id"
	logAttrEntityType        = "entity_type"
	actionAddEntity          = "add_entity"
	actionSaveEntity         = "save_entity"
	actionSnapshot           = "snapshot_entity"
	actionRemoveSnapshots    = "remove_snapshots"
	actionAddEvents          = "add_events"
	actionExistingEvents     = "existing_events"
	actionGetEntities        = "get_entities"
	actionGetEvents          = "get_events"
	actionClearEntityEvents  = "clear_entity_events"
	actionClear              = "clear"
)

// Backend persists entities and events in two SQL tables.
// It implements entitystore.Backend.
type Backend struct {
	db            adapters.DBAdapter
	registry      *entitystore.Registry
	dialect       string
	entitiesTable string
	eventsTable   string
	logger        entitystore.Logger
}

type entityRow struct {
	id              string
	entityType      string
	snapshotKey     sql.NullInt64
	version         int64
	snapshot        sql.NullString
	snapshotVersion int64
}

type eventRow struct {
	id            string
	eventType     string
	entityID      string
	entityVersion int64
	data          string
}

// NewBackendFromPGXPool creates a PostgreSQL Backend using a pgx Pool with optional configuration.
func NewBackendFromPGXPool(db *pgxpool.Pool, registry *entitystore.Registry, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewPGXAdapter(db), registry, DialectPostgres, options...)
}

// NewBackendFromSQLDB creates a Backend using a sql.DB with optional configuration.
// The dialect defaults to PostgreSQL, use WithDialect for SQLite.
func NewBackendFromSQLDB(db *sql.DB, registry *entitystore.Registry, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLAdapter(db), registry, DialectPostgres, options...)
}

// NewBackendFromSQLX creates a Backend using a sqlx.DB with optional configuration.
// The dialect is derived from the driver name the sqlx.DB was opened with.
func NewBackendFromSQLX(db *sqlx.DB, registry *entitystore.Registry, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	adapter := adapters.NewSQLXAdapter(db)

	return newBackend(adapter, registry, dialectOfDriver(adapter.DriverName()), options...)
}

func newBackend(db adapters.DBAdapter, registry *entitystore.Registry, dialect string, options ...Option) (*Backend, error) {
	if registry == nil {
		return nil, entitystore.ErrNilRegistry
	}

	b := &Backend{
		db:            db,
		registry:      registry,
		dialect:       dialect,
		entitiesTable: defaultEntitiesTableName,
		eventsTable:   defaultEventsTableName,
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func dialectOfDriver(driverName string) string {
	if strings.HasPrefix(driverName, "sqlite") {
		return DialectSQLite
	}

	return DialectPostgres
}

// Dialect returns the SQL dialect the Backend builds statements for.
func (b *Backend) Dialect() string {
	return b.dialect
}

// AddEntity inserts the entity row with a new time-ordered id and returns the id.
func (b *Backend) AddEntity(ctx context.Context, entity entitystore.Entity) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	if err = b.insertEntity(ctx, id.String(), entity); err != nil {
		return "", err
	}

	return id.String(), nil
}

// SaveEntity writes the entity version. With an expectedVersion greater than 0 the update only
// happens if the stored version still equals it, otherwise entitystore.ErrConcurrencyConflict is returned.
// With expectedVersion 0 the row is written unconditionally and created if missing.
func (b *Backend) SaveEntity(ctx context.Context, entity entitystore.Entity, expectedVersion int) error {
	where := goqu.Ex{colID: entity.GetID()}
	if expectedVersion > 0 {
		where[colVersion] = expectedVersion
	}

	rowsAffected, err := b.update(ctx, actionSaveEntity, goqu.Record{colVersion: entity.GetVersion()}, where)
	if err != nil {
		return err
	}

	if rowsAffected > 0 {
		return nil
	}

	if expectedVersion > 0 {
		return errors.Join(
			entitystore.ErrConcurrencyConflict,
			fmt.Errorf("entity %s is no longer at version %d", entity.GetID(), expectedVersion),
		)
	}

	return b.insertEntity(ctx, entity.GetID(), entity)
}

// SnapshotEntity stores the encoded entity with its snapshot key and the current version as snapshot version.
func (b *Backend) SnapshotEntity(ctx context.Context, entity entitystore.Entity) error {
	snapshot, err := entitystore.EncodeSnapshot(entity)
	if err != nil {
		return err
	}

	record := goqu.Record{
		colSnapshot:        string(snapshot),
		colSnapshotKey:     nil,
		colSnapshotVersion: entity.GetVersion(),
	}

	if key, ok := entitystore.SnapshotKeyOf(entity); ok {
		record[colSnapshotKey] = key
	}

	rowsAffected, err := b.update(ctx, actionSnapshot, record, goqu.Ex{colID: entity.GetID()})
	if err != nil {
		return err
	}

	if rowsAffected > 0 {
		return nil
	}

	if err = b.insertEntity(ctx, entity.GetID(), entity); err != nil {
		return err
	}

	_, err = b.update(ctx, actionSnapshot, record, goqu.Ex{colID: entity.GetID()})

	return err
}

// RemoveEntitySnapshot discards the snapshot of one entity.
func (b *Backend) RemoveEntitySnapshot(ctx context.Context, id string) error {
	_, err := b.update(ctx, actionRemoveSnapshots, clearedSnapshot(), goqu.Ex{colID: id})

	return err
}

// RemoveSnapshots discards the snapshots of all entities of a type, of all entities for an empty type.
func (b *Backend) RemoveSnapshots(ctx context.Context, entityType string) error {
	where := goqu.Ex{}
	if entityType != "" {
		where[colType] = entityType
	}

	_, err := b.update(ctx, actionRemoveSnapshots, clearedSnapshot(), where)

	return err
}

func clearedSnapshot() goqu.Record {
	return goqu.Record{colSnapshot: nil, colSnapshotKey: nil, colSnapshotVersion: 0}
}

// AddEvents inserts the events in one statement. Events without an id get a new one.
func (b *Backend) AddEvents(ctx context.Context, events []entitystore.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]any, 0, len(events))
	for _, event := range events {
		row, err := eventRecord(event)
		if err != nil {
			return err
		}

		rows = append(rows, row)
	}

	sqlQuery, err := b.toSQL(b.builder().Insert(b.eventsTable).Rows(rows...))
	if err != nil {
		return err
	}

	_, err = b.exec(ctx, actionAddEvents, sqlQuery)

	return err
}

// UpsertEvents inserts the events whose id is not stored yet and returns them.
func (b *Backend) UpsertEvents(ctx context.Context, events []entitystore.Event) ([]entitystore.Event, error) {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		if event.GetEventID() != "" {
			ids = append(ids, event.GetEventID())
		}
	}

	existing, err := b.existingEventIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	inserted := make([]entitystore.Event, 0, len(events))
	for _, event := range events {
		if event.GetEventID() != "" {
			if _, ok := existing[event.GetEventID()]; ok {
				continue
			}

			existing[event.GetEventID()] = struct{}{}
		}

		inserted = append(inserted, event)
	}

	if err = b.AddEvents(ctx, inserted); err != nil {
		return nil, err
	}

	return inserted, nil
}

func (b *Backend) existingEventIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	sqlQuery, err := b.toSQL(b.builder().From(b.eventsTable).Select(colID).Where(goqu.Ex{colID: ids}))
	if err != nil {
		return nil, err
	}

	err = b.query(ctx, actionExistingEvents, sqlQuery, func(rows adapters.DBRows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}

		existing[id] = struct{}{}

		return nil
	})

	return existing, err
}

// GetEntities loads the entity shells for ids, hydrated from a valid snapshot if there is one.
// Missing and malformed ids fail with entitystore.ErrNotFound if raiseOnMissing is set and are skipped otherwise.
func (b *Backend) GetEntities(ctx context.Context, ids []string, raiseOnMissing bool) ([]entitystore.Entity, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}

	rowsByID, err := b.entityRows(ctx, valid)
	if err != nil {
		return nil, err
	}

	entities := make([]entitystore.Entity, 0, len(ids))
	for _, id := range ids {
		row, ok := rowsByID[id]
		if !ok {
			if raiseOnMissing {
				return nil, errors.Join(entitystore.ErrNotFound, fmt.Errorf("id %q", id))
			}

			continue
		}

		entity, err := b.rehydrateEntity(row)
		if errors.Is(err, entitystore.ErrUnknownType) {
			if raiseOnMissing {
				return nil, errors.Join(entitystore.ErrNotFound, err)
			}

			b.logWarn(logMsgUnknownEntityType, logAttrEntityID, id, logAttrEntityType, row.entityType)

			continue
		}

		if err != nil {
			return nil, err
		}

		entities = append(entities, entity)
	}

	return entities, nil
}

func (b *Backend) entityRows(ctx context.Context, ids []string) (map[string]entityRow, error) {
	rowsByID := make(map[string]entityRow, len(ids))
	if len(ids) == 0 {
		return rowsByID, nil
	}

	selectStmt := b.builder().
		From(b.entitiesTable).
		Select(colID, colType, colSnapshotKey, colVersion, colSnapshot, colSnapshotVersion).
		Where(goqu.Ex{colID: ids})

	sqlQuery, err := b.toSQL(selectStmt)
	if err != nil {
		return nil, err
	}

	err = b.query(ctx, actionGetEntities, sqlQuery, func(rows adapters.DBRows) error {
		row := entityRow{}
		if err := rows.Scan(&row.id, &row.entityType, &row.snapshotKey, &row.version, &row.snapshot, &row.snapshotVersion); err != nil {
			return err
		}

		rowsByID[row.id] = row

		return nil
	})

	return rowsByID, err
}

func (b *Backend) rehydrateEntity(row entityRow) (entitystore.Entity, error) {
	entity, err := b.registry.NewEntity(row.entityType)
	if err != nil {
		return nil, err
	}

	if snapshotValid(entity, row) {
		if entity, err = b.registry.DecodeEntity(row.entityType, []byte(row.snapshot.String)); err != nil {
			return nil, err
		}

		entity.SetVersion(int(row.snapshotVersion))
	}

	entity.SetID(row.id)
	entity.SetPersistedVersion(int(row.version))

	return entity, nil
}

// snapshotValid reports whether a stored snapshot may be used for the entity type:
// both carry no key or both carry the same key.
func snapshotValid(entity entitystore.Entity, row entityRow) bool {
	if !row.snapshot.Valid || row.snapshotVersion < 1 {
		return false
	}

	key, hasKey := entitystore.SnapshotKeyOf(entity)
	if !hasKey {
		return !row.snapshotKey.Valid
	}

	return row.snapshotKey.Valid && row.snapshotKey.Int64 == int64(key)
}

// GetEvents loads the events of each criteria entry with a version greater than its SinceVersion,
// ordered by version and insertion sequence. Unregistered event types come back as *entitystore.UnknownEvent.
func (b *Backend) GetEvents(ctx context.Context, criteria []entitystore.EventCriteria) (map[string][]entitystore.Event, error) {
	result := make(map[string][]entitystore.Event, len(criteria))
	if len(criteria) == 0 {
		return result, nil
	}

	conditions := make([]goqu.Expression, 0, len(criteria))
	for _, item := range criteria {
		if item.ID == "" {
			return nil, entitystore.ErrInvalidCriteria
		}

		result[item.ID] = make([]entitystore.Event, 0)
		conditions = append(conditions, goqu.And(
			goqu.C(colEntityID).Eq(item.ID),
			goqu.C(colEntityVersion).Gt(item.SinceVersion),
		))
	}

	selectStmt := b.builder().
		From(b.eventsTable).
		Select(colID, colType, colEntityID, colEntityVersion, colData).
		Where(goqu.Or(conditions...)).
		Order(goqu.C(colEntityVersion).Asc(), goqu.C(colSequenceNumber).Asc())

	sqlQuery, err := b.toSQL(selectStmt)
	if err != nil {
		return nil, err
	}

	err = b.query(ctx, actionGetEvents, sqlQuery, func(rows adapters.DBRows) error {
		row := eventRow{}
		if err := rows.Scan(&row.id, &row.eventType, &row.entityID, &row.entityVersion, &row.data); err != nil {
			return err
		}

		event, err := b.registry.DecodeEvent(row.eventType, []byte(row.data))
		if err != nil {
			return err
		}

		event.SetEventID(row.id)
		event.SetEntityID(row.entityID)
		event.SetEntityVersion(int(row.entityVersion))
		result[row.entityID] = append(result[row.entityID], event)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ClearEntityEvents deletes the events of one entity except those of the excluded types.
func (b *Backend) ClearEntityEvents(ctx context.Context, id string, excludedTypes []string) error {
	where := goqu.Ex{colEntityID: id}
	if len(excludedTypes) > 0 {
		where[colType] = goqu.Op{"notIn": excludedTypes}
	}

	sqlQuery, err := b.toSQL(b.builder().Delete(b.eventsTable).Where(where))
	if err != nil {
		return err
	}

	_, err = b.exec(ctx, actionClearEntityEvents, sqlQuery)

	return err
}

// Clear deletes all events and entities.
func (b *Backend) Clear(ctx context.Context) error {
	for _, table := range []string{b.eventsTable, b.entitiesTable} {
		sqlQuery, err := b.toSQL(b.builder().Delete(table))
		if err != nil {
			return err
		}

		if _, err = b.exec(ctx, actionClear, sqlQuery); err != nil {
			return err
		}
	}

	return nil
}

func (b *Backend) insertEntity(ctx context.Context, id string, entity entitystore.Entity) error {
	record := goqu.Record{
		colID:              id,
		colType:            entity.EntityType(),
		colVersion:         entity.GetVersion(),
		colSnapshotVersion: 0,
	}

	sqlQuery, err := b.toSQL(b.builder().Insert(b.entitiesTable).Rows(record))
	if err != nil {
		return err
	}

	_, err = b.exec(ctx, actionAddEntity, sqlQuery)

	return err
}

func (b *Backend) update(ctx context.Context, action string, record goqu.Record, where goqu.Ex) (int64, error) {
	updateStmt := b.builder().Update(b.entitiesTable).Set(record)
	if len(where) > 0 {
		updateStmt = updateStmt.Where(where)
	}

	sqlQuery, err := b.toSQL(updateStmt)
	if err != nil {
		return 0, err
	}

	return b.exec(ctx, action, sqlQuery)
}

func eventRecord(event entitystore.Event) (goqu.Record, error) {
	if event.GetEventID() == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}

		event.SetEventID(id.String())
	}

	data, err := entitystore.EncodeEvent(event)
	if err != nil {
		return nil, err
	}

	return goqu.Record{
		colID:            event.GetEventID(),
		colType:          event.EventType(),
		colEntityID:      event.GetEntityID(),
		colEntityVersion: event.GetEntityVersion(),
		colData:          string(data),
	}, nil
}

func (b *Backend) builder() goqu.DialectWrapper {
	return goqu.Dialect(b.dialect)
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (b *Backend) toSQL(stmt sqlBuilder) (string, error) {
	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		b.logError(logMsgBuildQueryFailed, err)
		return "", errors.Join(ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}

// exec executes a statement and returns the number of affected rows.
func (b *Backend) exec(ctx context.Context, action, sqlQuery string) (int64, error) {
	start := time.Now()
	result, err := b.db.Exec(ctx, sqlQuery)
	b.logQueryWithDuration(sqlQuery, action, time.Since(start))

	if err != nil {
		b.logError(logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
		return 0, errors.Join(ErrQueryFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Join(ErrQueryFailed, err)
	}

	return rowsAffected, nil
}

// query executes a query and hands every row to scan.
func (b *Backend) query(ctx context.Context, action, sqlQuery string, scan func(rows adapters.DBRows) error) error {
	start := time.Now()
	rows, err := b.db.Query(ctx, sqlQuery)
	b.logQueryWithDuration(sqlQuery, action, time.Since(start))

	if err != nil {
		b.logError(logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
		return errors.Join(ErrQueryFailed, err)
	}
	defer b.closeRows(rows)

	for rows.Next() {
		if err = scan(rows); err != nil {
			b.logError(logMsgScanRowFailed, err)
			return errors.Join(ErrScanningRowFailed, err)
		}
	}

	if err = rows.Err(); err != nil {
		return errors.Join(ErrQueryFailed, err)
	}

	return nil
}

// closeRows safely closes database rows and logs any errors.
func (b *Backend) closeRows(rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		b.logWarn(logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

// logQueryWithDuration logs SQL statements with execution time at debug level if the logger is configured.
func (b *Backend) logQueryWithDuration(sqlQuery, action string, duration time.Duration) {
	if b.logger != nil {
		b.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

func (b *Backend) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Backend) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		b.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
