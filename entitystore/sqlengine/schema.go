package sqlengine

import (
	"context"
	"errors"
	"fmt"
)

const actionEnsureSchema = "ensure_schema"

// EnsureSchema creates the entities and events tables and their indexes if they do not exist.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	for _, statement := range b.schemaStatements() {
		if _, err := b.exec(ctx, actionEnsureSchema, statement); err != nil {
			return errors.Join(ErrCreatingSchemaFailed, err)
		}
	}

	return nil
}

func (b *Backend) schemaStatements() []string {
	jsonType, sequenceColumn := "JSONB", "sequence_number BIGSERIAL PRIMARY KEY"
	if b.dialect == DialectSQLite {
		jsonType, sequenceColumn = "TEXT", "sequence_number INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	_type TEXT NOT NULL,
	snapshot_key INTEGER,
	version INTEGER NOT NULL,
	snapshot %s,
	snapshot_version INTEGER NOT NULL DEFAULT 0
)`, b.entitiesTable, jsonType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_idx ON %s (_type)`, b.entitiesTable, b.entitiesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s,
	id TEXT NOT NULL UNIQUE,
	_type TEXT NOT NULL,
	_entity_id TEXT NOT NULL,
	entity_version INTEGER NOT NULL,
	data %s NOT NULL
)`, b.eventsTable, sequenceColumn, jsonType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_entity_idx ON %s (_entity_id, entity_version)`, b.eventsTable, b.eventsTable),
	}
}
