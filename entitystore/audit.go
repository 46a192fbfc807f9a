package entitystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// AuditFilter selects which transitions appear in an audit trail. It sees the entity after the event was applied.
type AuditFilter func(entity Entity, event Event) bool

// GetAudit replays the full history of an entity on a fresh instance and renders one line
// per transition: "<version> <EventType> <state>". A transition that fails to apply is
// rendered as "<version> <EventType> error: <message>" and the replay goes on.
func (s *Store) GetAudit(ctx context.Context, id string, filter AuditFilter) ([]string, error) {
	var buf strings.Builder

	if err := s.WriteAudit(ctx, id, &buf, filter); err != nil {
		return nil, err
	}

	trail := strings.TrimSuffix(buf.String(), "\n")
	if trail == "" {
		return []string{}, nil
	}

	return strings.Split(trail, "\n"), nil
}

// WriteAudit writes the audit trail of an entity to w, one transition per line.
func (s *Store) WriteAudit(ctx context.Context, id string, w io.Writer, filter AuditFilter) (err error) {
	ctx, done := s.track(ctx, operationAudit, nil)
	defer func() { done(err) }()

	shells, err := s.backend.GetEntities(ctx, []string{id}, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}

		return errors.Join(ErrLoadingEntitiesFailed, err)
	}

	if len(shells) == 0 {
		return errors.Join(ErrNotFound, fmt.Errorf("id %q", id))
	}

	entity, err := s.registry.NewEntity(shells[0].EntityType())
	if err != nil {
		return err
	}

	entity.SetID(id)

	eventsByID, err := s.backend.GetEvents(ctx, []EventCriteria{{ID: id}})
	if err != nil {
		return errors.Join(ErrLoadingEventsFailed, err)
	}

	for _, event := range eventsByID[id] {
		line := s.auditLine(entity, event, filter)
		if line == "" {
			continue
		}

		if _, err = io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) auditLine(entity Entity, event Event, filter AuditFilter) string {
	if err := ApplyEvent(entity, event); err != nil {
		message := strings.ReplaceAll(err.Error(), "\n", ": ")
		return fmt.Sprintf("%d %s error: %s", event.GetEntityVersion(), event.EventType(), message)
	}

	entity.SetVersion(event.GetEntityVersion())

	if filter != nil && !filter(entity, event) {
		return ""
	}

	state, err := storageJSON.MarshalToString(entity)
	if err != nil {
		state = "{}"
	}

	return fmt.Sprintf("%d %s %s", event.GetEntityVersion(), event.EventType(), state)
}
