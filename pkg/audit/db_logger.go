package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DBLogger writes events to the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database audit logger. The table is created by the
// schema migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log implements Logger
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (timestamp, event_type, status, provider, principal, user_id,
			saml_identity_id, provider_config_id, ip_address, user_agent, request_id, method, path,
			error_code, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`,
		event.Timestamp, string(event.EventType), string(event.Status),
		nullString(event.Provider), nullString(event.Principal), nullUUID(event.UserID),
		nullUUID(event.SAMLIdentityID), nullString(event.ProviderConfigID),
		nullString(event.IPAddress), nullString(event.UserAgent), nullString(event.RequestID),
		nullString(event.Method), nullString(event.Path),
		nullString(event.ErrorCode), nullString(event.Message), metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns the latest events for a principal, newest first
func (l *DBLogger) Recent(ctx context.Context, principal string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, status, COALESCE(provider, ''), COALESCE(principal, ''),
			user_id, COALESCE(error_code, ''), COALESCE(message, '')
		FROM audit_events
		WHERE principal = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var userID uuid.NullUUID
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.Provider, &event.Principal, &userID, &event.ErrorCode, &event.Message); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if userID.Valid {
			id := userID.UUID
			event.UserID = &id
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close implements Logger. The connection pool belongs to the caller.
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
