// Copyright 2025 AidTrace Project
//
// Postgres audit repository.

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aidtrace/aid-ledger/pkg/database"
)

// PostgresRepository stores audit records in the audit_log table.
type PostgresRepository struct {
	client *database.Client
}

// NewPostgresRepository creates a repository over the shared client.
func NewPostgresRepository(client *database.Client) *PostgresRepository {
	return &PostgresRepository{client: client}
}

func (r *PostgresRepository) Append(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO audit_log (
			id, category, action, description, principal_id, principal_name,
			entity_id, entity_type, metadata, ip_address, user_agent,
			is_success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.client.DB().ExecContext(ctx, query,
		rec.ID, rec.Category, rec.Action, rec.Description,
		nullable(rec.PrincipalID), nullable(rec.PrincipalName),
		nullable(rec.EntityID), nullable(rec.EntityType),
		nullable(rec.Metadata), nullable(rec.IPAddress), nullable(rec.UserAgent),
		rec.IsSuccess, nullable(rec.ErrorMessage), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]*Record, error) {
	var where []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.PrincipalID != "" {
		add("principal_id = $%d", f.PrincipalID)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Success != nil {
		add("is_success = $%d", *f.Success)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	query := `
		SELECT id, category, action, description, principal_id, principal_name,
		       entity_id, entity_type, metadata, ip_address, user_agent,
		       is_success, error_message, created_at
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var principalID, principalName, entityID, entityType sql.NullString
		var metadata, ipAddress, userAgent, errorMessage sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Category, &rec.Action, &rec.Description,
			&principalID, &principalName, &entityID, &entityType,
			&metadata, &ipAddress, &userAgent,
			&rec.IsSuccess, &errorMessage, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.PrincipalID = principalID.String
		rec.PrincipalName = principalName.String
		rec.EntityID = entityID.String
		rec.EntityType = entityType.String
		rec.Metadata = metadata.String
		rec.IPAddress = ipAddress.String
		rec.UserAgent = userAgent.String
		rec.ErrorMessage = errorMessage.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
