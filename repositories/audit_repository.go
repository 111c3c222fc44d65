package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/blogem/nms-gateway/models"
)

// AuditRepository handles audit log persistence. Entries are append-only.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLogEntry, error)
	Count(ctx context.Context, filter models.AuditLogFilter) (int, error)
}

type sqliteAuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &sqliteAuditRepository{db: db}
}

// Create inserts a new audit log entry and sets its ID
func (r *sqliteAuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (
			created_at, request_id, acting_user_id, acting_user_email, organization,
			mutation_type, object_id, object_type, object_display_name, mutation_data,
			url, ip_address, status, status_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(
		ctx,
		query,
		entry.CreatedAt,
		entry.RequestID,
		entry.ActingUserID,
		entry.ActingUserEmail,
		entry.Organization,
		string(entry.MutationType),
		entry.ObjectID,
		entry.ObjectType,
		entry.ObjectDisplayName,
		entry.MutationData,
		entry.URL,
		entry.IPAddress,
		string(entry.Status),
		entry.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit log entry ID: %w", err)
	}
	entry.ID = id

	return nil
}

// List returns entries matching filter, newest first
func (r *sqliteAuditRepository) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLogEntry, error) {
	filter.Normalize()
	where, args := auditWhere(filter)

	query := `
		SELECT id, created_at, request_id, acting_user_id, acting_user_email, organization,
		       mutation_type, object_id, object_type, object_display_name, mutation_data,
		       url, ip_address, status, status_code
		FROM audit_log` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var entry models.AuditLogEntry
		var mutationType, status string

		err := rows.Scan(
			&entry.ID,
			&entry.CreatedAt,
			&entry.RequestID,
			&entry.ActingUserID,
			&entry.ActingUserEmail,
			&entry.Organization,
			&mutationType,
			&entry.ObjectID,
			&entry.ObjectType,
			&entry.ObjectDisplayName,
			&entry.MutationData,
			&entry.URL,
			&entry.IPAddress,
			&status,
			&entry.StatusCode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		entry.MutationType = models.MutationType(mutationType)
		entry.Status = models.AuditStatus(status)

		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}

// Count returns the number of entries matching filter, ignoring paging
func (r *sqliteAuditRepository) Count(ctx context.Context, filter models.AuditLogFilter) (int, error) {
	where, args := auditWhere(filter)

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit log entries: %w", err)
	}
	return count, nil
}

func auditWhere(filter models.AuditLogFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Organization != "" {
		clauses = append(clauses, "organization = ?")
		args = append(args, filter.Organization)
	}
	if filter.ObjectType != "" {
		clauses = append(clauses, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if filter.MutationType != "" {
		clauses = append(clauses, "mutation_type = ?")
		args = append(args, string(filter.MutationType))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
