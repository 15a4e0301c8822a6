package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/staffsync/internal/domain"
)

type changeRepository struct {
	pool *pgxpool.Pool
}

// NewChangeRepository wires the append-only change log onto a pgx pool.
func NewChangeRepository(pool *pgxpool.Pool) ChangeRepository {
	return &changeRepository{pool: pool}
}

func (r *changeRepository) CreateBatch(ctx context.Context, changes []domain.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, change := range changes {
		batch.Queue(`
			INSERT INTO employee_changes (
				id, employee_id, endpoint, field_path, old_value, new_value,
				detected_at, change_type, significant, label
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			change.ID, change.EmployeeID, string(change.Endpoint), change.FieldPath,
			change.OldValue, change.NewValue, change.DetectedAt,
			string(change.ChangeType), change.Significant, change.Label)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range changes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert change record: %w", err)
		}
	}
	return nil
}

func (r *changeRepository) ListByEmployee(ctx context.Context, employeeID string) ([]domain.ChangeRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, employee_id, endpoint, field_path, old_value, new_value,
			detected_at, change_type, significant, label
		FROM employee_changes
		WHERE employee_id = $1
		ORDER BY detected_at ASC`,
		employeeID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []domain.ChangeRecord
	for rows.Next() {
		var (
			change     domain.ChangeRecord
			endpoint   string
			changeType string
		)
		err := rows.Scan(
			&change.ID, &change.EmployeeID, &endpoint, &change.FieldPath,
			&change.OldValue, &change.NewValue, &change.DetectedAt,
			&changeType, &change.Significant, &change.Label,
		)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		change.Endpoint = domain.Endpoint(endpoint)
		change.ChangeType = domain.ChangeType(changeType)
		changes = append(changes, change)
	}
	return changes, rows.Err()
}
