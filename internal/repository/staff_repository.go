package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/staffsync/internal/domain"
)

// ErrStaffMemberNotFound is returned when a staff member id does not exist.
var ErrStaffMemberNotFound = errors.New("staff member not found")

const staffColumns = `id, first_name, last_name, email, phone, payroll_id, active,
	created_at, updated_at`

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository wires the internal staff table onto a pgx pool.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

func (r *staffRepository) List(ctx context.Context) ([]domain.StaffMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+staffColumns+`
		FROM staff_members
		ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("list staff members: %w", err)
	}
	defer rows.Close()

	var members []domain.StaffMember
	for rows.Next() {
		member, err := scanStaffMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (r *staffRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.StaffMember, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+staffColumns+`
		FROM staff_members
		WHERE id = $1`,
		id)

	member, err := scanStaffMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StaffMember{}, ErrStaffMemberNotFound
	}
	if err != nil {
		return domain.StaffMember{}, fmt.Errorf("get staff member: %w", err)
	}
	return member, nil
}

func (r *staffRepository) Update(ctx context.Context, member domain.StaffMember) (domain.StaffMember, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE staff_members
		SET first_name = $2, last_name = $3, email = $4, phone = $5,
			payroll_id = $6, active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+staffColumns,
		member.ID, member.FirstName, member.LastName, member.Email,
		member.Phone, member.PayrollID, member.Active)

	updated, err := scanStaffMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StaffMember{}, ErrStaffMemberNotFound
	}
	if err != nil {
		return domain.StaffMember{}, fmt.Errorf("update staff member: %w", err)
	}
	return updated, nil
}

func scanStaffMember(row pgx.Row) (domain.StaffMember, error) {
	var member domain.StaffMember
	err := row.Scan(
		&member.ID, &member.FirstName, &member.LastName, &member.Email,
		&member.Phone, &member.PayrollID, &member.Active,
		&member.CreatedAt, &member.UpdatedAt,
	)
	if err != nil {
		return domain.StaffMember{}, err
	}
	return member, nil
}
