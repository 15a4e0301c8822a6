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

// ErrStateNotFound is returned when no reconstructed state exists for the
// requested employee/version/event.
var ErrStateNotFound = errors.New("reconstructed state not found")

const stateColumns = `id, employee_id, event_id, first_name_at_event, last_name_at_event,
	email_at_event, phone_at_event, hour_wage_at_event, month_wage_at_event,
	annual_salary_at_event, net_salary_at_event, hours_per_week_at_event,
	days_per_week_at_event, contract_type_at_event, contract_start_at_event,
	contract_end_at_event, job_title_at_event, department_at_event,
	employment_status_at_event, fields_changed, change_source, state_version,
	change_confidence, created_at`

type stateRepository struct {
	pool *pgxpool.Pool
}

// NewStateRepository wires the reconstructed-state table onto a pgx pool.
func NewStateRepository(pool *pgxpool.Pool) StateRepository {
	return &stateRepository{pool: pool}
}

// Upsert persists one reconstructed state. The conflict target is
// (employee_id, state_version) so replaying an already-processed event
// supersedes the stored row instead of duplicating or double-incrementing.
func (r *stateRepository) Upsert(ctx context.Context, state domain.ReconstructedState) error {
	fieldsChanged := state.FieldsChanged
	if fieldsChanged == nil {
		// The column is NOT NULL; a nil slice would encode as SQL NULL.
		fieldsChanged = []string{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconstructed_states (
			id, employee_id, event_id, first_name_at_event, last_name_at_event,
			email_at_event, phone_at_event, hour_wage_at_event, month_wage_at_event,
			annual_salary_at_event, net_salary_at_event, hours_per_week_at_event,
			days_per_week_at_event, contract_type_at_event, contract_start_at_event,
			contract_end_at_event, job_title_at_event, department_at_event,
			employment_status_at_event, fields_changed, change_source, state_version,
			change_confidence, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (employee_id, state_version) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			first_name_at_event = EXCLUDED.first_name_at_event,
			last_name_at_event = EXCLUDED.last_name_at_event,
			email_at_event = EXCLUDED.email_at_event,
			phone_at_event = EXCLUDED.phone_at_event,
			hour_wage_at_event = EXCLUDED.hour_wage_at_event,
			month_wage_at_event = EXCLUDED.month_wage_at_event,
			annual_salary_at_event = EXCLUDED.annual_salary_at_event,
			net_salary_at_event = EXCLUDED.net_salary_at_event,
			hours_per_week_at_event = EXCLUDED.hours_per_week_at_event,
			days_per_week_at_event = EXCLUDED.days_per_week_at_event,
			contract_type_at_event = EXCLUDED.contract_type_at_event,
			contract_start_at_event = EXCLUDED.contract_start_at_event,
			contract_end_at_event = EXCLUDED.contract_end_at_event,
			job_title_at_event = EXCLUDED.job_title_at_event,
			department_at_event = EXCLUDED.department_at_event,
			employment_status_at_event = EXCLUDED.employment_status_at_event,
			fields_changed = EXCLUDED.fields_changed,
			change_source = EXCLUDED.change_source,
			change_confidence = EXCLUDED.change_confidence,
			created_at = EXCLUDED.created_at`,
		state.ID, state.EmployeeID, state.EventID,
		state.FirstNameAtEvent, state.LastNameAtEvent, state.EmailAtEvent,
		state.PhoneAtEvent, state.HourWageAtEvent, state.MonthWageAtEvent,
		state.AnnualSalaryAtEvent, state.NetSalaryAtEvent, state.HoursPerWeekAtEvent,
		state.DaysPerWeekAtEvent, state.ContractTypeAtEvent, state.ContractStartAtEvent,
		state.ContractEndAtEvent, state.JobTitleAtEvent, state.DepartmentAtEvent,
		state.EmploymentStatusAtEvent, fieldsChanged, state.ChangeSource,
		state.StateVersion, state.ChangeConfidence, state.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert reconstructed state: %w", err)
	}
	return nil
}

func (r *stateRepository) LatestByEmployee(ctx context.Context, employeeID string) (domain.ReconstructedState, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+stateColumns+`
		FROM reconstructed_states
		WHERE employee_id = $1
		ORDER BY state_version DESC
		LIMIT 1`,
		employeeID)
	return scanStateNotFound(row)
}

func (r *stateRepository) GetByVersion(ctx context.Context, employeeID string, version int64) (domain.ReconstructedState, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+stateColumns+`
		FROM reconstructed_states
		WHERE employee_id = $1 AND state_version = $2`,
		employeeID, version)
	return scanStateNotFound(row)
}

func (r *stateRepository) GetByEvent(ctx context.Context, eventID uuid.UUID) (domain.ReconstructedState, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+stateColumns+`
		FROM reconstructed_states
		WHERE event_id = $1`,
		eventID)
	return scanStateNotFound(row)
}

func (r *stateRepository) ListByEmployee(ctx context.Context, employeeID string) ([]domain.ReconstructedState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stateColumns+`
		FROM reconstructed_states
		WHERE employee_id = $1
		ORDER BY state_version ASC`,
		employeeID)
	if err != nil {
		return nil, fmt.Errorf("list reconstructed states: %w", err)
	}
	defer rows.Close()

	var states []domain.ReconstructedState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconstructed state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func scanStateNotFound(row pgx.Row) (domain.ReconstructedState, error) {
	state, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReconstructedState{}, ErrStateNotFound
	}
	if err != nil {
		return domain.ReconstructedState{}, fmt.Errorf("get reconstructed state: %w", err)
	}
	return state, nil
}

func scanState(row pgx.Row) (domain.ReconstructedState, error) {
	var state domain.ReconstructedState
	err := row.Scan(
		&state.ID, &state.EmployeeID, &state.EventID,
		&state.FirstNameAtEvent, &state.LastNameAtEvent, &state.EmailAtEvent,
		&state.PhoneAtEvent, &state.HourWageAtEvent, &state.MonthWageAtEvent,
		&state.AnnualSalaryAtEvent, &state.NetSalaryAtEvent, &state.HoursPerWeekAtEvent,
		&state.DaysPerWeekAtEvent, &state.ContractTypeAtEvent, &state.ContractStartAtEvent,
		&state.ContractEndAtEvent, &state.JobTitleAtEvent, &state.DepartmentAtEvent,
		&state.EmploymentStatusAtEvent, &state.FieldsChanged, &state.ChangeSource,
		&state.StateVersion, &state.ChangeConfidence, &state.CreatedAt,
	)
	if err != nil {
		return domain.ReconstructedState{}, err
	}
	return state, nil
}
