package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/staffsync/internal/domain"
)

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wires the session/run observability log onto a pgx pool.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) CreateSession(ctx context.Context, session domain.SyncSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_sessions (id, mode, started_at, status)
		VALUES ($1, $2, $3, $4)`,
		session.ID, session.Mode, session.StartedAt, string(session.Status))
	if err != nil {
		return fmt.Errorf("create sync session: %w", err)
	}
	return nil
}

func (r *runRepository) FinishSession(ctx context.Context, session domain.SyncSession) error {
	errorsJSON, err := json.Marshal(session.Errors)
	if err != nil {
		return fmt.Errorf("marshal session errors: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE sync_sessions
		SET finished_at = $2, status = $3, total = $4, successful = $5,
			failed = $6, errors = $7
		WHERE id = $1`,
		session.ID, session.FinishedAt, string(session.Status),
		session.Total, session.Successful, session.Failed, errorsJSON)
	if err != nil {
		return fmt.Errorf("finish sync session: %w", err)
	}
	return nil
}

func (r *runRepository) ListSessions(ctx context.Context, limit int) ([]domain.SyncSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, mode, started_at, finished_at, status, total, successful,
			failed, errors
		FROM sync_sessions
		ORDER BY started_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list sync sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.SyncSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *runRepository) CreateRun(ctx context.Context, run domain.ReconstructionRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconstruction_runs (id, mode, started_at, status)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.Mode, run.StartedAt, string(run.Status))
	if err != nil {
		return fmt.Errorf("create reconstruction run: %w", err)
	}
	return nil
}

func (r *runRepository) FinishRun(ctx context.Context, run domain.ReconstructionRun) error {
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE reconstruction_runs
		SET finished_at = $2, status = $3, events_processed = $4,
			successful = $5, failed = $6, errors = $7
		WHERE id = $1`,
		run.ID, run.FinishedAt, string(run.Status),
		run.EventsProcessed, run.Successful, run.Failed, errorsJSON)
	if err != nil {
		return fmt.Errorf("finish reconstruction run: %w", err)
	}
	return nil
}

func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]domain.ReconstructionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, mode, started_at, finished_at, status, events_processed,
			successful, failed, errors
		FROM reconstruction_runs
		ORDER BY started_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list reconstruction runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ReconstructionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanSession(row pgx.Row) (domain.SyncSession, error) {
	var (
		session    domain.SyncSession
		status     string
		errorsJSON []byte
	)
	err := row.Scan(
		&session.ID, &session.Mode, &session.StartedAt, &session.FinishedAt,
		&status, &session.Total, &session.Successful, &session.Failed,
		&errorsJSON,
	)
	if err != nil {
		return domain.SyncSession{}, fmt.Errorf("scan sync session: %w", err)
	}
	session.Status = domain.RunStatus(status)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &session.Errors); err != nil {
			return domain.SyncSession{}, fmt.Errorf("decode session errors: %w", err)
		}
	}
	return session, nil
}

func scanRun(row pgx.Row) (domain.ReconstructionRun, error) {
	var (
		run        domain.ReconstructionRun
		status     string
		errorsJSON []byte
	)
	err := row.Scan(
		&run.ID, &run.Mode, &run.StartedAt, &run.FinishedAt, &status,
		&run.EventsProcessed, &run.Successful, &run.Failed, &errorsJSON,
	)
	if err != nil {
		return domain.ReconstructionRun{}, fmt.Errorf("scan reconstruction run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return domain.ReconstructionRun{}, fmt.Errorf("decode run errors: %w", err)
		}
	}
	return run, nil
}
