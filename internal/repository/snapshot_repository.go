package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/staffsync/internal/domain"
)

// ErrSnapshotNotFound is returned when no snapshot exists for the requested
// employee/endpoint.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const snapshotColumns = `id, employee_id, endpoint, payload, content_hash, collected_at,
	last_verified_at, effective_from, effective_to, is_latest, confidence_score,
	is_partial, error_message, sync_session_id`

type snapshotRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSnapshotRepository wires the temporal snapshot store onto a pgx pool.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool, now: time.Now}
}

// Upsert implements the dedup write path. The read-close-insert sequence for
// one (employee, endpoint) runs inside a single transaction with the current
// latest row locked FOR UPDATE, so concurrent writers cannot both observe
// "no latest row"; a partial unique index on (employee_id, endpoint) WHERE
// is_latest backstops the invariant.
func (r *snapshotRepository) Upsert(ctx context.Context, snapshot domain.SnapshotRecord) (SnapshotUpsertResult, error) {
	payloadJSON, err := snapshot.GetPayloadAsJSONB()
	if err != nil {
		return SnapshotUpsertResult{}, fmt.Errorf("marshal snapshot payload: %w", err)
	}

	var result SnapshotUpsertResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return SnapshotUpsertResult{}, fmt.Errorf("begin snapshot upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM employee_snapshots
		WHERE employee_id = $1 AND endpoint = $2 AND is_latest
		FOR UPDATE`,
		snapshot.EmployeeID, string(snapshot.Endpoint))

	current, err := scanSnapshot(row)
	switch {
	case err == nil && current.ContentHash == snapshot.ContentHash:
		// Byte-identical re-fetch: only the verification timestamp moves.
		now := r.now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE employee_snapshots
			SET last_verified_at = $1, sync_session_id = $2
			WHERE id = $3`,
			now, snapshot.SyncSessionID, current.ID)
		if err != nil {
			return SnapshotUpsertResult{}, fmt.Errorf("touch snapshot: %w", err)
		}
		current.LastVerifiedAt = now
		current.SyncSessionID = snapshot.SyncSessionID
		result = SnapshotUpsertResult{Outcome: SnapshotVerified, Record: current}

	case err == nil:
		// Divergent payload: close the old row at the new row's
		// effective_from so history tiles without gaps, then insert.
		_, err = tx.Exec(ctx, `
			UPDATE employee_snapshots
			SET is_latest = FALSE, effective_to = $1
			WHERE id = $2`,
			snapshot.EffectiveFrom, current.ID)
		if err != nil {
			return SnapshotUpsertResult{}, fmt.Errorf("close snapshot: %w", err)
		}
		if err := insertSnapshot(ctx, tx, snapshot, payloadJSON); err != nil {
			return SnapshotUpsertResult{}, err
		}
		previous := current
		result = SnapshotUpsertResult{Outcome: SnapshotInserted, Record: snapshot, Previous: &previous}

	case errors.Is(err, pgx.ErrNoRows):
		// First snapshot for this employee/endpoint.
		if err := insertSnapshot(ctx, tx, snapshot, payloadJSON); err != nil {
			return SnapshotUpsertResult{}, err
		}
		result = SnapshotUpsertResult{Outcome: SnapshotInserted, Record: snapshot}

	default:
		return SnapshotUpsertResult{}, fmt.Errorf("read latest snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SnapshotUpsertResult{}, fmt.Errorf("commit snapshot upsert: %w", err)
	}
	return result, nil
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, snapshot domain.SnapshotRecord, payloadJSON json.RawMessage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO employee_snapshots (
			id, employee_id, endpoint, payload, content_hash, collected_at,
			last_verified_at, effective_from, effective_to, is_latest,
			confidence_score, is_partial, error_message, sync_session_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, TRUE, $9, $10, $11, $12)`,
		snapshot.ID, snapshot.EmployeeID, string(snapshot.Endpoint), payloadJSON,
		snapshot.ContentHash, snapshot.CollectedAt, snapshot.LastVerifiedAt,
		snapshot.EffectiveFrom, snapshot.ConfidenceScore, snapshot.IsPartial,
		snapshot.ErrorMessage, snapshot.SyncSessionID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) Latest(ctx context.Context, employeeID string, endpoint domain.Endpoint) (domain.SnapshotRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM employee_snapshots
		WHERE employee_id = $1 AND endpoint = $2 AND is_latest`,
		employeeID, string(endpoint))

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SnapshotRecord{}, ErrSnapshotNotFound
	}
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *snapshotRepository) ListHistory(ctx context.Context, employeeID string, endpoint domain.Endpoint) ([]domain.SnapshotRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM employee_snapshots
		WHERE employee_id = $1 AND endpoint = $2
		ORDER BY effective_from ASC`,
		employeeID, string(endpoint))
	if err != nil {
		return nil, fmt.Errorf("list snapshot history: %w", err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

func (r *snapshotRepository) EarliestPerEndpoint(ctx context.Context, employeeID string) (map[domain.Endpoint]domain.SnapshotRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (endpoint) `+snapshotColumns+`
		FROM employee_snapshots
		WHERE employee_id = $1
		ORDER BY endpoint, effective_from ASC`,
		employeeID)
	if err != nil {
		return nil, fmt.Errorf("list earliest snapshots: %w", err)
	}
	defer rows.Close()

	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[domain.Endpoint]domain.SnapshotRecord, len(snapshots))
	for _, snapshot := range snapshots {
		result[snapshot.Endpoint] = snapshot
	}
	return result, nil
}

func (r *snapshotRepository) ListEmployeeIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT employee_id FROM employee_snapshots ORDER BY employee_id`)
	if err != nil {
		return nil, fmt.Errorf("list employee ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan employee id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *snapshotRepository) LatestProfiles(ctx context.Context) ([]domain.SnapshotRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM employee_snapshots
		WHERE endpoint = $1 AND is_latest
		ORDER BY employee_id`,
		string(domain.EndpointProfile))
	if err != nil {
		return nil, fmt.Errorf("list latest profiles: %w", err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]domain.SnapshotRecord, error) {
	var snapshots []domain.SnapshotRecord
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(row pgx.Row) (domain.SnapshotRecord, error) {
	var (
		snapshot    domain.SnapshotRecord
		endpoint    string
		payloadJSON []byte
	)
	err := row.Scan(
		&snapshot.ID, &snapshot.EmployeeID, &endpoint, &payloadJSON,
		&snapshot.ContentHash, &snapshot.CollectedAt, &snapshot.LastVerifiedAt,
		&snapshot.EffectiveFrom, &snapshot.EffectiveTo, &snapshot.IsLatest,
		&snapshot.ConfidenceScore, &snapshot.IsPartial, &snapshot.ErrorMessage,
		&snapshot.SyncSessionID,
	)
	if err != nil {
		return domain.SnapshotRecord{}, err
	}

	snapshot.Endpoint = domain.Endpoint(endpoint)
	snapshot.Payload, err = domain.FromJSONBPayload(payloadJSON)
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("decode snapshot payload: %w", err)
	}
	return snapshot, nil
}
