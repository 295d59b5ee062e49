package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mrv/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// registryLockKey names the transaction-scoped advisory lock that orders
// registry appends. Held until the enclosing transaction ends, so sequence
// numbers follow commit order.
const registryLockKey int64 = 0x6d72765f726567

const registryColumns = `sequence, id, project_id, project_name, owner_id, verified_by, status, recorded_at`

// RegistryStore reads and appends registry_records. The table has no update
// or delete path; a trigger rejects both.
type RegistryStore struct {
	conn conn
}

// Append assigns the next sequence number and a timestamp no earlier than the
// newest stored one, then inserts the record.
func (s *RegistryStore) Append(ctx context.Context, record models.RegistryRecord) (models.RegistryRecord, error) {
	start := time.Now()
	defer func() {
		slog.DebugContext(ctx, "AppendRegistryRecord", "duration", time.Since(start), "project_id", record.ProjectID)
	}()

	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registryLockKey); err != nil {
			return fmt.Errorf("failed to lock registry: %w", unavailable(err))
		}

		query := `
			INSERT INTO registry_records (` + registryColumns + `)
			SELECT
				COALESCE(MAX(sequence), 0) + 1,
				$1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::text,
				GREATEST($7::timestamptz, COALESCE(MAX(recorded_at), $7::timestamptz))
			FROM registry_records
			RETURNING sequence, recorded_at
		`
		return tx.QueryRow(ctx, query,
			record.ID, record.ProjectID, record.ProjectName, record.OwnerID, record.VerifiedBy,
			string(record.Status), time.Now().UTC(),
		).Scan(&record.Sequence, &record.Timestamp)
	})
	if err != nil {
		return models.RegistryRecord{}, fmt.Errorf("failed to append registry record: %w", unavailable(err))
	}

	record.Timestamp = record.Timestamp.UTC()
	return record, nil
}

// ListAll returns every committed record, oldest first.
func (s *RegistryStore) ListAll(ctx context.Context) ([]models.RegistryRecord, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+registryColumns+` FROM registry_records ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry: %w", unavailable(err))
	}
	defer rows.Close()

	records, _, err := scanRecords(rows, false)
	return records, err
}

// Query filters the registry by project, owner and time range. Results keep
// sequence order. Uses COUNT(*) OVER() to get the total in a single query.
func (s *RegistryStore) Query(ctx context.Context, params models.RegistryQueryParams) ([]models.RegistryRecord, int64, error) {
	start := time.Now()
	defer func() {
		slog.DebugContext(ctx, "QueryRegistry", "duration", time.Since(start),
			"project_id", params.ProjectID, "owner_id", params.OwnerID)
	}()

	limit := validateLimit(params.Limit, defaultLimit, maxLimit)
	offset := validateOffset(params.Offset)

	qb := NewQueryBuilder()
	if params.ProjectID != "" {
		projectID, err := uuid.Parse(params.ProjectID)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid project_id: %w", err)
		}
		qb.AddCondition(columnProjectID, projectID)
	}
	if params.OwnerID != "" {
		qb.AddCondition(columnOwnerID, params.OwnerID)
	}
	if err := qb.AddTimeRange(columnRecordedAt, params.StartTime, params.EndTime); err != nil {
		return nil, 0, err
	}

	where := qb.WhereClause()
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total_count
		FROM registry_records
		%s
		ORDER BY %s ASC
		%s
	`, registryColumns, where, columnSequence, qb.Page(limit, offset))

	rows, err := s.conn.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query registry: %w", unavailable(err))
	}
	defer rows.Close()

	return scanRecords(rows, true)
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanRecords(rows rowsScanner, withTotal bool) ([]models.RegistryRecord, int64, error) {
	records := []models.RegistryRecord{}
	var total int64

	for rows.Next() {
		var (
			r      models.RegistryRecord
			status string
		)
		dest := []interface{}{&r.Sequence, &r.ID, &r.ProjectID, &r.ProjectName, &r.OwnerID, &r.VerifiedBy, &status, &r.Timestamp}
		if withTotal {
			dest = append(dest, &total)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("failed to scan registry record: %w", err)
		}
		r.Status = models.Status(status)
		r.Timestamp = r.Timestamp.UTC()
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating registry: %w", err)
	}

	return records, total, nil
}
