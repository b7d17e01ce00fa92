package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const (
	insertRunSQL = `INSERT INTO evaluation_runs (
        id,
        evaluated_at,
        latest_week,
        samples,
        dropped,
        alerting,
        failures
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listRecentRunsSQL = `SELECT
        id,
        evaluated_at,
        latest_week,
        samples,
        dropped,
        alerting,
        failures,
        created_at
    FROM evaluation_runs
    ORDER BY evaluated_at DESC
    LIMIT $1;`

	listWeeklySeriesSQL = `SELECT
        w.run_id,
        w.week,
        w.antibiotic,
        w.total_tested,
        w.resistant_count,
        w.resistance_pct::text
    FROM weekly_resistance w
    WHERE w.run_id = $1
      AND w.antibiotic = $2
    ORDER BY w.week;`

	insertAlertSQL = `INSERT INTO alerts (
        run_id,
        antibiotic,
        month,
        last_value,
        mean,
        stddev,
        threshold,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (antibiotic, month) DO NOTHING
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        run_id,
        antibiotic,
        month,
        last_value::text,
        mean::text,
        stddev::text,
        threshold::text,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines operations for evaluation run persistence.
type RunStore interface {
	InsertRun(ctx context.Context, run EvaluationRun, points []WeeklyPoint) error
	ListRecentRuns(ctx context.Context, limit int) ([]EvaluationRun, error)
	ListWeeklySeries(ctx context.Context, runID uuid.UUID, antibiotic string) ([]WeeklyPoint, error)
}

// AlertStore defines operations for alert auditing. InsertAlert reports
// inserted=false when the antibiotic already alerted for that month.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to evaluation runs and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock also ends with the connection, so a failed unlock is not fatal
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRun persists a run and its weekly points in one transaction.
func (s *Store) InsertRun(ctx context.Context, run EvaluationRun, points []WeeklyPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertRunSQL,
		toUUID(run.ID),
		run.EvaluatedAt,
		run.LatestWeek,
		run.Samples,
		run.Dropped,
		run.Alerting,
		run.Failures,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(points) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"weekly_resistance"},
			[]string{"run_id", "week", "antibiotic", "total_tested", "resistant_count", "resistance_pct"},
			pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
				p := points[i]
				return []any{
					toUUID(run.ID),
					p.Week,
					p.Antibiotic,
					p.TotalTested,
					p.ResistantCount,
					toNullNumeric(p.ResistancePct),
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy weekly points: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run tx: %w", err)
	}
	return nil
}

// ListRecentRuns lists the most recent runs ordered by descending evaluation time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]EvaluationRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]EvaluationRun, 0, limit)
	for rows.Next() {
		var (
			run EvaluationRun
			id  pgtype.UUID
		)
		if err := rows.Scan(
			&id,
			&run.EvaluatedAt,
			&run.LatestWeek,
			&run.Samples,
			&run.Dropped,
			&run.Alerting,
			&run.Failures,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		run.ID = fromUUID(id)
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ListWeeklySeries returns the persisted weekly series of one antibiotic for a run.
func (s *Store) ListWeeklySeries(ctx context.Context, runID uuid.UUID, antibiotic string) ([]WeeklyPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWeeklySeriesSQL, toUUID(runID), antibiotic)
	if queryErr != nil {
		return nil, fmt.Errorf("list weekly series: %w", queryErr)
	}
	defer rows.Close()

	points := make([]WeeklyPoint, 0)
	for rows.Next() {
		var (
			p      WeeklyPoint
			id     pgtype.UUID
			pctStr *string
		)
		if err := rows.Scan(&id, &p.Week, &p.Antibiotic, &p.TotalTested, &p.ResistantCount, &pctStr); err != nil {
			return nil, err
		}
		p.RunID = fromUUID(id)
		if pctStr != nil {
			pct, convErr := decimal.NewFromString(*pctStr)
			if convErr != nil {
				return nil, fmt.Errorf("parse resistance pct: %w", convErr)
			}
			p.ResistancePct = decimal.NewNullDecimal(pct)
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// InsertAlert persists an alert emission unless one already exists for the
// same antibiotic and month.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	var runID any
	if alert.RunID != uuid.Nil {
		runID = toUUID(alert.RunID)
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		runID,
		alert.Antibiotic,
		alert.Month,
		toNumeric(alert.LastValue),
		toNumeric(alert.Mean),
		toNumeric(alert.StdDev),
		toNumeric(alert.Threshold),
		channels,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return alert, false, nil
		}
		return AlertRecord{}, false, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                             AlertRecord
			runID                           pgtype.UUID
			lastStr, meanStr, sdStr, thrStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&runID,
			&rec.Antibiotic,
			&rec.Month,
			&lastStr,
			&meanStr,
			&sdStr,
			&thrStr,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.RunID = fromUUID(runID)

		for _, f := range []struct {
			raw  string
			dst  *decimal.Decimal
			name string
		}{
			{lastStr, &rec.LastValue, "last value"},
			{meanStr, &rec.Mean, "mean"},
			{sdStr, &rec.StdDev, "stddev"},
			{thrStr, &rec.Threshold, "threshold"},
		} {
			value, convErr := decimal.NewFromString(f.raw)
			if convErr != nil {
				return nil, fmt.Errorf("parse %s: %w", f.name, convErr)
			}
			*f.dst = value
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func toNullNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return toNumeric(d.Decimal)
}

func toUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}

func fromUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}

var (
	_ RunStore       = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
