package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/terminail/autodroid-sub001/internal/script"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// SQLiteStore keeps the execution history in the execution_results table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const resultColumns = `
	task_id, workplan_id, device_id, script_name, status, message,
	error_type, error_detail, failed_step_index, failed_step_name,
	engine_version, device_lost, started_at, ended_at, execution_time,
	steps, artifacts, data`

// Save inserts a result. A task id is written once; saving it again fails.
func (s *SQLiteStore) Save(ctx context.Context, res script.Result) error {
	steps, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}
	artifacts, err := marshalNullable(res.Artifacts, len(res.Artifacts) == 0)
	if err != nil {
		return fmt.Errorf("marshalling artifacts: %w", err)
	}
	data, err := marshalNullable(res.Data, len(res.Data) == 0)
	if err != nil {
		return fmt.Errorf("marshalling data: %w", err)
	}

	query := `INSERT INTO execution_results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		res.TaskID,
		res.WorkplanID,
		res.DeviceID,
		res.ScriptName,
		string(res.Status),
		res.Message,
		nullableString(res.ErrorType),
		nullableString(res.ErrorDetail),
		nullableInt(res.FailedStepIndex),
		nullableString(res.FailedStepName),
		res.EngineVersion,
		boolToInt(res.DeviceLost),
		res.StartTime.UTC().Format(time.RFC3339Nano),
		res.EndTime.UTC().Format(time.RFC3339Nano),
		res.ExecutionTime,
		string(steps),
		artifacts,
		data,
	)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// Get returns the result for a task.
func (s *SQLiteStore) Get(ctx context.Context, taskID string) (*script.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM execution_results WHERE task_id = ?`, taskID)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("querying result: %w", err)
	}
	return res, nil
}

// Recent returns the newest results, optionally for one device.
func (s *SQLiteStore) Recent(ctx context.Context, deviceID string, limit int) ([]script.Result, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `SELECT ` + resultColumns + ` FROM execution_results`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []script.Result
	for rows.Next() {
		res, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning result: %w", scanErr)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return out, nil
}

// StatusCounts returns the number of stored results per status.
func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[script.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM execution_results GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting results: %w", err)
	}
	defer rows.Close()

	counts := make(map[script.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[script.Status(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*script.Result, error) {
	var (
		res                     script.Result
		status                  string
		errorType, errorDetail  sql.NullString
		failedIndex             sql.NullInt64
		failedName              sql.NullString
		deviceLost              int
		startedAt, endedAt      string
		steps                   string
		artifactsJSON, dataJSON sql.NullString
	)
	err := row.Scan(
		&res.TaskID,
		&res.WorkplanID,
		&res.DeviceID,
		&res.ScriptName,
		&status,
		&res.Message,
		&errorType,
		&errorDetail,
		&failedIndex,
		&failedName,
		&res.EngineVersion,
		&deviceLost,
		&startedAt,
		&endedAt,
		&res.ExecutionTime,
		&steps,
		&artifactsJSON,
		&dataJSON,
	)
	if err != nil {
		return nil, err
	}

	res.Status = script.Status(status)
	res.ErrorType = errorType.String
	res.ErrorDetail = errorDetail.String
	res.FailedStepName = failedName.String
	res.DeviceLost = deviceLost != 0
	if failedIndex.Valid {
		idx := int(failedIndex.Int64)
		res.FailedStepIndex = &idx
	}

	if res.StartTime, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if res.EndTime, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return nil, fmt.Errorf("parsing ended_at: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &res.Steps); err != nil {
		return nil, fmt.Errorf("unmarshalling steps: %w", err)
	}
	if artifactsJSON.Valid {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &res.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshalling artifacts: %w", err)
		}
	}
	if dataJSON.Valid {
		if err := json.Unmarshal([]byte(dataJSON.String), &res.Data); err != nil {
			return nil, fmt.Errorf("unmarshalling data: %w", err)
		}
	}
	return &res, nil
}

// ─── SQL Helpers ───────────────────────────────────────────────────

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
