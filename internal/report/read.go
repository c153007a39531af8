package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	Scenario string
	Limit    int
}

// ListRuns returns recorded runs, newest first.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.Scenario != "" {
		where = append(where, "scenario = ?")
		args = append(args, filter.Scenario)
	}

	query := `
		SELECT id, seq, scenario, run_id, pass, timed_out, digest, errors, state, recorded_at
		FROM runs`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq DESC"
	if filter.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, scenario, run_id, pass, timed_out, digest, errors, state, recorded_at
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// RunActions returns the caught actions of a run in trace order.
// Returns an empty slice (not nil) for unknown runs.
func (s *Store) RunActions(ctx context.Context, id string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, payload
		FROM run_actions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query run actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var (
			a       Action
			payload sql.NullString
		)
		if err := rows.Scan(&a.Seq, &a.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan run action: %w", err)
		}
		a.Payload = payload.String
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run actions: %w", err)
	}
	return actions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run        Run
		errorsJSON string
		stateJSON  string
		recordedAt string
	)
	err := row.Scan(
		&run.ID,
		&run.Seq,
		&run.Scenario,
		&run.RunID,
		&run.Pass,
		&run.TimedOut,
		&run.Digest,
		&errorsJSON,
		&stateJSON,
		&recordedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
		return Run{}, fmt.Errorf("unmarshal errors of run %s: %w", run.ID, err)
	}
	if err := unmarshalState(stateJSON, &run.State); err != nil {
		return Run{}, fmt.Errorf("unmarshal state of run %s: %w", run.ID, err)
	}
	run.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse recorded_at of run %s: %w", run.ID, err)
	}
	return run, nil
}

// unmarshalState decodes numbers as int64, matching how the harness
// compares scenario values.
func unmarshalState(data string, state *map[string]any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*state = normalizeNumbers(raw).(map[string]any)
	return nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		return val.String()
	case map[string]any:
		for k, elem := range val {
			val[k] = normalizeNumbers(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = normalizeNumbers(elem)
		}
		return val
	default:
		return v
	}
}
