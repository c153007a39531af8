package report

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/storetest/internal/harness"
)

// Run is one recorded scenario execution.
type Run struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	Scenario   string         `json:"scenario"`
	RunID      string         `json:"run_id,omitempty"`
	Pass       bool           `json:"pass"`
	TimedOut   bool           `json:"timed_out"`
	Digest     string         `json:"digest"`
	Errors     []string       `json:"errors"`
	State      map[string]any `json:"state"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Action is one caught action of a recorded run. Payload is canonical JSON,
// empty when the action had none.
type Action struct {
	Seq     int    `json:"seq"`
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// RecordRun stores a scenario result and its trace in one transaction.
// The run's seq is one past the highest recorded seq.
func (s *Store) RecordRun(ctx context.Context, scenario *harness.Scenario, result *harness.Result) (Run, error) {
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := harness.MarshalCanonical(errs)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}

	state := result.State
	if state == nil {
		state = map[string]any{}
	}
	stateJSON, err := harness.MarshalCanonical(state)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}

	run := Run{
		ID:         s.newID(),
		Scenario:   scenario.Name,
		RunID:      scenario.RunID,
		Pass:       result.Pass,
		TimedOut:   result.TimedOut,
		Digest:     result.Digest,
		Errors:     errs,
		State:      state,
		RecordedAt: s.clock.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("record run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, scenario, run_id, pass, timed_out, digest, errors, state, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.Scenario,
		run.RunID,
		run.Pass,
		run.TimedOut,
		run.Digest,
		string(errorsJSON),
		string(stateJSON),
		run.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}

	for _, event := range result.Trace {
		var payload any
		if event.Payload != nil {
			data, err := harness.MarshalCanonical(event.Payload)
			if err != nil {
				return Run{}, fmt.Errorf("record run: action %d: %w", event.Seq, err)
			}
			payload = string(data)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_actions (run_id, seq, type, payload)
			VALUES (?, ?, ?, ?)
		`, run.ID, event.Seq, event.Type, payload)
		if err != nil {
			return Run{}, fmt.Errorf("record run: action %d: %w", event.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("record run: commit: %w", err)
	}
	return run, nil
}
