package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = sql.ErrNoRows

// Run is one processed item: the input as received, the result or the error,
// and the models that produced it.
type Run struct {
	ID          uuid.UUID
	Task        string
	Mode        string
	DetectModel string
	ReviseModel string
	Input       json.RawMessage
	// Result is nil when the item failed.
	Result json.RawMessage
	// IsHallucinated is nil for revise-only runs and failures.
	IsHallucinated *bool
	Error          string
	CreatedAt      time.Time
}

// RunRepo is a write-mostly audit trail of hallucination runs. Nothing in the
// pipeline reads it back.
type RunRepo struct{ DB *sql.DB }

func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{DB: db} }

// Insert stores r, assigning an id when r.ID is zero, and returns the stored id.
func (r *RunRepo) Insert(ctx context.Context, run *Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	input := run.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	var result any
	if len(run.Result) > 0 {
		result = []byte(run.Result)
	}
	const q = `
insert into hallu_runs(id, task, mode, detect_model, revise_model, input, result, is_hallucinated, error)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
returning created_at`
	err := r.DB.QueryRowContext(ctx, q,
		run.ID, run.Task, run.Mode, run.DetectModel, run.ReviseModel,
		[]byte(input), result, run.IsHallucinated, run.Error,
	).Scan(&run.CreatedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

const runColumns = `id, task, mode, detect_model, revise_model, input, result, is_hallucinated, error, created_at`

func (r *RunRepo) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := r.DB.QueryRowContext(ctx, `select `+runColumns+` from hallu_runs where id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRecent returns the newest runs first. An empty task matches every task.
func (r *RunRepo) ListRecent(ctx context.Context, task string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
select `+runColumns+`
from hallu_runs
where ($1 = '' or task = $1)
order by created_at desc
limit $2`, task, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run    Run
		input  []byte
		result []byte
		hallu  sql.NullBool
	)
	if err := s.Scan(&run.ID, &run.Task, &run.Mode, &run.DetectModel, &run.ReviseModel,
		&input, &result, &hallu, &run.Error, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Input = input
	if result != nil {
		run.Result = result
	}
	if hallu.Valid {
		v := hallu.Bool
		run.IsHallucinated = &v
	}
	return &run, nil
}
