package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lizheng/media-analyst/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyStored = errors.New("already stored")
)

// Execution is the persisted summary of one worker run.
type Execution struct {
	UUID      string          `json:"id"`
	Platform  model.Platform  `json:"platform"`
	Mode      model.Mode      `json:"mode"`
	Target    string          `json:"target"`
	Status    model.Status    `json:"status"`
	Reason    model.Reason    `json:"reason,omitempty"`
	ExitCode  *int            `json:"exit_code,omitempty"`
	Message   *string         `json:"message,omitempty"`
	Tail      []string        `json:"stderr_tail,omitempty"`
	Args      []string        `json:"args"`
	Request   json.RawMessage `json:"request"`
	Lines     int             `json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
	StartTime *time.Time      `json:"start_time,omitempty"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

type ExecutionRow struct {
	Execution
	ID int `json:"-"`
}

func (r ExecutionRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, platform: %s, mode: %s, status: %s", r.UUID, r.Platform, r.Mode, r.Status)
	if r.Reason != model.ReasonNone {
		fmt.Fprintf(&sb, ", reason: %s", r.Reason)
	}
	if r.ExitCode != nil {
		fmt.Fprintf(&sb, ", exit_code: %d", *r.ExitCode)
	} else {
		sb.WriteString(", exit_code: nil")
	}
	return sb.String()
}

// FromModel converts an execution snapshot into its persisted form.
func FromModel(e *model.Execution) (Execution, error) {
	req, err := json.Marshal(e.Request)
	if err != nil {
		return Execution{}, fmt.Errorf("encoding request: %w", err)
	}
	ret := Execution{
		UUID:      e.ID,
		Platform:  e.Request.Common().Platform,
		Mode:      e.Request.Mode(),
		Target:    e.Request.Target(),
		Status:    e.Status,
		Reason:    e.Reason,
		ExitCode:  e.ExitCode,
		Tail:      e.Tail,
		Args:      e.Args,
		Request:   req,
		Lines:     len(e.Output),
		CreatedAt: e.CreatedAt,
	}
	if e.Message != "" {
		ret.Message = &e.Message
	}
	if !e.StartTime.IsZero() {
		ret.StartTime = &e.StartTime
	}
	if !e.EndTime.IsZero() {
		ret.EndTime = &e.EndTime
	}
	return ret, nil
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL,
			mode TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			exit_code INTEGER DEFAULT NULL,
			message TEXT DEFAULT NULL,
			stderr_tail TEXT DEFAULT NULL,
			args TEXT NOT NULL,
			request TEXT NOT NULL,
			lines INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			start_time TEXT DEFAULT NULL,
			end_time TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("execution_id", uuid))
	}
}

// Put stores a terminal execution. An execution is stored once,
// ErrAlreadyStored is returned when its uuid is already present.
func Put(ctx context.Context, db *sql.DB, e Execution) error {
	if !e.Status.Terminal() {
		return fmt.Errorf("execution %s: status %s is not terminal", e.UUID, e.Status)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, e.UUID)

	var n int
	row := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE uuid=?`, e.UUID,
	)
	if err := row.Scan(&n); err != nil {
		return fmt.Errorf("executing sql query failed: %w", err)
	}
	if n > 0 {
		return ErrAlreadyStored
	}

	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}
	var tail *string
	if len(e.Tail) > 0 {
		b, err := json.Marshal(e.Tail)
		if err != nil {
			return fmt.Errorf("encoding stderr tail: %w", err)
		}
		ts := string(b)
		tail = &ts
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (
			uuid, platform, mode, target, status, reason, exit_code, message, stderr_tail,
			args, request, lines, created_at, start_time, end_time
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.UUID, e.Platform, e.Mode, e.Target, e.Status, e.Reason, e.ExitCode, e.Message, tail,
		string(args), string(e.Request), e.Lines,
		formatTime(&e.CreatedAt), formatTime(e.StartTime), formatTime(e.EndTime),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const columns = `id, uuid, platform, mode, target, status, reason, exit_code, message, stderr_tail,
	args, request, lines, created_at, start_time, end_time`

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (ExecutionRow, error) {
	var r ExecutionRow
	var platform, mode, status, reason, args, request, created string
	var tail, start, end sql.NullString
	err := s.Scan(
		&r.ID,
		&r.UUID,
		&platform,
		&mode,
		&r.Target,
		&status,
		&reason,
		&r.ExitCode,
		&r.Message,
		&tail,
		&args,
		&request,
		&r.Lines,
		&created,
		&start,
		&end,
	)
	if err != nil {
		return ExecutionRow{}, err
	}
	r.Platform = model.Platform(platform)
	r.Mode = model.Mode(mode)
	r.Status = model.Status(status)
	r.Reason = model.Reason(reason)
	r.Request = json.RawMessage(request)
	if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
		return ExecutionRow{}, fmt.Errorf("decoding args of %s: %w", r.UUID, err)
	}
	if tail.Valid {
		if err := json.Unmarshal([]byte(tail.String), &r.Tail); err != nil {
			return ExecutionRow{}, fmt.Errorf("decoding stderr_tail of %s: %w", r.UUID, err)
		}
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return ExecutionRow{}, fmt.Errorf("decoding created_at of %s: %w", r.UUID, err)
	}
	if r.StartTime, err = parseTime(start); err != nil {
		return ExecutionRow{}, fmt.Errorf("decoding start_time of %s: %w", r.UUID, err)
	}
	if r.EndTime, err = parseTime(end); err != nil {
		return ExecutionRow{}, fmt.Errorf("decoding end_time of %s: %w", r.UUID, err)
	}
	return r, nil
}

// Get returns the execution identified by 'uuid' or ErrNotFound.
func Get(ctx context.Context, db *sql.DB, uuid string) (ExecutionRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM executions WHERE uuid=?`, uuid,
	)
	r, err := scan(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ExecutionRow{}, ErrNotFound
	case err != nil:
		return ExecutionRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Platform model.Platform
	Status   model.Status
	Limit    int
}

// List returns the stored executions, newest first.
func List(ctx context.Context, db *sql.DB, f Filter) ([]ExecutionRow, error) {
	var where []string
	var args []any
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, f.Platform)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + columns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ret []ExecutionRow
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sql rows failed: %w", err)
	}
	return ret, nil
}

func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM executions WHERE uuid=?`, uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}

	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}
	return nil
}

// fixed width, so that the text columns sort in time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
