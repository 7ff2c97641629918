// Package task is the durable task queue. Every state change is a conditional
// UPDATE so that ownership is arbitrated by the database, not by process memory.
package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/memex/internal/db/sqldb"
	"github.com/kailas-cloud/memex/internal/domain"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	"github.com/kailas-cloud/memex/internal/repository/collection"
	"github.com/kailas-cloud/memex/internal/repository/document"
)

const columns = `id, document_id, collection, kind, status, error_kind, error_message,
	retries, output, created_at, updated_at`

// StaleMessage is the failure message of tasks that exhausted their requeue budget.
const StaleMessage = "stale processing task exceeded retry budget"

// Repo implements the task queue on the metadata database.
type Repo struct {
	db *sqldb.DB
}

// New creates a task repository.
func New(db *sqldb.DB) *Repo {
	return &Repo{db: db}
}

// Enqueue persists doc (creating its collection on first write) and a Queued
// task for it in one transaction.
func (r *Repo) Enqueue(ctx context.Context, doc domdoc.Document, kind domtask.Kind) (domtask.Task, error) {
	var t domtask.Task
	err := r.db.InTx(ctx, func(tx *sqldb.Tx) error {
		if err := collection.Ensure(ctx, tx, doc.Collection()); err != nil {
			return err
		}
		if err := document.Insert(ctx, tx, doc); err != nil {
			return err
		}
		var err error
		t, err = insert(ctx, tx, doc.ID(), doc.Collection(), kind)
		return err
	})
	if err != nil {
		return domtask.Task{}, fmt.Errorf("enqueue: %w", err)
	}
	return t, nil
}

// EnqueueExisting queues a new task for an already stored document.
func (r *Repo) EnqueueExisting(
	ctx context.Context, documentID uuid.UUID, collectionName string, kind domtask.Kind,
) (domtask.Task, error) {
	t, err := insert(ctx, r.db, documentID, collectionName, kind)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("enqueue existing: %w", err)
	}
	return t, nil
}

func insert(
	ctx context.Context, conn sqldb.Conn, documentID uuid.UUID, collectionName string, kind domtask.Kind,
) (domtask.Task, error) {
	now := sqldb.NowMicros()
	row := conn.QueryRow(ctx, `
		INSERT INTO tasks (document_id, collection, kind, status, retries, output, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '', ?, ?)
		RETURNING `+columns,
		documentID.String(), collectionName, string(kind), string(domtask.Queued), now, now)
	t, err := scan(row)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get loads a task by id.
func (r *Repo) Get(ctx context.Context, id int64) (domtask.Task, error) {
	t, err := scan(r.db.QueryRow(ctx, "SELECT "+columns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domtask.Task{}, fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
	}
	if err != nil {
		return domtask.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// Claim atomically moves the oldest Queued task to Processing and returns it.
// ok is false when the queue is empty or another worker won the race.
func (r *Repo) Claim(ctx context.Context) (t domtask.Task, ok bool, err error) {
	lock := ""
	if r.db.Dialect() == sqldb.Postgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	row := r.db.QueryRow(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks WHERE status = ? ORDER BY created_at, id LIMIT 1`+lock+`
		) AND status = ?
		RETURNING `+columns,
		string(domtask.Processing), sqldb.NowMicros(), string(domtask.Queued), string(domtask.Queued))

	t, err = scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domtask.Task{}, false, nil
	}
	if err != nil {
		return domtask.Task{}, false, fmt.Errorf("claim task: %w", err)
	}
	return t, true, nil
}

// Complete moves a Processing task to Completed with its output.
func (r *Repo) Complete(ctx context.Context, id int64, out domtask.Output) error {
	payload, err := out.Marshal()
	if err != nil {
		return err
	}
	res, err := r.db.Exec(ctx,
		"UPDATE tasks SET status = ?, output = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(domtask.Completed), payload, sqldb.NowMicros(), id, string(domtask.Processing))
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	return r.checkTransition(ctx, res, id, domtask.Completed)
}

// Fail moves a Processing task to Failed with an error summary.
func (r *Repo) Fail(ctx context.Context, id int64, detail domtask.ErrorDetail) error {
	res, err := r.db.Exec(ctx, `
		UPDATE tasks SET status = ?, error_kind = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domtask.Failed), string(detail.Kind), detail.Message, sqldb.NowMicros(),
		id, string(domtask.Processing))
	if err != nil {
		return fmt.Errorf("fail task %d: %w", id, err)
	}
	return r.checkTransition(ctx, res, id, domtask.Failed)
}

// checkTransition turns a zero-row conditional update into ErrTaskNotFound or
// ErrInvalidTransition.
func (r *Repo) checkTransition(ctx context.Context, res sql.Result, id int64, to domtask.Status) error {
	n, err := rowsAffected(res, fmt.Sprintf("task %d", id))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %d %s -> %s: %w", id, current.Status(), to, domain.ErrInvalidTransition)
}

func rowsAffected(res sql.Result, what string) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return int(n), nil
}

// RequeueResult summarizes a stale recovery pass.
type RequeueResult struct {
	Requeued int
	Failed   int
}

// RequeueStale recovers tasks stuck in Processing for longer than olderThan:
// tasks with fewer than maxRetries requeues go back to Queued, the rest fail.
func (r *Repo) RequeueStale(ctx context.Context, olderThan time.Duration, maxRetries int) (RequeueResult, error) {
	var out RequeueResult
	now := sqldb.NowMicros()
	cutoff := sqldb.ToMicros(time.Now().Add(-olderThan))

	err := r.db.InTx(ctx, func(tx *sqldb.Tx) error {
		res, err := tx.Exec(ctx, `
			UPDATE tasks SET status = ?, error_kind = ?, error_message = ?, updated_at = ?
			WHERE status = ? AND updated_at < ? AND retries >= ?`,
			string(domtask.Failed), string(domain.KindTransientBackend), StaleMessage, now,
			string(domtask.Processing), cutoff, maxRetries)
		if err != nil {
			return fmt.Errorf("fail stale tasks: %w", err)
		}
		failed, err := rowsAffected(res, "fail stale tasks")
		if err != nil {
			return err
		}

		res, err = tx.Exec(ctx, `
			UPDATE tasks SET status = ?, retries = retries + 1, updated_at = ?
			WHERE status = ? AND updated_at < ? AND retries < ?`,
			string(domtask.Queued), now,
			string(domtask.Processing), cutoff, maxRetries)
		if err != nil {
			return fmt.Errorf("requeue stale tasks: %w", err)
		}
		requeued, err := rowsAffected(res, "requeue stale tasks")
		if err != nil {
			return err
		}

		out = RequeueResult{Requeued: requeued, Failed: failed}
		return nil
	})
	if err != nil {
		return RequeueResult{}, err
	}
	return out, nil
}

// CountByStatus returns the number of tasks in each status.
func (r *Repo) CountByStatus(ctx context.Context) (map[domtask.Status]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[domtask.Status]int, 4)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[domtask.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return out, nil
}

func scan(row *sql.Row) (domtask.Task, error) {
	var (
		id                   int64
		docID, col           string
		kind, status         string
		errKind, errMessage  sql.NullString
		retries              int
		output               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&id, &docID, &col, &kind, &status, &errKind, &errMessage,
		&retries, &output, &createdAt, &updatedAt)
	if err != nil {
		return domtask.Task{}, err
	}

	parsedDoc, err := uuid.Parse(docID)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("task %d document id: %w", id, domain.ErrDataIntegrity)
	}
	out, err := domtask.ParseOutput(output)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("task %d: %w", id, err)
	}

	var detail *domtask.ErrorDetail
	if errKind.Valid {
		detail = &domtask.ErrorDetail{Kind: domain.ErrorKind(errKind.String), Message: errMessage.String}
	}

	return domtask.Reconstruct(
		id, parsedDoc, col, domtask.Kind(kind), domtask.Status(status),
		detail, retries, out, sqldb.FromMicros(createdAt), sqldb.FromMicros(updatedAt),
	), nil
}
