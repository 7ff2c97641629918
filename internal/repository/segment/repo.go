package segment

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/memex/internal/db/sqldb"
	"github.com/kailas-cloud/memex/internal/domain"
	domseg "github.com/kailas-cloud/memex/internal/domain/segment"
)

// maxIDsPerQuery keeps IN lists under SQLite's bound parameter limit.
const maxIDsPerQuery = 500

// Repo reads and writes segments in the metadata database.
type Repo struct {
	db *sqldb.DB
}

// New creates a segment repository.
func New(db *sqldb.DB) *Repo {
	return &Repo{db: db}
}

// InsertBatch stores segments in one transaction. Rows that already exist are
// left untouched, so re-processing a document is idempotent.
func (r *Repo) InsertBatch(ctx context.Context, segments []domseg.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	err := r.db.InTx(ctx, func(tx *sqldb.Tx) error {
		for i := range segments {
			s := &segments[i]
			_, err := tx.Exec(ctx, `
				INSERT INTO segments
					(id, document_id, task_id, collection, position, content, start_offset, end_offset, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING`,
				s.ID().String(), s.DocumentID().String(), s.TaskID(), s.Collection(),
				s.Position(), s.Content(), s.Start(), s.End(), sqldb.ToMicros(s.CreatedAt()))
			if err != nil {
				return fmt.Errorf("insert segment %s: %w", s.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert segments: %w", err)
	}
	return nil
}

// GetByIDs loads the segments that still exist among ids. Missing ids are
// absent from the result.
func (r *Repo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domseg.Segment, error) {
	out := make(map[uuid.UUID]domseg.Segment, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		if err := r.fetch(ctx, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) fetch(ctx context.Context, ids []uuid.UUID, out map[uuid.UUID]domseg.Segment) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, task_id, collection, position, content, start_offset, end_offset, created_at
		FROM segments WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return err
		}
		out[s.ID()] = s
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate segments: %w", err)
	}
	return nil
}

// ListByDocument returns a document's segments in position order.
func (r *Repo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domseg.Segment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, task_id, collection, position, content, start_offset, end_offset, created_at
		FROM segments WHERE document_id = ? ORDER BY position`, documentID.String())
	if err != nil {
		return nil, fmt.Errorf("list segments of %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []domseg.Segment
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}

// DeleteByDocument removes a document's segments and returns how many were deleted.
func (r *Repo) DeleteByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	res, err := r.db.Exec(ctx, "DELETE FROM segments WHERE document_id = ?", documentID.String())
	if err != nil {
		return 0, fmt.Errorf("delete segments of %s: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete segments of %s: %w", documentID, err)
	}
	return int(n), nil
}

func scan(rows *sql.Rows) (domseg.Segment, error) {
	var (
		rawID, rawDoc, collection, content string
		taskID, createdAt                  int64
		position, start, end               int
	)
	err := rows.Scan(&rawID, &rawDoc, &taskID, &collection, &position, &content, &start, &end, &createdAt)
	if err != nil {
		return domseg.Segment{}, fmt.Errorf("scan segment: %w", err)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return domseg.Segment{}, fmt.Errorf("segment id %q: %w", rawID, domain.ErrDataIntegrity)
	}
	docID, err := uuid.Parse(rawDoc)
	if err != nil {
		return domseg.Segment{}, fmt.Errorf("segment %s document id: %w", rawID, domain.ErrDataIntegrity)
	}
	return domseg.Reconstruct(id, docID, taskID, collection, position, content, start, end,
		sqldb.FromMicros(createdAt)), nil
}
