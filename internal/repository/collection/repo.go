package collection

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/memex/internal/db/sqldb"
	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
)

// Repo persists collections in the metadata database.
type Repo struct {
	db *sqldb.DB
}

// New creates a collection repository.
func New(db *sqldb.DB) *Repo {
	return &Repo{db: db}
}

// Ensure creates the collection if it does not exist yet.
func (r *Repo) Ensure(ctx context.Context, name string) error {
	return Ensure(ctx, r.db, name)
}

// Ensure inserts the collection row through conn, ignoring an existing one.
// Exposed so that enqueue can create the collection inside its transaction.
func Ensure(ctx context.Context, conn sqldb.Conn, name string) error {
	_, err := conn.Exec(ctx,
		"INSERT INTO collections (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING",
		name, sqldb.NowMicros())
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the collection has been created.
func (r *Repo) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM collections WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	return n > 0, nil
}

// List returns all collections ordered by name.
func (r *Repo) List(ctx context.Context) ([]domcol.Collection, error) {
	rows, err := r.db.Query(ctx, "SELECT name, created_at FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []domcol.Collection
	for rows.Next() {
		var (
			name      string
			createdAt int64
		)
		if err := rows.Scan(&name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, domcol.Reconstruct(name, sqldb.FromMicros(createdAt)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return out, nil
}

// Delete removes the collection; documents, tasks and segments cascade.
// Returns false when the collection did not exist.
func (r *Repo) Delete(ctx context.Context, name string) (bool, error) {
	res, err := r.db.Exec(ctx, "DELETE FROM collections WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete collection %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete collection %s: %w", name, err)
	}
	return n > 0, nil
}
