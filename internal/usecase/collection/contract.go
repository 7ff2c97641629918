package collection

import (
	"context"

	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
)

// Repository defines the metadata contract for collections.
type Repository interface {
	List(ctx context.Context) ([]domcol.Collection, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// VectorDropper removes a collection's vector namespace.
type VectorDropper interface {
	DropCollection(ctx context.Context, collection string) error
}
