package answer

import (
	"context"

	"github.com/kailas-cloud/memex/internal/chunk"
	"github.com/kailas-cloud/memex/internal/domain/search/result"
	"github.com/kailas-cloud/memex/internal/usecase/query"
)

// Searcher retrieves context segments for a question.
type Searcher interface {
	Search(ctx context.Context, req query.Request) ([]result.Result, error)
}

// Splitter cuts long inputs into pieces that fit one completion call.
type Splitter interface {
	Split(text string) []chunk.Chunk
}
