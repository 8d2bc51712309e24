package profileupsert

import (
	"context"
	"database/sql"

	"advertiser-onboarding/internal/common/logger"
)

// SearchIndexer copies documents into the search cluster.
type SearchIndexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

type ServiceDependencies struct {
	DB *sql.DB
	// Indexer is optional.
	Indexer SearchIndexer
	Logger  logger.Logger
}
