package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "kgrag/backend/pkg/errors"
	"kgrag/backend/pkg/logger"
)

const (
	// EntityLabel is added to every extracted entity next to its type label.
	EntityLabel = "__Entity__"
	// DocumentLabel marks stored chunks.
	DocumentLabel = "Document"
	// MentionsType links a chunk to the entities extracted from it.
	MentionsType = "MENTIONS"

	VectorIndexName  = "vector"
	KeywordIndexName = "keyword"
)

// Repository handles all Neo4j database operations
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// Connect opens a driver and verifies that the server is reachable.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	return driver, nil
}

// NewRepository creates a new graph repository. An empty database selects the
// server default.
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
}

// IsEmpty reports whether the database holds no nodes at all.
func (r *Repository) IsEmpty(ctx context.Context) (bool, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (n) RETURN count(n) AS count", nil)
	if err != nil {
		return false, apperrors.NewGraphQueryFailed("count nodes", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return false, apperrors.NewGraphQueryFailed("count nodes", err)
	}

	count := getInt64FromRecord(record, "count")
	r.logger.Debug("Counted graph nodes", zap.Int64("count", count))
	return count == 0, nil
}
