package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const schemaScript = `
// Entity and chunk identity
CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:__Entity__) REQUIRE e.id IS UNIQUE;
CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE;

/* Similarity search over chunk embeddings */
CREATE VECTOR INDEX ` + "`vector`" + ` IF NOT EXISTS FOR (d:Document) ON (d.embedding)
OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: %d, ` + "`vector.similarity_function`" + `: 'cosine'}};

// Keyword side of hybrid search
CREATE FULLTEXT INDEX ` + "`keyword`" + ` IF NOT EXISTS FOR (d:Document) ON EACH [d.text];
`

// EnsureSchema creates the constraints and the vector and full-text indexes
// used by ingestion and retrieval. Every statement is idempotent; failures are
// logged and skipped so an older server still gets whatever it supports.
func (r *Repository) EnsureSchema(ctx context.Context, dimensions int) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := splitStatements(fmt.Sprintf(schemaScript, dimensions))
	failed := 0
	for i, stmt := range statements {
		result, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			r.logger.Warn("Schema statement failed",
				zap.Int("statement", i+1),
				zap.String("cypher", firstLine(stmt)),
				zap.Error(err),
			)
		}
	}

	// Newly created indexes populate in the background
	if result, err := session.Run(ctx, "CALL db.awaitIndexes(300)", nil); err == nil {
		_, _ = result.Consume(ctx)
	}

	r.logger.Info("Schema ensured",
		zap.Int("statements", len(statements)),
		zap.Int("failed", failed),
		zap.Int("dimensions", dimensions),
	)
	return nil
}

// splitStatements splits a Cypher script into individual statements
func splitStatements(script string) []string {
	lines := strings.Split(script, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		cleaned = append(cleaned, line)
	}

	var statements []string
	for _, part := range strings.Split(removeMultiLineComments(strings.Join(cleaned, "\n")), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// removeMultiLineComments removes /* */ style comments
func removeMultiLineComments(text string) string {
	for {
		start := strings.Index(text, "/*")
		if start < 0 {
			break
		}
		end := strings.Index(text[start+2:], "*/")
		if end < 0 {
			break
		}
		text = text[:start] + text[start+end+4:]
	}
	return text
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
