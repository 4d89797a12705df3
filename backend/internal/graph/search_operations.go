package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgrag/backend/internal/state"
	apperrors "kgrag/backend/pkg/errors"
)

// DefaultRelationshipLimit caps the facts returned for one entity.
const DefaultRelationshipLimit = 50

const entityRelationshipsQuery = `
	MATCH (entity:__Entity__)
	WHERE toLower(entity.id) CONTAINS toLower($entity_name)
	WITH entity
	LIMIT 1
	CALL {
		WITH entity
		MATCH (entity)-[r]->(target:__Entity__)
		WHERE type(r) <> 'MENTIONS'
		RETURN entity.id + ' - ' + type(r) + ' -> ' + target.id AS relationship
		UNION ALL
		WITH entity
		MATCH (entity)<-[r]-(source:__Entity__)
		WHERE type(r) <> 'MENTIONS'
		RETURN source.id + ' - ' + type(r) + ' -> ' + entity.id AS relationship
	}
	RETURN relationship
	LIMIT $limit
`

// EntityRelationships finds the first entity whose id contains name
// (case-insensitive) and renders its outgoing and incoming relationships,
// MENTIONS excluded, as "source - TYPE -> target" lines. No matching entity
// yields an empty slice.
func (r *Repository) EntityRelationships(ctx context.Context, name string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultRelationshipLimit
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, entityRelationshipsQuery, map[string]any{
		"entity_name": name,
		"limit":       limit,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("entity relationships", err)
	}

	lines := []string{}
	for result.Next(ctx) {
		if rel := getStringFromRecord(result.Record(), "relationship"); rel != "" {
			lines = append(lines, rel)
		}
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphQueryFailed("entity relationships", err)
	}

	r.logger.Debug("Entity relationships",
		zap.String("entity", name),
		zap.Int("count", len(lines)),
	)
	return lines, nil
}

const hybridSearchQuery = `
	CALL {
		CALL db.index.vector.queryNodes($vector_index, $k, $embedding)
		YIELD node, score
		WITH collect({node: node, score: score}) AS nodes, max(score) AS max_score
		UNWIND nodes AS n
		RETURN n.node AS node, (n.score / max_score) AS score
		UNION
		CALL db.index.fulltext.queryNodes($keyword_index, $query, {limit: $k})
		YIELD node, score
		WITH collect({node: node, score: score}) AS nodes, max(score) AS max_score
		UNWIND nodes AS n
		RETURN n.node AS node, (n.score / max_score) AS score
	}
	WITH node, max(score) AS score
	ORDER BY score DESC, node.id ASC
	LIMIT $k
	RETURN node.id AS id, node.text AS text, score
`

const vectorSearchQuery = `
	CALL db.index.vector.queryNodes($vector_index, $k, $embedding)
	YIELD node, score
	RETURN node.id AS id, node.text AS text, score
	ORDER BY score DESC, id ASC
	LIMIT $k
`

// HybridSearch combines vector similarity on the chunk embeddings with a
// full-text query on the chunk text. Each side's scores are divided by its
// best score, a chunk found by both keeps the higher value, and the k best
// chunks are returned in descending score order. Text that is empty after
// stripping Lucene syntax falls back to vector search alone.
func (r *Repository) HybridSearch(ctx context.Context, text string, embedding []float32, k int) ([]state.Chunk, error) {
	if k <= 0 {
		return []state.Chunk{}, nil
	}

	query := hybridSearchQuery
	params := map[string]any{
		"vector_index":  VectorIndexName,
		"keyword_index": KeywordIndexName,
		"k":             k,
		"embedding":     toFloat64s(embedding),
	}
	keywords := removeLuceneChars(text)
	if keywords == "" {
		query = vectorSearchQuery
	} else {
		params["query"] = keywords
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("hybrid search", err)
	}

	chunks := []state.Chunk{}
	for result.Next(ctx) {
		record := result.Record()
		chunks = append(chunks, state.Chunk{
			ID:    getStringFromRecord(record, "id"),
			Text:  getStringFromRecord(record, "text"),
			Score: getFloat64FromRecord(record, "score"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphQueryFailed("hybrid search", err)
	}
	return chunks, nil
}

// SampleTriples returns up to limit entity-to-entity edges for display.
func (r *Repository) SampleTriples(ctx context.Context, limit int) ([]state.Triple, error) {
	if limit <= 0 {
		limit = DefaultRelationshipLimit
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:__Entity__)-[r]->(t:__Entity__)
		RETURN s.id AS source, labels(s) AS source_labels,
		       type(r) AS type,
		       t.id AS target, labels(t) AS target_labels
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("sample triples", err)
	}

	triples := []state.Triple{}
	for result.Next(ctx) {
		record := result.Record()
		triples = append(triples, state.Triple{
			Source:     getStringFromRecord(record, "source"),
			SourceType: typeLabel(getStringSliceFromRecord(record, "source_labels")),
			Type:       getStringFromRecord(record, "type"),
			Target:     getStringFromRecord(record, "target"),
			TargetType: typeLabel(getStringSliceFromRecord(record, "target_labels")),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphQueryFailed("sample triples", err)
	}
	return triples, nil
}

// typeLabel picks the entity's type label out of its label list.
func typeLabel(labels []string) string {
	for _, l := range labels {
		if l != EntityLabel {
			return l
		}
	}
	return ""
}
