package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgrag/backend/internal/state"
	apperrors "kgrag/backend/pkg/errors"
)

// DefaultRelationshipType replaces relationship types that sanitize to nothing.
const DefaultRelationshipType = "RELATED_TO"

// DocumentID returns the stored id of a chunk: its own ID when set, otherwise a
// name-based UUID of its text, so the same chunk always maps to the same node.
func DocumentID(doc state.Document) string {
	if doc.ID != "" {
		return doc.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(doc.Text)).String()
}

type labelGroup struct {
	label string
	ids   []string
}

type relGroup struct {
	relType string
	rows    []map[string]any
}

// groupNodesByLabel buckets node ids by sanitized type label, sorted by label.
// Nodes whose type sanitizes to nothing only receive the base entity label.
func groupNodesByLabel(nodes []state.Node) []labelGroup {
	byLabel := make(map[string][]string)
	seen := make(map[state.Node]bool)
	for _, n := range nodes {
		if n.ID == "" || seen[n] {
			continue
		}
		seen[n] = true
		label := sanitizeLabel(n.Type)
		byLabel[label] = append(byLabel[label], n.ID)
	}

	groups := make([]labelGroup, 0, len(byLabel))
	for label, ids := range byLabel {
		groups = append(groups, labelGroup{label: label, ids: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].label < groups[j].label })
	return groups
}

// groupRelationshipsByType buckets edges by sanitized relationship type.
func groupRelationshipsByType(rels []state.Relationship) []relGroup {
	byType := make(map[string][]map[string]any)
	for _, rel := range rels {
		if rel.Source.ID == "" || rel.Target.ID == "" {
			continue
		}
		relType := sanitizeLabel(rel.Type)
		if relType == "" {
			relType = DefaultRelationshipType
		}
		byType[relType] = append(byType[relType], map[string]any{
			"source": rel.Source.ID,
			"target": rel.Target.ID,
		})
	}

	groups := make([]relGroup, 0, len(byType))
	for relType, rows := range byType {
		groups = append(groups, relGroup{relType: relType, rows: rows})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].relType < groups[j].relType })
	return groups
}

// AddGraphDocuments stores each graph document in its own write transaction:
// the source chunk as a Document node, every entity under the base entity
// label plus its type label with a MENTIONS edge from the chunk, and every
// relationship between entities. All writes are MERGEs, so re-adding the same
// document changes nothing.
func (r *Repository) AddGraphDocuments(ctx context.Context, docs []state.GraphDocument) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stored := 0
	for i, doc := range docs {
		if err := doc.Validate(); err != nil {
			r.logger.Warn("Skipping graph document", zap.Int("index", i), zap.Error(err))
			continue
		}

		docID := DocumentID(doc.Source)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return nil, writeGraphDocument(ctx, tx, docID, doc)
		})
		if err != nil {
			return apperrors.NewGraphQueryFailed(fmt.Sprintf("add graph document %d", i), err)
		}
		stored++
	}

	r.logger.Info("Graph documents stored", zap.Int("documents", stored))
	return nil
}

func writeGraphDocument(ctx context.Context, tx neo4j.ManagedTransaction, docID string, doc state.GraphDocument) error {
	if err := run(ctx, tx, `
MERGE (d:Document {id: $id})
SET d.text = $text
SET d += $metadata
`, map[string]any{
		"id":       docID,
		"text":     doc.Source.Text,
		"metadata": metadataToProps(doc.Source.Metadata),
	}); err != nil {
		return err
	}

	for _, group := range groupNodesByLabel(doc.Nodes) {
		setLabel := ""
		if group.label != "" && group.label != EntityLabel {
			setLabel = fmt.Sprintf("SET e:`%s`", group.label)
		}
		query := fmt.Sprintf(`
MATCH (d:Document {id: $doc_id})
UNWIND $ids AS id
MERGE (e:%s {id: id})
%s
MERGE (d)-[:%s]->(e)
`, EntityLabel, setLabel, MentionsType)
		if err := run(ctx, tx, query, map[string]any{"doc_id": docID, "ids": group.ids}); err != nil {
			return err
		}
	}

	for _, group := range groupRelationshipsByType(doc.Relationships) {
		query := fmt.Sprintf(`
UNWIND $rels AS rel
MERGE (s:%s {id: rel.source})
MERGE (t:%s {id: rel.target})
MERGE (s)-[:`+"`%s`"+`]->(t)
`, EntityLabel, EntityLabel, group.relType)
		rows := make([]any, len(group.rows))
		for i, row := range group.rows {
			rows[i] = row
		}
		if err := run(ctx, tx, query, map[string]any{"rels": rows}); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// DocumentsWithoutEmbedding returns up to limit stored chunks that have no
// embedding yet.
func (r *Repository) DocumentsWithoutEmbedding(ctx context.Context, limit int) ([]state.Document, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.embedding IS NULL AND d.text IS NOT NULL
		RETURN d.id AS id, d.text AS text
		ORDER BY d.id
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("documents without embedding", err)
	}

	var docs []state.Document
	for result.Next(ctx) {
		record := result.Record()
		docs = append(docs, state.Document{
			ID:   getStringFromRecord(record, "id"),
			Text: getStringFromRecord(record, "text"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphQueryFailed("documents without embedding", err)
	}
	return docs, nil
}

// SetDocumentEmbeddings stores one vector per document id.
func (r *Repository) SetDocumentEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}

	rows := make([]any, 0, len(embeddings))
	for id, vector := range embeddings {
		rows = append(rows, map[string]any{"id": id, "embedding": toFloat64s(vector)})
	}

	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
UNWIND $rows AS row
MATCH (d:Document {id: row.id})
SET d.embedding = row.embedding
`, map[string]any{"rows": rows})
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("set document embeddings", err)
	}

	r.logger.Debug("Stored embeddings", zap.Int("count", len(rows)))
	return nil
}
