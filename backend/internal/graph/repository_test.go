package graph

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/backend/internal/state"
)

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"Person":        "Person",
		"Royal House":   "Royal_House",
		"SPOUSE_OF":     "SPOUSE_OF",
		"x`) DETACH (y": "x_DETACH_y",
		"1st Army":      "_1st_Army",
		"  ":            "",
		"co-ruler":      "co_ruler",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeLabel(in), in)
	}
}

func TestRemoveLuceneChars(t *testing.T) {
	assert.Equal(t, "Who was Elizabeth I", removeLuceneChars("Who was Elizabeth I?"))
	assert.Equal(t, "Tudor Stuart", removeLuceneChars(`Tudor && "Stuart"~`))
	assert.Equal(t, "", removeLuceneChars("?!*"))
}

func TestDocumentID(t *testing.T) {
	a := DocumentID(state.Document{Text: "Elizabeth was born at Greenwich."})
	b := DocumentID(state.Document{Text: "Elizabeth was born at Greenwich."})
	c := DocumentID(state.Document{Text: "Something else."})

	assert.Equal(t, a, b, "same text gives the same id")
	assert.NotEqual(t, a, c)
	assert.Equal(t, "given", DocumentID(state.Document{ID: "given", Text: "x"}))
}

func TestGroupNodesByLabel(t *testing.T) {
	groups := groupNodesByLabel([]state.Node{
		{ID: "Elizabeth I", Type: "Person"},
		{ID: "England", Type: "Country"},
		{ID: "Henry Viii", Type: "Person"},
		{ID: "Elizabeth I", Type: "Person"},
		{ID: "", Type: "Person"},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "Country", groups[0].label)
	assert.Equal(t, []string{"England"}, groups[0].ids)
	assert.Equal(t, "Person", groups[1].label)
	assert.Equal(t, []string{"Elizabeth I", "Henry Viii"}, groups[1].ids)
}

func TestGroupRelationshipsByType(t *testing.T) {
	eliz := state.Node{ID: "Elizabeth I", Type: "Person"}
	groups := groupRelationshipsByType([]state.Relationship{
		{Source: eliz, Target: state.Node{ID: "England"}, Type: "QUEEN_OF"},
		{Source: eliz, Target: state.Node{ID: "Henry Viii"}, Type: "CHILD_OF"},
		{Source: eliz, Target: state.Node{ID: "Anne Boleyn"}, Type: "CHILD_OF"},
		{Source: eliz, Target: state.Node{ID: "Robert Dudley"}, Type: "!!"},
	})

	require.Len(t, groups, 3)
	assert.Equal(t, "CHILD_OF", groups[0].relType)
	assert.Len(t, groups[0].rows, 2)
	assert.Equal(t, "QUEEN_OF", groups[1].relType)
	assert.Equal(t, DefaultRelationshipType, groups[2].relType)
}

func TestMetadataToProps(t *testing.T) {
	props := metadataToProps(map[string]string{
		"title":  "Elizabeth I",
		"source": "https://en.wikipedia.org/wiki/Elizabeth_I",
		"text":   "must not overwrite",
		"id":     "must not overwrite",
	})
	assert.Equal(t, map[string]any{
		"title":  "Elizabeth I",
		"source": "https://en.wikipedia.org/wiki/Elizabeth_I",
	}, props)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(fmt.Sprintf(schemaScript, 384))
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[2], "`vector.dimensions`: 384")
	assert.Contains(t, stmts[3], "CREATE FULLTEXT INDEX `keyword`")
	for _, s := range stmts {
		assert.NotContains(t, s, "//")
		assert.NotContains(t, s, "/*")
	}
}

func TestTypeLabel(t *testing.T) {
	assert.Equal(t, "Person", typeLabel([]string{EntityLabel, "Person"}))
	assert.Equal(t, "", typeLabel([]string{EntityLabel}))
}

// The tests below require a running Neo4j 5.x instance.
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables

func TestRepository_AddGraphDocumentsAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not available: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, "")
	suffix := time.Now().Format("20060102150405")
	queen := "Test Queen " + suffix
	realm := "Test Realm " + suffix
	chunk := state.Document{Text: "Test Queen ruled Test Realm. " + suffix, Metadata: map[string]string{"title": "test"}}

	defer func() {
		session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)
		_, _ = session.Run(ctx, "MATCH (n) WHERE n.id IN $ids DETACH DELETE n",
			map[string]any{"ids": []string{queen, realm, DocumentID(chunk)}})
	}()

	doc := state.GraphDocument{
		Nodes: []state.Node{{ID: queen, Type: "Person"}, {ID: realm, Type: "Country"}},
		Relationships: []state.Relationship{{
			Source: state.Node{ID: queen, Type: "Person"},
			Target: state.Node{ID: realm, Type: "Country"},
			Type:   "QUEEN_OF",
		}},
		Source: chunk,
	}
	require.NoError(t, repo.AddGraphDocuments(ctx, []state.GraphDocument{doc}))
	// Second insert must not duplicate anything
	require.NoError(t, repo.AddGraphDocuments(ctx, []state.GraphDocument{doc}))

	empty, err := repo.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	lines, err := repo.EntityRelationships(ctx, "test queen "+suffix, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{queen + " - QUEEN_OF -> " + realm}, lines)

	lines, err = repo.EntityRelationships(ctx, realm, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{queen + " - QUEEN_OF -> " + realm}, lines, "incoming edges are rendered from the source side")

	lines, err = repo.EntityRelationships(ctx, "no such entity "+suffix, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestRepository_EnsureSchemaIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not available: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, "")
	require.NoError(t, repo.EnsureSchema(ctx, 384))
	require.NoError(t, repo.EnsureSchema(ctx, 384))
}

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := envOr("NEO4J_URI", "bolt://localhost:7687")
	user := envOr("NEO4J_USER", "neo4j")
	password := envOr("NEO4J_PASSWORD", "password")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Connect(ctx, uri, user, password)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
