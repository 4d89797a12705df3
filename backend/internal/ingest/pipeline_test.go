package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/backend/internal/state"
	apperrors "kgrag/backend/pkg/errors"
)

type mockLoader struct {
	docs  []state.Document
	err   error
	calls int
}

func (m *mockLoader) Load(ctx context.Context, query string) ([]state.Document, error) {
	m.calls++
	return m.docs, m.err
}

// halfSplitter returns every document twice, as two chunks.
type halfSplitter struct{}

func (halfSplitter) SplitDocuments(docs []state.Document) ([]state.Document, error) {
	var out []state.Document
	for _, d := range docs {
		out = append(out,
			state.Document{Text: d.Text + " part 1", Metadata: d.Metadata},
			state.Document{Text: d.Text + " part 2", Metadata: d.Metadata})
	}
	return out, nil
}

type mockExtractor struct {
	calls int
}

func (m *mockExtractor) Convert(ctx context.Context, chunks []state.Document) ([]state.GraphDocument, error) {
	m.calls++
	out := make([]state.GraphDocument, len(chunks))
	for i, c := range chunks {
		out[i] = state.GraphDocument{
			Nodes:  []state.Node{{ID: "Elizabeth I", Type: "Person"}},
			Source: c,
		}
	}
	return out, nil
}

// memoryStore keeps documents in a map, mimicking the graph repository.
type memoryStore struct {
	nonEmpty       bool
	schemaCalls    int
	docs           map[string]state.Document
	order          []string
	embeddings     map[string][]float32
	dropEmbeddings bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[string]state.Document{}, embeddings: map[string][]float32{}}
}

func (m *memoryStore) IsEmpty(ctx context.Context) (bool, error) {
	return !m.nonEmpty && len(m.docs) == 0, nil
}

func (m *memoryStore) EnsureSchema(ctx context.Context, dimensions int) error {
	m.schemaCalls++
	return nil
}

func (m *memoryStore) AddGraphDocuments(ctx context.Context, docs []state.GraphDocument) error {
	for i, d := range docs {
		id := fmt.Sprintf("doc-%d", i)
		m.docs[id] = state.Document{ID: id, Text: d.Source.Text}
		m.order = append(m.order, id)
	}
	return nil
}

func (m *memoryStore) DocumentsWithoutEmbedding(ctx context.Context, limit int) ([]state.Document, error) {
	var out []state.Document
	for _, id := range m.order {
		if _, ok := m.embeddings[id]; ok {
			continue
		}
		out = append(out, m.docs[id])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) SetDocumentEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	if m.dropEmbeddings {
		return nil
	}
	for id, v := range embeddings {
		m.embeddings[id] = v
	}
	return nil
}

type mockEmbedder struct {
	batches []int
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.batches = append(m.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func TestPipeline_Run(t *testing.T) {
	loader := &mockLoader{docs: []state.Document{{Text: "a"}, {Text: "b"}, {Text: "c"}}}
	extractor := &mockExtractor{}
	store := newMemoryStore()
	embedder := &mockEmbedder{}
	p := NewPipeline(loader, halfSplitter{}, extractor, store, embedder, Config{Dimensions: 384, EmbedBatchSize: 4})

	res, err := p.Run(context.Background(), "Elizabeth I")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, 6, res.Chunks)
	assert.Equal(t, 6, res.Nodes)
	assert.Equal(t, 6, res.Embedded)
	assert.Equal(t, []int{4, 2}, embedder.batches)
	assert.Equal(t, 1, store.schemaCalls)
	assert.Len(t, store.embeddings, 6)
}

func TestPipeline_SkipsPopulatedGraph(t *testing.T) {
	loader := &mockLoader{docs: []state.Document{{Text: "a"}}}
	extractor := &mockExtractor{}
	store := newMemoryStore()
	store.nonEmpty = true
	store.docs["existing"] = state.Document{ID: "existing", Text: "Elizabeth was the last Tudor monarch."}
	store.order = append(store.order, "existing")
	embedder := &mockEmbedder{}
	p := NewPipeline(loader, halfSplitter{}, extractor, store, embedder, Config{})

	res, err := p.Run(context.Background(), "Elizabeth I")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, loader.calls)
	assert.Equal(t, 0, extractor.calls)
	assert.Len(t, store.docs, 1)

	// indexes and missing vectors are still brought up to date
	assert.Equal(t, 1, store.schemaCalls)
	assert.Equal(t, 1, res.Embedded)
	assert.Contains(t, store.embeddings, "existing")
	assert.Equal(t, []int{1}, embedder.batches)
}

func TestPipeline_SecondRunIsNoop(t *testing.T) {
	loader := &mockLoader{docs: []state.Document{{Text: "a"}}}
	store := newMemoryStore()
	p := NewPipeline(loader, halfSplitter{}, &mockExtractor{}, store, &mockEmbedder{}, Config{})

	_, err := p.Run(context.Background(), "Elizabeth I")
	require.NoError(t, err)
	res, err := p.Run(context.Background(), "Elizabeth I")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, 1, loader.calls)
	assert.Len(t, store.docs, 2)
}

func TestPipeline_NoDocuments(t *testing.T) {
	p := NewPipeline(&mockLoader{}, halfSplitter{}, &mockExtractor{}, newMemoryStore(), &mockEmbedder{}, Config{})

	_, err := p.Run(context.Background(), "zzzz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDocuments))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeIngest))
}

func TestPipeline_LoaderFailure(t *testing.T) {
	extractor := &mockExtractor{}
	p := NewPipeline(&mockLoader{err: errors.New("dns failure")}, halfSplitter{}, extractor, newMemoryStore(), &mockEmbedder{}, Config{})

	_, err := p.Run(context.Background(), "Elizabeth I")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load")
	assert.Equal(t, 0, extractor.calls)
}

func TestPipeline_EmbeddingsNotPersisted(t *testing.T) {
	store := newMemoryStore()
	store.dropEmbeddings = true
	p := NewPipeline(&mockLoader{docs: []state.Document{{Text: "a"}}}, halfSplitter{}, &mockExtractor{}, store, &mockEmbedder{}, Config{})

	_, err := p.Run(context.Background(), "Elizabeth I")
	require.Error(t, err, "a store that never records embeddings must not loop forever")
}
