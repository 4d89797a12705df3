package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kgrag/backend/internal/state"
	apperrors "kgrag/backend/pkg/errors"
	"kgrag/backend/pkg/logger"
)

// DefaultConcurrency is the number of chunks extracted in parallel.
const DefaultConcurrency = 4

const systemPrompt = `# Knowledge Graph Instructions
You are an algorithm that extracts information in structured form to build a knowledge graph.
Extract as many entities and relationships as the text supports, without adding facts that are not in it.
- Nodes are entities and concepts. Node "id" is a human-readable name taken from the text, never a number.
- Node "type" is a basic, general label such as "Person", "Organization", "Location" or "Event".
- Relationship "type" is a general, timeless verb phrase such as "SPOUSE_OF" or "RULED".
- Always refer to an entity by its most complete name. If the text says "Elizabeth" and earlier said
  "Elizabeth I", the id is "Elizabeth I" everywhere.
- Every relationship endpoint must also appear in the node list.`

const userPromptTemplate = "Extract the knowledge graph from the following text. Use the given format.\nInput: %s"

// StructuredExtractor fills out from a forced structured-output LLM call.
type StructuredExtractor interface {
	Extract(ctx context.Context, systemPrompt, userMsg, name, description string, out any) error
}

type extractedNode struct {
	ID   string `json:"id" jsonschema:"description=Name or human-readable identifier of the entity"`
	Type string `json:"type" jsonschema:"description=Label of the entity, e.g. Person or Organization"`
}

type extractedRelationship struct {
	Source     string `json:"source" jsonschema:"description=Id of the source node"`
	SourceType string `json:"source_type" jsonschema:"description=Type of the source node"`
	Target     string `json:"target" jsonschema:"description=Id of the target node"`
	TargetType string `json:"target_type" jsonschema:"description=Type of the target node"`
	Type       string `json:"type" jsonschema:"description=Relationship type, e.g. SPOUSE_OF"`
}

type extractedGraph struct {
	Nodes         []extractedNode         `json:"nodes" jsonschema:"description=Entities found in the text"`
	Relationships []extractedRelationship `json:"relationships" jsonschema:"description=Relationships between the entities"`
}

// GraphExtractor turns text chunks into graph documents with one LLM call per chunk.
type GraphExtractor struct {
	llm          StructuredExtractor
	concurrency  int
	allowedNodes map[string]bool
	allowedRels  map[string]bool
	logger       *zap.Logger
}

type Option func(*GraphExtractor)

// WithConcurrency bounds the number of in-flight extraction calls.
func WithConcurrency(n int) Option {
	return func(g *GraphExtractor) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithAllowedNodes keeps only nodes whose type is listed (case-insensitive).
func WithAllowedNodes(types ...string) Option {
	return func(g *GraphExtractor) {
		g.allowedNodes = lowerSet(types)
	}
}

// WithAllowedRelationships keeps only relationships whose type is listed (case-insensitive).
func WithAllowedRelationships(types ...string) Option {
	return func(g *GraphExtractor) {
		g.allowedRels = lowerSet(types)
	}
}

func NewGraphExtractor(llm StructuredExtractor, opts ...Option) *GraphExtractor {
	g := &GraphExtractor{
		llm:         llm,
		concurrency: DefaultConcurrency,
		logger:      logger.Named("extract"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Convert extracts a graph document for every chunk. The output has the same
// length and order as chunks. A chunk whose extraction fails yields a document
// with no nodes; only context cancellation makes Convert itself fail.
func (g *GraphExtractor) Convert(ctx context.Context, chunks []state.Document) ([]state.GraphDocument, error) {
	results := make([]state.GraphDocument, len(chunks))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	for i, chunk := range chunks {
		eg.Go(func() error {
			select {
			case <-egctx.Done():
				return egctx.Err()
			default:
			}

			doc, err := g.convertOne(egctx, chunk)
			if err != nil {
				if egctx.Err() != nil {
					return egctx.Err()
				}
				g.logger.Warn("Extraction failed for chunk",
					zap.Int("chunk", i),
					zap.Error(err),
				)
				doc = state.GraphDocument{Source: chunk}
			}
			results[i] = doc
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, apperrors.NewContextCancelled("graph extraction", err)
	}

	nodes, rels := 0, 0
	for _, doc := range results {
		nodes += len(doc.Nodes)
		rels += len(doc.Relationships)
	}
	g.logger.Info("Graph extraction finished",
		zap.Int("chunks", len(chunks)),
		zap.Int("nodes", nodes),
		zap.Int("relationships", rels),
	)
	return results, nil
}

func (g *GraphExtractor) convertOne(ctx context.Context, chunk state.Document) (state.GraphDocument, error) {
	var raw extractedGraph
	err := g.llm.Extract(ctx, systemPrompt, fmt.Sprintf(userPromptTemplate, chunk.Text),
		"knowledge_graph", "Nodes and relationships extracted from the text", &raw)
	if err != nil {
		return state.GraphDocument{}, err
	}
	return g.normalize(raw, chunk), nil
}

func (g *GraphExtractor) normalize(raw extractedGraph, chunk state.Document) state.GraphDocument {
	doc := state.GraphDocument{Source: chunk}
	seen := make(map[state.Node]bool)

	addNode := func(n state.Node) {
		if n.ID == "" || seen[n] {
			return
		}
		if !g.nodeAllowed(n.Type) {
			return
		}
		seen[n] = true
		doc.Nodes = append(doc.Nodes, n)
	}

	for _, n := range raw.Nodes {
		addNode(normalizeNode(n.ID, n.Type))
	}

	for _, r := range raw.Relationships {
		source := normalizeNode(r.Source, r.SourceType)
		target := normalizeNode(r.Target, r.TargetType)
		relType := normalizeRelType(r.Type)
		if source.ID == "" || target.ID == "" || relType == "" {
			continue
		}
		if !g.nodeAllowed(source.Type) || !g.nodeAllowed(target.Type) || !g.relAllowed(relType) {
			continue
		}
		addNode(source)
		addNode(target)
		doc.Relationships = append(doc.Relationships, state.Relationship{
			Source: source,
			Target: target,
			Type:   relType,
		})
	}
	return doc
}

func (g *GraphExtractor) nodeAllowed(nodeType string) bool {
	return len(g.allowedNodes) == 0 || g.allowedNodes[strings.ToLower(nodeType)]
}

func (g *GraphExtractor) relAllowed(relType string) bool {
	return len(g.allowedRels) == 0 || g.allowedRels[strings.ToLower(relType)]
}

func normalizeNode(id, nodeType string) state.Node {
	nodeType = capitalize(strings.TrimSpace(nodeType))
	if nodeType == "" {
		nodeType = "Node"
	}
	return state.Node{
		ID:   TitleCase(strings.TrimSpace(id)),
		Type: nodeType,
	}
}

func normalizeRelType(t string) string {
	return strings.ToUpper(strings.Join(strings.Fields(t), "_"))
}

// TitleCase upper-cases the first letter of every run of letters and
// lower-cases the rest, so "queen ELIZABETH" becomes "Queen Elizabeth".
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func lowerSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(strings.TrimSpace(item))] = true
	}
	return set
}
