package state

import (
	"fmt"
	"strings"
)

// Document is a piece of source text plus free-form metadata (title, source URL...).
// Both raw encyclopedia pages and their token-bounded chunks use it.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Node is an extracted entity. ID is the entity name, Type its label.
type Node struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Relationship is a directed, typed edge between two extracted entities.
type Relationship struct {
	Source Node   `json:"source"`
	Target Node   `json:"target"`
	Type   string `json:"type"`
}

// GraphDocument holds everything extracted from one chunk, together with that
// chunk for provenance.
type GraphDocument struct {
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Source        Document       `json:"source"`
}

// Chunk is a stored document chunk as returned by similarity search.
type Chunk struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Turn is one completed (question, answer) exchange of a conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Triple is a rendered (source)-[type]->(target) edge for visualization.
type Triple struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	Type       string `json:"type"`
	Target     string `json:"target"`
	TargetType string `json:"target_type"`
}

// String renders the edge in the "source - TYPE -> target" form used in prompts.
func (r Relationship) String() string {
	return FormatRelationship(r.Source.ID, r.Type, r.Target.ID)
}

// FormatRelationship renders one structured fact line.
func FormatRelationship(source, relType, target string) string {
	return fmt.Sprintf("%s - %s -> %s", source, relType, target)
}

// Validate checks that the graph document references only non-empty entities.
func (g *GraphDocument) Validate() error {
	if strings.TrimSpace(g.Source.Text) == "" {
		return ErrInvalidGraphDocument{Reason: "source text cannot be empty"}
	}
	for i, n := range g.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return ErrInvalidGraphDocument{Reason: fmt.Sprintf("node %d has empty id", i)}
		}
	}
	for i, r := range g.Relationships {
		if r.Source.ID == "" || r.Target.ID == "" || r.Type == "" {
			return ErrInvalidGraphDocument{Reason: fmt.Sprintf("relationship %d is incomplete", i)}
		}
	}
	return nil
}

// Errors

type ErrInvalidGraphDocument struct {
	Reason string
}

func (e ErrInvalidGraphDocument) Error() string {
	return fmt.Sprintf("invalid graph document: %s", e.Reason)
}
