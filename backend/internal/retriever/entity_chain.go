package retriever

import (
	"context"
	"fmt"
	"strings"
)

const (
	entitySystemPrompt = "You are extracting organization and person entities from the text."
	entityUserTemplate = "Use the given format to extract information from the following input: %s"
)

// StructuredExtractor fills out from a forced structured-output LLM call.
type StructuredExtractor interface {
	Extract(ctx context.Context, systemPrompt, userMsg, name, description string, out any) error
}

// Entities is the structured output of the entity extraction call.
type Entities struct {
	Names []string `json:"names" jsonschema:"description=All the person or organization entities that appear in the text"`
}

// EntityChain pulls person and organization names out of a question.
type EntityChain struct {
	llm StructuredExtractor
}

func NewEntityChain(llm StructuredExtractor) *EntityChain {
	return &EntityChain{llm: llm}
}

// Extract returns the entity names mentioned in question, trimmed, without
// blanks or duplicates, in the order the model listed them.
func (c *EntityChain) Extract(ctx context.Context, question string) ([]string, error) {
	var out Entities
	err := c.llm.Extract(ctx, entitySystemPrompt, fmt.Sprintf(entityUserTemplate, question),
		"entities", "Identifying information about entities.", &out)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Names))
	seen := make(map[string]bool, len(out.Names))
	for _, name := range out.Names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}
