package loader

import (
	"fmt"
	"maps"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"kgrag/backend/internal/state"
)

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads a BPE encoding by name, e.g. "r50k_base".
func NewTiktokenTokenizer(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// TokenSplitter cuts documents into windows of at most ChunkSize tokens, each
// window starting ChunkSize-ChunkOverlap tokens after the previous one.
type TokenSplitter struct {
	tokenizer    Tokenizer
	chunkSize    int
	chunkOverlap int
}

func NewTokenSplitter(tokenizer Tokenizer, chunkSize, chunkOverlap int) (*TokenSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return &TokenSplitter{
		tokenizer:    tokenizer,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// SplitText returns the token windows of text, decoded back to strings.
func (s *TokenSplitter) SplitText(text string) []string {
	ids := s.tokenizer.Encode(text)
	if len(ids) == 0 {
		return nil
	}

	step := s.chunkSize - s.chunkOverlap
	var chunks []string
	for start := 0; start < len(ids); start += step {
		end := min(start+s.chunkSize, len(ids))
		// a window may end inside a multi-byte rune
		chunk := strings.ToValidUTF8(s.tokenizer.Decode(ids[start:end]), "\uFFFD")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(ids) {
			break
		}
	}
	return chunks
}

// SplitDocuments splits every document, preserving document order. Each chunk
// gets its own copy of the parent's metadata.
func (s *TokenSplitter) SplitDocuments(docs []state.Document) ([]state.Document, error) {
	var out []state.Document
	for _, doc := range docs {
		for _, text := range s.SplitText(doc.Text) {
			out = append(out, state.Document{
				Text:     text,
				Metadata: maps.Clone(doc.Metadata),
			})
		}
	}
	return out, nil
}
