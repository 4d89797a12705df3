package loader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kgrag/backend/pkg/errors"
)

const articleHTML = `<div class="mw-parser-output">
<div class="hatnote">For other uses, see Elizabeth I (disambiguation).</div>
<table class="infobox"><tr><td>Reign 1558-1603</td></tr></table>
<p>Elizabeth I was Queen of England from 1558 until her death.<sup class="reference">[1]</sup></p>
<div class="mw-heading mw-heading2"><h2 id="Early_life">Early life</h2><span class="mw-editsection">[edit]</span></div>
<p>Elizabeth was born at Greenwich Palace.</p>
<ul><li>Daughter of Henry VIII</li><li>Daughter of Anne Boleyn</li></ul>
<h3>Education</h3>
<p>She was tutored by Roger Ascham.</p>
<h2>References</h2>
<p>Should not appear.</p>
</div>`

func fakeMediaWiki(t *testing.T, titles []string, pages map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/w/api.php", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")

		switch q.Get("action") {
		case "query":
			var hits []map[string]any
			for _, title := range titles {
				hits = append(hits, map[string]any{"title": title})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{"search": hits},
			})
		case "parse":
			html, ok := pages[q.Get("page")]
			if !ok {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": "missingtitle", "info": "The page you specified doesn't exist."},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"parse": map[string]any{"title": q.Get("page"), "text": html},
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func TestExtractArticleText(t *testing.T) {
	text, summary, err := ExtractArticleText(articleHTML)
	require.NoError(t, err)

	assert.Equal(t, "Elizabeth I was Queen of England from 1558 until her death.", summary)
	assert.Contains(t, text, "== Early life ==")
	assert.Contains(t, text, "=== Education ===")
	assert.Contains(t, text, "- Daughter of Henry VIII")
	assert.Contains(t, text, "Roger Ascham")

	assert.NotContains(t, text, "[1]")
	assert.NotContains(t, text, "[edit]")
	assert.NotContains(t, text, "Reign 1558-1603")
	assert.NotContains(t, text, "disambiguation")
	assert.NotContains(t, text, "Should not appear")
}

func TestWikipediaLoader_Load(t *testing.T) {
	srv := fakeMediaWiki(t,
		[]string{"Elizabeth I", "Missing page", "Robert Dudley", "Fourth hit"},
		map[string]string{
			"Elizabeth I":   articleHTML,
			"Robert Dudley": `<div class="mw-parser-output"><p>Robert Dudley was a favourite of Elizabeth I.</p></div>`,
			"Fourth hit":    `<div class="mw-parser-output"><p>Beyond the limit.</p></div>`,
		})
	defer srv.Close()

	l := NewWikipediaLoaderWithBaseURL(srv.URL, 3)
	docs, err := l.Load(context.Background(), "Elizabeth I")
	require.NoError(t, err)

	// The missing page is skipped and the fourth hit is past maxDocs
	require.Len(t, docs, 2)
	assert.Equal(t, "Elizabeth I", docs[0].Metadata["title"])
	assert.Equal(t, srv.URL+"/wiki/Elizabeth_I", docs[0].Metadata["source"])
	assert.Equal(t, "Robert Dudley", docs[1].Metadata["title"])
	assert.True(t, strings.HasPrefix(docs[1].Text, "Robert Dudley was"))
}

func TestWikipediaLoader_NoHits(t *testing.T) {
	srv := fakeMediaWiki(t, nil, nil)
	defer srv.Close()

	docs, err := NewWikipediaLoaderWithBaseURL(srv.URL, 3).Load(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWikipediaLoader_SearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWikipediaLoaderWithBaseURL(srv.URL, 3).Load(context.Background(), "Elizabeth I")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeLoader))
	assert.True(t, apperrors.IsRetryable(err))
}
