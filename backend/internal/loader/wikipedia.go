package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"kgrag/backend/internal/state"
	apperrors "kgrag/backend/pkg/errors"
	"kgrag/backend/pkg/logger"
)

const userAgent = "kgrag/1.0 (knowledge-graph question answering)"

// Sections whose content is bibliography or navigation rather than prose.
var trailingSections = map[string]bool{
	"see also":        true,
	"notes":           true,
	"references":      true,
	"citations":       true,
	"sources":         true,
	"bibliography":    true,
	"further reading": true,
	"external links":  true,
}

// WikipediaLoader fetches article text through the MediaWiki action API.
type WikipediaLoader struct {
	baseURL    string
	maxDocs    int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWikipediaLoader creates a loader for the given language edition. maxDocs
// caps how many search hits are turned into documents.
func NewWikipediaLoader(lang string, maxDocs int) *WikipediaLoader {
	if lang == "" {
		lang = "en"
	}
	return NewWikipediaLoaderWithBaseURL(fmt.Sprintf("https://%s.wikipedia.org", lang), maxDocs)
}

// NewWikipediaLoaderWithBaseURL points the loader at an arbitrary MediaWiki host.
func NewWikipediaLoaderWithBaseURL(baseURL string, maxDocs int) *WikipediaLoader {
	if maxDocs < 1 {
		maxDocs = 3
	}
	return &WikipediaLoader{
		baseURL: strings.TrimRight(baseURL, "/"),
		maxDocs: maxDocs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("loader"),
	}
}

// Load searches for query and returns one document per matching article, in
// search-rank order. No hits yields an empty slice.
func (l *WikipediaLoader) Load(ctx context.Context, query string) ([]state.Document, error) {
	titles, err := l.search(ctx, query)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Wikipedia search finished",
		zap.String("query", query),
		zap.Strings("titles", titles),
	)

	docs := make([]state.Document, 0, len(titles))
	for _, title := range titles {
		doc, err := l.fetchPage(ctx, title)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewContextCancelled("wikipedia load", ctx.Err())
			}
			// A single broken page should not sink the whole load
			l.logger.Warn("Skipping page", zap.String("title", title), zap.Error(err))
			continue
		}
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *WikipediaLoader) search(ctx context.Context, query string) ([]string, error) {
	params := url.Values{
		"action":        {"query"},
		"list":          {"search"},
		"srsearch":      {query},
		"srlimit":       {fmt.Sprintf("%d", l.maxDocs)},
		"format":        {"json"},
		"formatversion": {"2"},
	}

	var body struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := l.getJSON(ctx, params, &body); err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(body.Query.Search))
	for _, hit := range body.Query.Search {
		if len(titles) == l.maxDocs {
			break
		}
		titles = append(titles, hit.Title)
	}
	return titles, nil
}

func (l *WikipediaLoader) fetchPage(ctx context.Context, title string) (state.Document, error) {
	params := url.Values{
		"action":        {"parse"},
		"page":          {title},
		"prop":          {"text"},
		"redirects":     {"1"},
		"format":        {"json"},
		"formatversion": {"2"},
	}

	var body struct {
		Parse struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"parse"`
		Error *struct {
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := l.getJSON(ctx, params, &body); err != nil {
		return state.Document{}, err
	}
	if body.Error != nil {
		return state.Document{}, fmt.Errorf("mediawiki: %s", body.Error.Info)
	}

	text, summary, err := ExtractArticleText(body.Parse.Text)
	if err != nil {
		return state.Document{}, err
	}

	pageTitle := body.Parse.Title
	if pageTitle == "" {
		pageTitle = title
	}
	return state.Document{
		Text: text,
		Metadata: map[string]string{
			"title":   pageTitle,
			"summary": summary,
			"source":  l.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(pageTitle, " ", "_")),
		},
	}, nil
}

func (l *WikipediaLoader) getJSON(ctx context.Context, params url.Values, out any) error {
	endpoint := l.baseURL + "/w/api.php?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.NewLoaderFetchFailed(endpoint, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return apperrors.NewLoaderFetchFailed(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewLoaderFetchFailed(endpoint,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewLoaderFetchFailed(endpoint, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// ExtractArticleText turns rendered article HTML into plain text. Headings are
// rendered as "== Title ==" lines; tables, references and navigation are
// dropped, and reading stops at the bibliography sections. It also returns the
// first paragraph as a summary.
func ExtractArticleText(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse article html: %w", err)
	}

	doc.Find("script, style, table, figure, sup.reference, .mw-editsection, .navbox, " +
		".reflist, .references, .hatnote, .thumb, .infobox, .mw-empty-elt, .noprint").Remove()

	root := doc.Find(".mw-parser-output").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	summary := ""
	root.Find("p, h2, h3, h4, ul > li, ol > li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return true
		}

		switch goquery.NodeName(s) {
		case "h2", "h3", "h4":
			if trailingSections[strings.ToLower(text)] {
				return false
			}
			marks := strings.Repeat("=", headingLevel(goquery.NodeName(s)))
			parts = append(parts, "", fmt.Sprintf("%s %s %s", marks, text, marks))
		case "li":
			parts = append(parts, "- "+text)
		default:
			if summary == "" {
				summary = text
			}
			parts = append(parts, text)
		}
		return true
	})

	return strings.TrimSpace(strings.Join(parts, "\n")), summary, nil
}

func headingLevel(tag string) int {
	switch tag {
	case "h2":
		return 2
	case "h3":
		return 3
	default:
		return 4
	}
}
