package resources

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"ai-learning-plans/internal/domain/ports/adapter"
)

var _ adapter.ResourceSearcher = (*StaticSearcher)(nil)

type link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
}

// StaticSearcher answers from a fixed set of search sites. It needs no
// network and is what dev mode runs with.
type StaticSearcher struct {
	sites []site
}

type site struct {
	name, kind, pattern string
}

func NewStaticSearcher() *StaticSearcher {
	return &StaticSearcher{sites: []site{
		{"YouTube", "video", "https://www.youtube.com/results?search_query=%s"},
		{"MDN", "docs", "https://developer.mozilla.org/en-US/search?q=%s"},
		{"Wikipedia", "article", "https://en.wikipedia.org/w/index.php?search=%s"},
		{"freeCodeCamp", "course", "https://www.freecodecamp.org/news/search/?query=%s"},
	}}
}

func (s *StaticSearcher) Source() string { return "static" }

func (s *StaticSearcher) Search(ctx context.Context, query string) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return []json.RawMessage{}, nil
	}
	out := make([]json.RawMessage, 0, len(s.sites))
	for _, st := range s.sites {
		b, err := json.Marshal(link{
			Title: query + " on " + st.name,
			URL:   strings.Replace(st.pattern, "%s", url.QueryEscape(query), 1),
			Kind:  st.kind,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
