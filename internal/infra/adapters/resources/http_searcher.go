// Package resources implements the learning resource searchers the plan
// handler curates modules from.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/infra/metrics"
)

var _ adapter.ResourceSearcher = (*HTTPSearcher)(nil)

const maxResponseBytes = 4 << 20

// HTTPSearcher queries a JSON search endpoint with GET {base}?q=<query>.
// The result array is read from resultsPath (gjson syntax); an empty path
// means the body itself is the array.
type HTTPSearcher struct {
	base        string
	source      string
	resultsPath string
	client      *http.Client
}

func NewHTTPSearcher(baseURL, source, resultsPath string, timeout time.Duration) (*HTTPSearcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid search url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if source == "" {
		source = u.Host
	}
	return &HTTPSearcher{
		base:        baseURL,
		source:      source,
		resultsPath: resultsPath,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSearcher) Source() string { return s.source }

func (s *HTTPSearcher) Search(ctx context.Context, query string) ([]json.RawMessage, error) {
	start := time.Now()
	out, err := s.search(ctx, query)
	metrics.ObserveResourceSearch(s.source, int(time.Since(start).Milliseconds()), err == nil)
	return out, err
}

func (s *HTTPSearcher) search(ctx context.Context, query string) ([]json.RawMessage, error) {
	u, _ := url.Parse(s.base)
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search %s: http %d", s.source, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("search response is not valid JSON")
	}

	res := gjson.ParseBytes(body)
	if p := strings.TrimSpace(s.resultsPath); p != "" {
		res = res.Get(p)
	}
	if !res.Exists() {
		return []json.RawMessage{}, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("search response: %q is not an array", s.resultsPath)
	}
	items := res.Array()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		if it.IsObject() {
			out = append(out, json.RawMessage(it.Raw))
		}
	}
	return out, nil
}
