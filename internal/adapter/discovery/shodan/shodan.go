// Package shodan implements a Discovery Source (C5) backed by the Shodan
// search API, grounded on the original scanner's search_shodan routine:
// two fixed queries ("product:Ollama", "port:11434"), paginated, deduped
// by IP, capped at 20 pages per query and 1500 total results.
package shodan

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Strob0t/CodeForge/internal/domain/discovery"
)

const (
	resultsPerPage = 100
	maxPages       = 20
	maxResults     = 1500
	pagePause      = time.Second
)

// baseURL is a var (not const) so tests can redirect it at an httptest server.
var baseURL = "https://api.shodan.io/shodan/host/search"

var queries = []string{"product:Ollama", "port:11434"}

// Source queries Shodan for candidate Ollama endpoints.
type Source struct {
	apiKey     string
	httpClient *http.Client
}

// New creates a Shodan Discovery Source. An empty apiKey makes every
// Candidates call yield nothing, mirroring the original's
// "Shodan API key not configured, skipping" behavior.
func New(apiKey string) *Source {
	return &Source{apiKey: apiKey, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (s *Source) Name() string { return "shodan" }

type searchResponse struct {
	Total   int `json:"total"`
	Matches []struct {
		IPStr string `json:"ip_str"`
		Port  int    `json:"port"`
		Ports []int  `json:"ports"`
	} `json:"matches"`
}

// Candidates yields deduplicated candidates across all configured queries.
// A page fetch failure is yielded as an error; the rest of that query's
// pages are skipped and iteration continues with the next query rather
// than terminating the whole source.
func (s *Source) Candidates(ctx context.Context) iter.Seq2[discovery.Candidate, error] {
	return func(yield func(discovery.Candidate, error) bool) {
		if s.apiKey == "" {
			return
		}

		seen := make(map[string]bool)
		total := 0

		for _, query := range queries {
			for page := 1; page <= maxPages && total < maxResults; page++ {
				res, err := s.fetchPage(ctx, query, page)
				if err != nil {
					if !yield(discovery.Candidate{}, fmt.Errorf("shodan query %q page %d: %w", query, page, err)) {
						return
					}
					break
				}
				if len(res.Matches) == 0 {
					break
				}

				for _, m := range res.Matches {
					if m.IPStr == "" || seen[m.IPStr] {
						continue
					}
					seen[m.IPStr] = true
					total++

					port := m.Port
					if port == 0 {
						port = 11434
					}
					var additional []int
					for _, p := range m.Ports {
						if p != port {
							additional = append(additional, p)
						}
					}

					if !yield(discovery.Candidate{
						IP: m.IPStr, PrimaryPort: port, AdditionalPorts: additional,
						Promising: true, Source: s.Name(),
					}, nil) {
						return
					}

					if total >= maxResults {
						break
					}
				}

				if page*resultsPerPage >= res.Total {
					break
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(pagePause):
				}
			}
		}
	}
}

// paginationBackoff yields the spec's rate-limit schedule: 10s, 20s, 30s on
// successive attempts, capped at 3 tries. go-retry has no built-in linear
// curve, so this is a custom retry.BackoffFunc rather than NewExponential.
func paginationBackoff() retry.Backoff {
	var attempt uint64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * 10 * time.Second, false
	})
}

// fetchPage retries transient HTTP failures with the pagination backoff
// schedule.
func (s *Source) fetchPage(ctx context.Context, query string, page int) (*searchResponse, error) {
	var result *searchResponse

	b := retry.WithMaxRetries(3, paginationBackoff())
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		u := fmt.Sprintf("%s?key=%s&query=%s&page=%d&limit=%d",
			baseURL, url.QueryEscape(s.apiKey), url.QueryEscape(query), page, resultsPerPage)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("shodan status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("shodan status %d", resp.StatusCode)
		}

		var parsed searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode shodan response: %w", err)
		}
		result = &parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
