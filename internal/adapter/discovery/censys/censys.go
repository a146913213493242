// Package censys implements a Discovery Source (C5) backed by the Censys
// Hosts search API, grounded on the original scanner's search_censys
// routine: five fixed queries targeting Ollama HTTP signatures, paginated
// up to 10 pages of 100 results each, deduplicated by IP with port
// selection prioritizing a service whose response body contains "ollama is
// running", then port 11434, then the first discovered service port.
package censys

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Strob0t/CodeForge/internal/domain/discovery"
)

const (
	perPage       = 100
	maxPages      = 10
	queryPause    = time.Second
	defaultOllama = 11434
)

// searchURL is a var (not const) so tests can redirect it at an httptest server.
var searchURL = "https://search.censys.io/api/v2/hosts/search"

var queries = []string{
	`services.http.response.body: "ollama is running"`,
	`services.http.response.body: ollama`,
	`services.port: 11434`,
	`services.http.response.body: /api/tags`,
	`services.http.response.body: models AND services.http.response.body: array`,
}

// Source queries Censys for candidate Ollama endpoints.
type Source struct {
	apiID      string
	apiSecret  string
	httpClient *http.Client
}

// New creates a Censys Discovery Source. Empty credentials make every
// Candidates call yield nothing.
func New(apiID, apiSecret string) *Source {
	return &Source{apiID: apiID, apiSecret: apiSecret, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (s *Source) Name() string { return "censys" }

type hostService struct {
	Port int `json:"port"`
	HTTP *struct {
		Response struct {
			Body string `json:"body"`
		} `json:"response"`
	} `json:"http"`
}

type hostResult struct {
	IP       string        `json:"ip"`
	Services []hostService `json:"services"`
}

type searchResponse struct {
	Result struct {
		Hits  []hostResult `json:"hits"`
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	} `json:"result"`
}

// Candidates yields deduplicated candidates across all configured queries.
func (s *Source) Candidates(ctx context.Context) iter.Seq2[discovery.Candidate, error] {
	return func(yield func(discovery.Candidate, error) bool) {
		if s.apiID == "" || s.apiSecret == "" {
			return
		}

		seen := make(map[string]bool)

		for _, query := range queries {
			cursor := ""
			for page := 0; page < maxPages; page++ {
				res, next, err := s.fetchPage(ctx, query, cursor)
				if err != nil {
					if !yield(discovery.Candidate{}, fmt.Errorf("censys query %q page %d: %w", query, page, err)) {
						return
					}
					break
				}
				if len(res) == 0 {
					break
				}

				for _, host := range res {
					if host.IP == "" || seen[host.IP] {
						continue
					}
					seen[host.IP] = true

					cand := toCandidate(host, s.Name())
					if !yield(cand, nil) {
						return
					}
				}

				if next == "" {
					break
				}
				cursor = next

				select {
				case <-ctx.Done():
					return
				case <-time.After(queryPause):
				}
			}
		}
	}
}

// toCandidate picks the primary port per the original's priority order:
// a service advertising the Ollama landing page, else 11434, else the
// first seen service port.
func toCandidate(host hostResult, source string) discovery.Candidate {
	var primary int
	var ports []int

	for _, svc := range host.Services {
		if svc.Port == 0 {
			continue
		}
		ports = append(ports, svc.Port)
		if svc.HTTP != nil && strings.Contains(strings.ToLower(svc.HTTP.Response.Body), "ollama is running") {
			primary = svc.Port
		}
	}

	if primary == 0 {
		for _, p := range ports {
			if p == defaultOllama {
				primary = defaultOllama
				break
			}
		}
	}
	if primary == 0 && len(ports) > 0 {
		primary = ports[0]
	}
	if primary == 0 {
		primary = defaultOllama
	}

	var additional []int
	for _, p := range ports {
		if p != primary {
			additional = append(additional, p)
		}
	}

	return discovery.Candidate{IP: host.IP, PrimaryPort: primary, AdditionalPorts: additional, Promising: true, Source: source}
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

func (s *Source) fetchPage(ctx context.Context, query, cursor string) ([]hostResult, string, error) {
	var parsed searchResponse

	b := retry.WithMaxRetries(3, paginationBackoff())
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		u := searchURL + "?q=" + url.QueryEscape(query) + "&per_page=" + strconv.Itoa(perPage)
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(s.apiID, s.apiSecret)
		req.Header.Set("Accept", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("censys status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("censys status %d", resp.StatusCode)
		}

		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, "", err
	}
	return parsed.Result.Hits, parsed.Result.Links.Next, nil
}
