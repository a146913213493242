// Package portscan implements a Discovery Source (C5) that reads masscan's
// grepable output format (-oG), grounded on the original scanner's
// parse_masscan_results function. It does not invoke masscan itself; the
// scan file is produced out of band and handed to this source by path.
package portscan

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Strob0t/CodeForge/internal/domain/discovery"
)

var linePattern = regexp.MustCompile(`Host:\s+(\d+\.\d+\.\d+\.\d+)\D+Ports:\s+(\d+)/open`)

const defaultPort = 11434

// Source reads candidates from a masscan grepable-format results file.
type Source struct {
	path string
}

// New creates a port-scan Discovery Source reading from path.
func New(path string) *Source {
	return &Source{path: path}
}

func (s *Source) Name() string { return "portscan" }

// Candidates parses the file line by line, yielding one Candidate per
// distinct IP from the matched "Host: ip ... Ports: port/open" lines; later
// lines for an IP already yielded are skipped, so only its first port is
// used. Comment and blank lines are skipped; an unreadable file yields a
// single error and no candidates.
func (s *Source) Candidates(ctx context.Context) iter.Seq2[discovery.Candidate, error] {
	return func(yield func(discovery.Candidate, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(discovery.Candidate{}, fmt.Errorf("open masscan file %s: %w", s.path, err))
			return
		}
		defer func() { _ = f.Close() }()

		seen := make(map[string]bool)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			m := linePattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ip := m[1]
			if seen[ip] {
				continue
			}
			seen[ip] = true

			port, perr := strconv.Atoi(m[2])
			if perr != nil {
				port = defaultPort
			}

			if !yield(discovery.Candidate{IP: ip, PrimaryPort: port, Promising: false, Source: s.Name()}, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(discovery.Candidate{}, fmt.Errorf("read masscan file %s: %w", s.path, err))
		}
	}
}
