// Package scancontroller implements the Scan Controller (C6): a bounded
// worker pool that drains Discovery Source candidate streams through the
// Verifier, with pause/resume and cooperative shutdown, mirroring the
// weighted-semaphore worker pool shape of internal/git.Pool.
package scancontroller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/CodeForge/internal/adapter/ws"
	"github.com/Strob0t/CodeForge/internal/domain/discovery"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
	"github.com/Strob0t/CodeForge/internal/port/broadcast"
	"github.com/Strob0t/CodeForge/internal/port/discoverysource"
	"github.com/Strob0t/CodeForge/internal/port/eventbus"
	"github.com/Strob0t/CodeForge/internal/port/notifier"
	"github.com/Strob0t/CodeForge/internal/service/alerting"
)

// scanProgressSubject is the fixed NATS subject scan progress publishes
// onto for external consumers, per §4's domain stack table.
const scanProgressSubject = "scan.progress"

// commonPorts is the fallback set tried for every candidate after its
// primary and additional ports, per §4.6.
var commonPorts = []int{11434, 8000, 8001, 11435, 11436, 3000, 8080, 8888}

var (
	dynamicRangeHigh = [2]int{49152, 49252}
	dynamicRangeLow  = [2]int{1024, 1124}
)

const (
	defaultWorkers          = 50
	defaultDynamicPortCap   = 100
	defaultDynamicWallClock = 60 * time.Second
	pauseSleep              = 200 * time.Millisecond
	progressCadence         = 2 * time.Second

	// DrainGrace is how long Stop gives in-flight workers to finish their
	// current candidate before the caller should force an exit.
	DrainGrace = 10 * time.Second
)

// Verifier is the subset of the verifier Service the Scan Controller needs.
type Verifier interface {
	Verify(ctx context.Context, req verification.Request) (*verification.Outcome, error)
}

// Dedup marks (ip,port) pairs as seen so repeat candidates within a run are
// skipped; implementations may be in-process or cross-process (Redis).
type Dedup interface {
	SeenOrMark(ctx context.Context, ip string, port int) (alreadySeen bool)
}

// Config controls one scan run.
type Config struct {
	Workers             int
	PreserveVerified    bool
	ScanStatus          endpoint.UpsertStatus
	DisableDynamicPorts bool
	DynamicPortCap      int
	DynamicPortTimeout  time.Duration
	MaxConns            int // used to cap Workers, mirrors the Catalog pool's MaxConns
}

// Progress is the Scan Controller's counters, safe to read concurrently.
type Progress struct {
	Completed  int64
	Valid      int64
	Invalid    int64
	Errors     int64
	Duplicates int64
}

// Controller drives one or more Discovery Sources through the Verifier.
type Controller struct {
	verifier Verifier
	dedup    Dedup
	hub      broadcast.Broadcaster
	bus      eventbus.Publisher
	alerts   *alerting.Service

	paused  atomic.Bool
	running atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// New creates a Scan Controller. dedup, hub, and bus may be nil.
func New(v Verifier, dedup Dedup, hub broadcast.Broadcaster, bus eventbus.Publisher) *Controller {
	c := &Controller{verifier: v, dedup: dedup, hub: hub, bus: bus}
	c.running.Store(true)
	return c
}

// WithAlerts attaches an alerting.Service so scan-completion summaries are
// posted to the configured Discord/Slack webhooks. Returns the receiver for
// chaining.
func (c *Controller) WithAlerts(alerts *alerting.Service) *Controller {
	c.alerts = alerts
	return c
}

// Pause toggles the paused signal; workers poll it at every iteration.
func (c *Controller) Pause()  { c.paused.Store(true) }
func (c *Controller) Resume() { c.paused.Store(false) }

// Stop clears the running flag; workers finish their current candidate and
// drain. After DrainGrace the caller should cancel the context it passed to
// Run to force an exit.
func (c *Controller) Stop() { c.running.Store(false) }

// Progress returns a snapshot of the current counters.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Run drains sources through the worker pool until every source is
// exhausted or Stop is called. The caller is responsible for bounding how
// long it waits for Run to return after Stop — see DrainGrace.
func (c *Controller) Run(ctx context.Context, sources []discoverysource.Source, cfg Config) error {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if cfg.MaxConns > 0 {
		headroom := 2
		if cap := cfg.MaxConns - headroom; cap > 0 && workers > cap {
			slog.Warn("scan controller worker count exceeds connection pool headroom, reducing",
				"requested", workers, "reduced_to", cap)
			workers = cap
		}
	}
	if cfg.DynamicPortCap <= 0 {
		cfg.DynamicPortCap = defaultDynamicPortCap
	}
	if cfg.DynamicPortTimeout <= 0 {
		cfg.DynamicPortTimeout = defaultDynamicWallClock
	}

	candidates := make(chan discovery.Candidate, workers*2)
	runID := time.Now().UTC().Format(time.RFC3339Nano)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(candidates)
		return c.fanInSources(groupCtx, sources, candidates)
	})

	sem := semaphore.NewWeighted(int64(workers))
	var workerWG sync.WaitGroup
	stopProgress := make(chan struct{})
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		c.reportProgress(groupCtx, runID, stopProgress)
	}()

	group.Go(func() error {
		defer close(stopProgress)
		var inner sync.WaitGroup
		for cand := range candidates {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				break
			}
			inner.Add(1)
			go func(cand discovery.Candidate) {
				defer sem.Release(1)
				defer inner.Done()
				c.processCandidate(groupCtx, cand, cfg)
			}(cand)
		}
		inner.Wait()
		return nil
	})

	err := group.Wait()
	workerWG.Wait()
	c.broadcastProgress(ctx, runID, "completed")
	return err
}

// fanInSources drains every source concurrently into out. One source's
// failure (a yielded error, or exhaustion) never stops the others.
func (c *Controller) fanInSources(ctx context.Context, sources []discoverysource.Source, out chan<- discovery.Candidate) error {
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src discoverysource.Source) {
			defer wg.Done()
			for cand, err := range src.Candidates(ctx) {
				if !c.running.Load() {
					return
				}
				if err != nil {
					slog.Warn("discovery source error", "source", src.Name(), "error", err)
					continue
				}
				select {
				case out <- cand:
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}
	wg.Wait()
	return nil
}

// processCandidate implements §4.6's per-candidate port search order and
// updates the shared counters exactly once per candidate.
func (c *Controller) processCandidate(ctx context.Context, cand discovery.Candidate, cfg Config) {
	c.waitWhilePaused(ctx)
	if !c.running.Load() {
		return
	}

	if c.dedup != nil {
		if c.dedup.SeenOrMark(ctx, cand.IP, cand.PrimaryPort) {
			c.bump(func(p *Progress) { p.Duplicates++ })
			return
		}
	}

	ports := orderedPorts(cand)
	found := false

	for _, port := range ports {
		c.waitWhilePaused(ctx)
		if !c.running.Load() || ctx.Err() != nil {
			return
		}

		outcome, err := c.verifier.Verify(ctx, verification.Request{
			IP: cand.IP, Port: port, ScanStatus: cfg.ScanStatus, PreserveVerified: cfg.PreserveVerified,
		})
		if err != nil {
			c.bump(func(p *Progress) { p.Errors++ })
			continue
		}
		if outcome.Verdict == verification.VerdictValid {
			found = true
			break
		}
	}

	if !found && cand.Promising && !cfg.DisableDynamicPorts {
		found = c.scanDynamicPorts(ctx, cand, cfg)
	}

	c.bump(func(p *Progress) {
		p.Completed++
		if found {
			p.Valid++
		} else {
			p.Invalid++
		}
	})
}

// orderedPorts implements the fixed search order: primary, additional
// (deduplicated), then the common-port set minus duplicates.
func orderedPorts(cand discovery.Candidate) []int {
	seen := map[int]bool{cand.PrimaryPort: true}
	ports := []int{cand.PrimaryPort}
	for _, p := range cand.AdditionalPorts {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	for _, p := range commonPorts {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	return ports
}

// scanDynamicPorts samples the two dynamic port ranges of §4.6, bounded by
// a per-candidate wall-clock cap and a per-candidate probe cap.
func (c *Controller) scanDynamicPorts(ctx context.Context, cand discovery.Candidate, cfg Config) bool {
	deadline := time.Now().Add(cfg.DynamicPortTimeout)
	probed := 0

	for _, rng := range [][2]int{dynamicRangeHigh, dynamicRangeLow} {
		for port := rng[0]; port < rng[1]; port++ {
			if probed >= cfg.DynamicPortCap || time.Now().After(deadline) {
				return false
			}
			c.waitWhilePaused(ctx)
			if !c.running.Load() || ctx.Err() != nil {
				return false
			}

			probed++
			outcome, err := c.verifier.Verify(ctx, verification.Request{
				IP: cand.IP, Port: port, ScanStatus: cfg.ScanStatus, PreserveVerified: cfg.PreserveVerified,
			})
			if err != nil {
				continue
			}
			if outcome.Verdict == verification.VerdictValid {
				return true
			}
		}
	}
	return false
}

func (c *Controller) waitWhilePaused(ctx context.Context) {
	for c.paused.Load() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pauseSleep):
		}
	}
}

func (c *Controller) bump(fn func(p *Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.progress)
}

func (c *Controller) reportProgress(ctx context.Context, runID string, stop <-chan struct{}) {
	ticker := time.NewTicker(progressCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.broadcastProgress(ctx, runID, "running")
		}
	}
}

func (c *Controller) broadcastProgress(ctx context.Context, runID, status string) {
	p := c.Progress()
	slog.Info("scan progress", "run_id", runID, "completed", p.Completed, "valid", p.Valid,
		"invalid", p.Invalid, "errors", p.Errors, "duplicates", p.Duplicates, "status", status)

	event := ws.ScanProgressEvent{
		RunID:          runID,
		CandidatesDone: p.Completed,
		ValidFound:     p.Valid,
		HoneypotsFound: 0,
		Status:         status,
	}

	if c.hub != nil {
		c.hub.BroadcastEvent(ctx, ws.EventScanProgress, event)
	}

	if c.bus != nil {
		if data, err := json.Marshal(event); err != nil {
			slog.Warn("marshal scan progress event for event bus", "error", err)
		} else if err := c.bus.Publish(ctx, scanProgressSubject, data); err != nil {
			slog.Warn("publish scan progress event to event bus", "error", err)
		}
	}

	if status == "completed" && c.alerts != nil {
		c.alerts.Notify(ctx, notifier.Notification{
			Title: "Scan run completed",
			Message: fmt.Sprintf("run %s: %d candidates, %d valid, %d invalid, %d errors, %d duplicates",
				runID, p.Completed, p.Valid, p.Invalid, p.Errors, p.Duplicates),
			Level:  "info",
			Source: alerting.SourceScanCompleted,
		})
	}
}
