// Package verifier implements the Verifier (C4): it drives one Candidate
// through the Probe Client and Honeypot Classifier and commits the outcome
// to the Catalog Store inside a single transaction, mirroring the thin
// store+hub service shape used throughout internal/service.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/CodeForge/internal/adapter/otel"
	"github.com/Strob0t/CodeForge/internal/adapter/ws"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/honeypot"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
	"github.com/Strob0t/CodeForge/internal/port/broadcast"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
	"github.com/Strob0t/CodeForge/internal/port/eventbus"
	"github.com/Strob0t/CodeForge/internal/port/notifier"
	"github.com/Strob0t/CodeForge/internal/port/probe"
	"github.com/Strob0t/CodeForge/internal/service/alerting"
)

// verificationsSubject is the NATS subject verification outcomes publish
// onto for external (non-WebSocket) consumers, per §4's domain stack table.
const verificationsSubject = "verifications.result"

// Service orchestrates §4.4's full algorithm: upsert, probe, classify,
// branch, commit.
type Service struct {
	store   catalog.Store
	probe   probe.Client
	hub     broadcast.Broadcaster
	bus     eventbus.Publisher
	alerts  *alerting.Service
	metrics *cfotel.Metrics
	nowFn   func() time.Time
}

// New creates a Verifier service. hub and bus may be nil to disable
// WebSocket broadcasting and event-bus publishing respectively.
func New(store catalog.Store, client probe.Client, hub broadcast.Broadcaster, bus eventbus.Publisher) *Service {
	return &Service{store: store, probe: client, hub: hub, bus: bus, nowFn: time.Now}
}

// WithAlerts attaches an alerting.Service so honeypot detections are posted
// to the configured Discord/Slack webhooks. Returns the receiver for chaining.
func (s *Service) WithAlerts(alerts *alerting.Service) *Service {
	s.alerts = alerts
	return s
}

// WithMetrics attaches OTEL metric instruments so verdicts are counted.
// Returns the receiver for chaining.
func (s *Service) WithMetrics(metrics *cfotel.Metrics) *Service {
	s.metrics = metrics
	return s
}

// Verify runs one candidate through the full verification algorithm —
// upsert, probe, classify, branch, commit — as a single transaction per
// §4.4, so a failure anywhere leaves the row exactly as it was found.
func (s *Service) Verify(ctx context.Context, req verification.Request) (*verification.Outcome, error) {
	now := s.nowFn().UTC()
	key := endpoint.Key{IP: req.IP, Port: req.Port}
	outcome := &verification.Outcome{IP: req.IP, Port: req.Port}
	var postCommitAlert *notifier.Notification

	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		ep, err := tx.UpsertEndpoint(ctx, key, now, req.ScanStatus, req.PreserveVerified)
		if err != nil {
			return fmt.Errorf("upsert endpoint: %w", err)
		}
		endpointID := ep.ID
		outcome.EndpointID = endpointID

		probeCtx, probeSpan := cfotel.StartProbeSpan(ctx, req.IP, req.Port)
		probeStart := s.nowFn()
		result := s.probe.Probe(probeCtx, req.IP, req.Port)
		s.recordProbeDuration(ctx, s.nowFn().Sub(probeStart))
		probeSpan.End()

		if result.Err != nil {
			outcome.AuthRequired = result.AuthRequired
			outcome.Verdict = verification.VerdictInvalid
			if result.AuthRequired {
				outcome.Reason = "authentication required"
			} else {
				outcome.Reason = result.Err.Error()
			}
			return tx.MarkInvalid(ctx, endpointID, outcome.Reason, outcome.AuthRequired, now)
		}

		classification := honeypot.Classify(result)
		outcome.Verdict = classification.Verdict
		outcome.Reason = classification.Reason

		observed := modelsFromTags(endpointID, result.Tags)

		switch classification.Verdict {
		case verification.VerdictValid:
			if err := tx.MarkValid(ctx, endpointID, now); err != nil {
				return err
			}
			if err := tx.UpsertVerifiedEndpoint(ctx, endpointID, now, "probe"); err != nil {
				return err
			}

			stored, err := tx.ListModelsByEndpoint(ctx, endpointID)
			if err != nil {
				return err
			}
			diff := model.Reconcile(stored, observed)
			if err := tx.ApplyModelDiff(ctx, endpointID, diff); err != nil {
				return err
			}
			outcome.ModelsAdded = len(diff.Add)
			outcome.ModelsUpdated = len(diff.Update)
			outcome.ModelsRemoved = len(diff.Remove)

			return tx.AppendEndpointVerification(ctx, verification.EndpointVerification{
				EndpointID:       endpointID,
				VerificationDate: now,
				ResponseSample:   verification.CapSample(result.GenerateBody),
				DetectedModels:   result.Tags,
				IsHoneypot:       false,
				ResponseMetrics:  result.Metrics,
			})

		case verification.VerdictHoneypot:
			if err := tx.MarkHoneypot(ctx, endpointID, classification.Reason, now); err != nil {
				return err
			}
			if err := tx.DeleteVerifiedEndpoint(ctx, endpointID); err != nil {
				return err
			}
			if err := tx.AppendEndpointVerification(ctx, verification.EndpointVerification{
				EndpointID:       endpointID,
				VerificationDate: now,
				ResponseSample:   verification.CapSample(result.GenerateBody),
				DetectedModels:   result.Tags,
				IsHoneypot:       true,
				ResponseMetrics:  result.Metrics,
			}); err != nil {
				return err
			}
			postCommitAlert = &notifier.Notification{
				Title:   "Honeypot detected",
				Message: fmt.Sprintf("%s:%d classified as honeypot: %s", req.IP, req.Port, classification.Reason),
				Level:   "warning",
				Source:  alerting.SourceHoneypotDetected,
			}
			return nil

		default: // VerdictInvalid
			return tx.MarkInvalid(ctx, endpointID, classification.Reason, false, now)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("commit verdict: %w", err)
	}

	if postCommitAlert != nil && s.alerts != nil {
		s.alerts.Notify(ctx, *postCommitAlert)
	}

	s.recordVerdict(ctx, outcome.Verdict)
	s.broadcast(ctx, outcome)
	return outcome, nil
}

// recordVerdict increments the verdict counter matching outcome.Verdict. A
// nil metrics set (OTEL disabled) is a no-op.
func (s *Service) recordVerdict(ctx context.Context, verdict verification.Verdict) {
	if s.metrics == nil {
		return
	}
	switch verdict {
	case verification.VerdictValid:
		s.metrics.VerdictsValid.Add(ctx, 1)
	case verification.VerdictHoneypot:
		s.metrics.VerdictsHoneypot.Add(ctx, 1)
	default:
		s.metrics.VerdictsInvalid.Add(ctx, 1)
	}
}

// recordProbeDuration records the Probe Client's end-to-end duration. A nil
// metrics set (OTEL disabled) is a no-op.
func (s *Service) recordProbeDuration(ctx context.Context, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProbeDuration.Record(ctx, d.Seconds())
}

func (s *Service) broadcast(ctx context.Context, outcome *verification.Outcome) {
	slog.Info("endpoint verified",
		"endpoint_id", outcome.EndpointID, "ip", outcome.IP, "port", outcome.Port,
		"verdict", outcome.Verdict, "reason", outcome.Reason)

	event := ws.VerificationResultEvent{
		EndpointID: outcome.EndpointID,
		IP:         outcome.IP,
		Port:       outcome.Port,
		Verdict:    outcome.Verdict.String(),
		Reason:     outcome.Reason,
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventVerificationResult, event)
	}

	if s.bus != nil {
		if data, err := json.Marshal(event); err != nil {
			slog.Warn("marshal verification event for event bus", "error", err)
		} else if err := s.bus.Publish(ctx, verificationsSubject, data); err != nil {
			slog.Warn("publish verification event to event bus", "error", err)
		}
	}
}

func modelsFromTags(endpointID int64, tags []verification.TagEntry) []model.Model {
	out := make([]model.Model, 0, len(tags))
	for _, t := range tags {
		sizeMB := float64(t.Size) / (1024 * 1024)
		out = append(out, model.FillInferred(model.Model{
			EndpointID:        endpointID,
			Name:              t.Name,
			ParameterSize:     t.ParameterSize,
			QuantizationLevel: t.QuantizationLevel,
			SizeMB:            sizeMB,
		}))
	}
	return out
}
