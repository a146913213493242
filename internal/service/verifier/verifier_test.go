package verifier_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/CodeForge/internal/domain/benchmark"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
	"github.com/Strob0t/CodeForge/internal/service/verifier"
)

// fakeStore is a minimal in-memory catalog.Store + catalog.Tx used to drive
// the Verifier without a real database, in the teacher's hand-rolled mock
// style (see service.runtimeMockStore).
type fakeStore struct {
	mu        sync.Mutex
	endpoints map[int64]*endpoint.Endpoint
	verified  map[int64]*endpoint.VerifiedEndpoint
	models    map[int64][]model.Model
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		endpoints: map[int64]*endpoint.Endpoint{},
		verified:  map[int64]*endpoint.VerifiedEndpoint{},
		models:    map[int64][]model.Model{},
	}
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Tx) error) error {
	return fn(ctx, s)
}

func (s *fakeStore) KeepAlive(ctx context.Context) error { return nil }

func (s *fakeStore) GetEndpointByKey(ctx context.Context, key endpoint.Key) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.endpoints {
		if e.IP == key.IP && e.Port == key.Port {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetEndpoint(ctx context.Context, id int64) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) ListEndpoints(ctx context.Context, filter endpoint.ListFilter) ([]endpoint.Endpoint, error) {
	return nil, nil
}

func (s *fakeStore) EndpointDetail(ctx context.Context, id int64, historyLimit int) (*catalog.EndpointDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return nil, nil
	}
	d := &catalog.EndpointDetail{Endpoint: *e, Models: s.models[id]}
	if v, ok := s.verified[id]; ok {
		cp := *v
		d.Verified = &cp
	}
	return d, nil
}

func (s *fakeStore) ListModels(ctx context.Context, filter catalog.ModelListFilter) ([]model.Model, error) {
	return nil, nil
}

func (s *fakeStore) ListModelsByEndpoint(ctx context.Context, endpointID int64) ([]model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Model(nil), s.models[endpointID]...), nil
}

func (s *fakeStore) ResolveModel(ctx context.Context, selector string) (*dispatch.Resolved, error) {
	return nil, nil
}

func (s *fakeStore) AppendChatHistory(ctx context.Context, entry dispatch.ChatHistoryEntry) error {
	return nil
}

func (s *fakeStore) AppendBenchmarkResult(ctx context.Context, r benchmark.Result) (*benchmark.Result, error) {
	return nil, nil
}

func (s *fakeStore) GetBenchmarkResult(ctx context.Context, id int64) (*benchmark.Result, error) {
	return nil, nil
}

func (s *fakeStore) LatestBenchmark(ctx context.Context, endpointID int64) (*benchmark.Result, error) {
	return nil, nil
}

func (s *fakeStore) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (s *fakeStore) SetMetadata(ctx context.Context, key, value string) error { return nil }

func (s *fakeStore) Stats(ctx context.Context) (*catalog.Stats, error) { return nil, nil }

func (s *fakeStore) Health(ctx context.Context) (*catalog.HealthReport, error) { return nil, nil }

// catalog.Tx methods, implemented directly on fakeStore for simplicity.

func (s *fakeStore) UpsertEndpoint(ctx context.Context, key endpoint.Key, scanDate time.Time, status endpoint.UpsertStatus, preserveVerified bool) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.endpoints {
		if e.IP == key.IP && e.Port == key.Port {
			e.ScanDate = scanDate
			if !preserveVerified && status == endpoint.ScanStatusVerified {
				e.Verified = endpoint.VerifiedOK
			}
			cp := *e
			return &cp, nil
		}
	}

	s.nextID++
	e := &endpoint.Endpoint{ID: s.nextID, IP: key.IP, Port: key.Port, ScanDate: scanDate, Verified: endpoint.VerifiedNever}
	s.endpoints[e.ID] = e
	cp := *e
	return &cp, nil
}

func (s *fakeStore) MarkValid(ctx context.Context, endpointID int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[endpointID].Verified = endpoint.VerifiedOK
	s.endpoints[endpointID].IsActive = true
	return nil
}

func (s *fakeStore) MarkHoneypot(ctx context.Context, endpointID int64, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.endpoints[endpointID]
	e.IsHoneypot = true
	e.HoneypotReason = reason
	e.Verified = endpoint.VerifiedRejected
	return nil
}

func (s *fakeStore) MarkInvalid(ctx context.Context, endpointID int64, reason string, authRequired bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.endpoints[endpointID]
	e.Verified = endpoint.VerifiedRejected
	e.IsActive = false
	e.InactiveReason = reason
	e.AuthRequired = authRequired
	return nil
}

func (s *fakeStore) UpsertVerifiedEndpoint(ctx context.Context, endpointID int64, now time.Time, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[endpointID] = &endpoint.VerifiedEndpoint{EndpointID: endpointID, VerificationDate: now, VerificationMethod: method}
	return nil
}

func (s *fakeStore) DeleteVerifiedEndpoint(ctx context.Context, endpointID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verified, endpointID)
	return nil
}

func (s *fakeStore) ApplyModelDiff(ctx context.Context, endpointID int64, diff model.Diff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.models[endpointID]
	byName := map[string]model.Model{}
	for _, m := range current {
		byName[m.Name] = m
	}
	for _, m := range diff.Add {
		byName[m.Name] = m
	}
	for _, m := range diff.Update {
		byName[m.Name] = m
	}
	for _, m := range diff.Remove {
		delete(byName, m.Name)
	}
	out := make([]model.Model, 0, len(byName))
	for _, m := range byName {
		out = append(out, m)
	}
	s.models[endpointID] = out
	return nil
}

func (s *fakeStore) AppendEndpointVerification(ctx context.Context, v verification.EndpointVerification) error {
	return nil
}

// fakeProbe returns a canned ProbeResult regardless of target.
type fakeProbe struct {
	result verification.ProbeResult
}

func (f fakeProbe) Probe(ctx context.Context, ip string, port int) verification.ProbeResult {
	return f.result
}

func TestVerify_ValidResult_MarksVerifiedAndAddsModels(t *testing.T) {
	store := newFakeStore()
	probeClient := fakeProbe{result: verification.ProbeResult{
		APIType:      "ollama",
		Tags:         []verification.TagEntry{{Name: "llama3", Size: 4_000_000_000, HasSize: true}},
		GenerateBody: "Hello! I'm running fine, thanks for asking.",
	}}
	svc := verifier.New(store, probeClient, nil, nil)

	outcome, err := svc.Verify(context.Background(), verification.Request{IP: "198.51.100.5", Port: 11434})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Verdict != verification.VerdictValid {
		t.Fatalf("expected valid verdict, got %v (%s)", outcome.Verdict, outcome.Reason)
	}
	if outcome.ModelsAdded != 1 {
		t.Fatalf("expected 1 model added, got %d", outcome.ModelsAdded)
	}

	ep, _ := store.GetEndpoint(context.Background(), outcome.EndpointID)
	if ep.Verified != endpoint.VerifiedOK {
		t.Fatalf("expected endpoint marked verified, got %v", ep.Verified)
	}
}

func TestVerify_ProbeTransportError_MarksInvalid(t *testing.T) {
	store := newFakeStore()
	probeClient := fakeProbe{result: verification.ProbeResult{
		Err: &verification.ProbeError{Kind: verification.KindTransport, Step: "tags"},
	}}
	svc := verifier.New(store, probeClient, nil, nil)

	outcome, err := svc.Verify(context.Background(), verification.Request{IP: "198.51.100.6", Port: 11434})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Verdict != verification.VerdictInvalid {
		t.Fatalf("expected invalid verdict, got %v", outcome.Verdict)
	}
}

func TestVerify_AuthRequired_SetsFlag(t *testing.T) {
	store := newFakeStore()
	probeClient := fakeProbe{result: verification.ProbeResult{
		Err:          &verification.ProbeError{Kind: verification.KindAuthRequired, Step: "tags"},
		AuthRequired: true,
	}}
	svc := verifier.New(store, probeClient, nil, nil)

	outcome, err := svc.Verify(context.Background(), verification.Request{IP: "198.51.100.7", Port: 11434})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.AuthRequired {
		t.Fatal("expected AuthRequired to be set")
	}
}
