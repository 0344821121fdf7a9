package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pagepress/internal/content"
	"pagepress/internal/entitlement"
	"pagepress/internal/export"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	// script maps a prompt to the errors returned on successive calls;
	// once the script runs out the generator succeeds.
	script map[string][]error
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: map[string]int{}, script: map[string][]error{}}
}

func (g *fakeGenerator) Generate(_ context.Context, spec InputSpec) (*content.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := g.calls[spec.Prompt]
	g.calls[spec.Prompt] = call + 1
	if s := g.script[spec.Prompt]; call < len(s) {
		return nil, s[call]
	}
	return &content.Model{
		Title: spec.Name,
		Sections: []content.Section{
			{Kind: content.KindAbout, About: &content.About{Heading: spec.Name, Body: "generated for " + spec.Prompt}},
		},
	}, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved map[string][]byte
	fail  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: map[string][]byte{}}
}

func (s *fakeStore) Save(_ context.Context, name string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return "", errors.New("connection reset")
	}
	key := "artifacts/" + name
	s.saved[key] = data
	return key, nil
}

type fakeQuota struct {
	remaining int
	tier      entitlement.Tier
}

func (q fakeQuota) Remaining(context.Context, uint) (int, error) {
	return q.remaining, nil
}

func (q fakeQuota) PlanTier(context.Context, uint) (entitlement.Tier, error) {
	if q.tier == "" {
		return entitlement.TierFree, nil
	}
	return q.tier, nil
}

func newTestOrchestrator(gen Generator, store Store, remaining int) *Orchestrator {
	o := NewOrchestrator(gen, store, fakeQuota{remaining: remaining}, nil)
	o.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}
	return o
}

func specs(prompts ...string) []InputSpec {
	out := make([]InputSpec, len(prompts))
	for i, p := range prompts {
		out[i] = InputSpec{Name: p, Prompt: p}
	}
	return out
}

func TestRunRejectsWholeBatchOnQuota(t *testing.T) {
	o := newTestOrchestrator(newFakeGenerator(), newFakeStore(), 1)
	_, err := o.Run(context.Background(), 1, specs("a", "b", "c"), Options{})
	if !errors.Is(err, ErrInsufficientQuota) {
		t.Fatalf("expected ErrInsufficientQuota, got %v", err)
	}
}

func TestRunTransientRetryAndQuotaFailure(t *testing.T) {
	// spec.md worked example: "Topic A" fails transiently once then
	// succeeds; "Topic B" hits the quota error class immediately.
	gen := newFakeGenerator()
	gen.script["Topic A"] = []error{Transient(errors.New("timeout"))}
	gen.script["Topic B"] = []error{NonRetryable(ReasonQuotaExhausted)}
	store := newFakeStore()
	o := newTestOrchestrator(gen, store, 10)

	results, err := o.Run(context.Background(), 1, specs("Topic A", "Topic B"), Options{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].Status != StatusSuccess || results[0].Attempts != 2 {
		t.Fatalf("job A: %+v", results[0])
	}
	if results[1].Status != StatusFailed || results[1].Reason != ReasonQuotaExhausted || results[1].Attempts != 1 {
		t.Fatalf("job B: %+v", results[1])
	}

	bundle, err := Package(results, export.FormatPDF)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		t.Fatalf("bundle is not a zip: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("archive should contain exactly one artifact, has %d", len(zr.File))
	}
}

func TestRunExhaustsRetries(t *testing.T) {
	gen := newFakeGenerator()
	gen.script["flaky"] = []error{
		Transient(errors.New("502")),
		Transient(errors.New("502")),
		Transient(errors.New("502")),
	}
	o := newTestOrchestrator(gen, newFakeStore(), 10)

	results, err := o.Run(context.Background(), 1, specs("flaky", "solid"), Options{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != StatusFailed || results[0].Attempts != 3 {
		t.Fatalf("flaky job: %+v", results[0])
	}
	// One job's failure never aborts the batch.
	if results[1].Status != StatusSuccess {
		t.Fatalf("solid job: %+v", results[1])
	}
}

func TestRunJobIsolation(t *testing.T) {
	gen := newFakeGenerator()
	gen.script["bad"] = []error{NonRetryable("model refused")}
	o := newTestOrchestrator(gen, newFakeStore(), 10)

	results, err := o.Run(context.Background(), 1, specs("bad", "good"), Options{MaxAttempts: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != StatusFailed || results[0].Reason != "model refused" {
		t.Fatalf("bad job: %+v", results[0])
	}
	if results[1].Status != StatusSuccess || results[1].Attempts != 1 {
		t.Fatalf("good job attempt count affected by sibling: %+v", results[1])
	}
}

func TestRunMidBatchQuotaShortCircuits(t *testing.T) {
	gen := newFakeGenerator()
	gen.script["second"] = []error{NonRetryable(ReasonQuotaExhausted)}
	o := newTestOrchestrator(gen, newFakeStore(), 10)

	results, err := o.Run(context.Background(), 1, specs("first", "second", "third", "fourth"), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != StatusSuccess {
		t.Fatalf("first: %+v", results[0])
	}
	for _, r := range results[1:] {
		if r.Status != StatusFailed || r.Reason != ReasonQuotaExhausted {
			t.Fatalf("expected quota short-circuit, got %+v", r)
		}
	}
	// third/fourth 不应再调用生成器。
	if gen.calls["third"] != 0 || gen.calls["fourth"] != 0 {
		t.Fatalf("short-circuited jobs still called the generator: %v", gen.calls)
	}
}

func TestRunResultsKeepInputOrderWithConcurrency(t *testing.T) {
	gen := newFakeGenerator()
	store := newFakeStore()
	o := newTestOrchestrator(gen, store, 100)

	var inputs []string
	for i := 0; i < 20; i++ {
		inputs = append(inputs, fmt.Sprintf("doc-%02d", i))
	}

	results, err := o.Run(context.Background(), 1, specs(inputs...), Options{ConcurrencyLimit: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != len(inputs) {
		t.Fatalf("expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if r.Index != i || r.Spec.Prompt != inputs[i] {
			t.Fatalf("result %d out of order: %+v", i, r)
		}
		if r.Status != StatusSuccess {
			t.Fatalf("result %d failed: %+v", i, r)
		}
	}
}

func TestRunProgressReporting(t *testing.T) {
	o := newTestOrchestrator(newFakeGenerator(), newFakeStore(), 10)

	var progress []Progress
	opts := Options{OnProgress: func(p Progress) { progress = append(progress, p) }}
	if _, err := o.Run(context.Background(), 1, specs("a", "b", "c"), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	last := progress[len(progress)-1]
	if last.Completed != 3 || last.Total != 3 {
		t.Fatalf("final progress wrong: %+v", last)
	}
}

func TestRunCancellationSettlesAllJobs(t *testing.T) {
	gen := newFakeGenerator()
	gen.script["a"] = []error{Transient(errors.New("timeout"))}
	o := newTestOrchestrator(gen, newFakeStore(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel while job "a" sits in its backoff sleep.
	o.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return context.Canceled
	}

	results, err := o.Run(ctx, 1, specs("a", "b", "c"), Options{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("every spec needs a result, got %d", len(results))
	}
	for i, r := range results {
		if r.Status != StatusFailed || r.Reason != "canceled" {
			t.Fatalf("job %d should settle as canceled: %+v", i, r)
		}
	}
}

func TestRunStoreFailureIsRetried(t *testing.T) {
	store := newFakeStore()
	store.fail = 1
	o := newTestOrchestrator(newFakeGenerator(), store, 10)

	results, err := o.Run(context.Background(), 1, specs("x"), Options{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != StatusSuccess || results[0].Attempts != 2 {
		t.Fatalf("store retry: %+v", results[0])
	}
}

func TestPackageRequiresSuccesses(t *testing.T) {
	results := []JobResult{
		{Index: 0, Status: StatusFailed, Reason: "nope"},
	}
	if _, err := Package(results, export.FormatPDF); err == nil {
		t.Fatal("expected error when nothing succeeded")
	}
}

func TestArtifactNameStable(t *testing.T) {
	spec := InputSpec{Name: "Café Menü — Sommer 2026!"}
	got := artifactName(3, spec, export.FormatPDF)
	want := "004-caf-men-sommer-2026.pdf"
	if got != want {
		t.Fatalf("artifact name %q, want %q", got, want)
	}
}
