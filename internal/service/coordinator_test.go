package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jarto666/scriptforge/internal/domain"
	"github.com/jarto666/scriptforge/internal/events"
)

// stubGenerator resolves units according to a per-call decision function.
// An optional barrier releases every in-flight call at the same instant.
type stubGenerator struct {
	barrier chan struct{}
	decide  func(script *domain.Script) error
}

func (g *stubGenerator) Generate(ctx context.Context, script *domain.Script, _ domain.Platform, _ domain.QualityTier, _ *domain.Persona) (*domain.ScriptContent, error) {
	if g.barrier != nil {
		select {
		case <-g.barrier:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if g.decide != nil {
		if err := g.decide(script); err != nil {
			return nil, err
		}
	}
	return &domain.ScriptContent{
		Hook: "hook for " + script.Angle,
		Body: "body",
		CTA:  "cta",
	}, nil
}

func validConfig(count int) domain.BatchConfig {
	return domain.BatchConfig{
		RequestedCount: count,
		Platform:       domain.PlatformTikTok,
		Angles:         domain.StringArray{"pain_agitation", "problem_solution"},
		Durations:      domain.IntArray{15, 30},
	}
}

// collect subscribes to both topics of a batch and returns channels that
// receive every published event.
func collect(bus *events.Bus, batchID string, buffer int) (<-chan events.Progress, <-chan events.Completed) {
	progress := make(chan events.Progress, buffer)
	completed := make(chan events.Completed, buffer)
	bus.Subscribe(events.ProgressTopic(batchID), func(e interface{}) {
		progress <- e.(events.Progress)
	})
	bus.Subscribe(events.CompletedTopic(batchID), func(e interface{}) {
		completed <- e.(events.Completed)
	})
	return progress, completed
}

func TestCreateBatchRejectsInvalidConfiguration(t *testing.T) {
	bus := events.NewBus()
	c := NewCoordinator(bus, &stubGenerator{}, nil, nil, nil)

	published := 0
	bus.Subscribe(events.ProgressTopic("any"), func(interface{}) { published++ })

	tests := []struct {
		name string
		cfg  domain.BatchConfig
	}{
		{"zero count", func() domain.BatchConfig { c := validConfig(6); c.RequestedCount = 0; return c }()},
		{"empty angles", func() domain.BatchConfig { c := validConfig(6); c.Angles = nil; return c }()},
		{"empty durations", func() domain.BatchConfig { c := validConfig(6); c.Durations = nil; return c }()},
		{"count over limit", validConfig(201)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			batch, err := c.CreateBatch(context.Background(), "p1", tc.cfg)
			if !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
			if batch != nil {
				t.Error("no batch should be created on invalid configuration")
			}
		})
	}

	if published != 0 {
		t.Errorf("invalid configurations published %d events", published)
	}
}

func TestCreateBatchExpandsAndCycles(t *testing.T) {
	c := NewCoordinator(events.NewBus(), &stubGenerator{}, nil, nil, nil)

	batch, err := c.CreateBatch(context.Background(), "p1", validConfig(6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if batch.TotalScripts != 6 || len(batch.Scripts) != 6 {
		t.Fatalf("expected 6 scripts, got total=%d len=%d", batch.TotalScripts, len(batch.Scripts))
	}

	unique := map[string]bool{}
	for _, s := range batch.Scripts {
		if s.BatchID != batch.ID {
			t.Errorf("script %s has wrong batch id %s", s.ID, s.BatchID)
		}
		if s.Status != domain.ScriptStatusPending {
			t.Errorf("script %s dispatched before Start: %s", s.ID, s.Status)
		}
		unique[fmt.Sprintf("%s/%d", s.Angle, s.DurationSec)] = true
	}
	if len(unique) != 4 {
		t.Errorf("expected 4 unique (angle,duration) pairs, got %d", len(unique))
	}
}

func TestBatchRunHappyPathAccounting(t *testing.T) {
	bus := events.NewBus()
	gen := &stubGenerator{}
	c := NewCoordinator(bus, gen, nil, nil, nil)

	batch, err := c.CreateBatch(context.Background(), "p1", validConfig(6))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	progressCh, completedCh := collect(bus, batch.ID, 16)

	if err := c.Start(context.Background(), batch, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitCompleted(t, completedCh)
	if final.TotalScripts != 6 || final.CompletedScripts != 6 || final.FailedScripts != 0 {
		t.Errorf("completed event counts wrong: %+v", final)
	}
	if final.ProjectID != "p1" {
		t.Errorf("completed event project id = %q", final.ProjectID)
	}

	assertMonotonicProgress(t, drainProgress(progressCh), 6)
}

func TestBatchPartialFailureIsAbsorbed(t *testing.T) {
	bus := events.NewBus()
	fail := map[string]bool{}
	var failMu sync.Mutex
	failures := 0
	gen := &stubGenerator{decide: func(s *domain.Script) error {
		failMu.Lock()
		defer failMu.Unlock()
		// Fail exactly one unit.
		if failures == 0 && !fail[s.ID] {
			failures++
			fail[s.ID] = true
			return errors.New("model timeout")
		}
		return nil
	}}
	c := NewCoordinator(bus, gen, nil, nil, nil)

	cfg := validConfig(4)
	batch, err := c.CreateBatch(context.Background(), "p1", cfg)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	progressCh, completedCh := collect(bus, batch.ID, 16)
	if err := c.Start(context.Background(), batch, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitCompleted(t, completedCh)
	if final.CompletedScripts != 3 || final.FailedScripts != 1 || final.TotalScripts != 4 {
		t.Errorf("expected 3 completed / 1 failed / 4 total, got %+v", final)
	}

	progress := drainProgress(progressCh)
	assertMonotonicProgress(t, progress, 4)

	failedSeen := 0
	for _, p := range progress {
		if p.Status == events.WireStatusFailed {
			failedSeen++
		}
	}
	if failedSeen != 1 {
		t.Errorf("expected exactly 1 failed progress event, got %d", failedSeen)
	}
}

func TestExactlyOneCompletionUnderSimultaneousFinish(t *testing.T) {
	// All units block on a barrier and are released at the same instant;
	// the completion event must still be emitted exactly once.
	for round := 0; round < 20; round++ {
		bus := events.NewBus()
		barrier := make(chan struct{})
		gen := &stubGenerator{barrier: barrier}
		c := NewCoordinator(bus, gen, nil, nil, nil)

		cfg := validConfig(24)
		batch, err := c.CreateBatch(context.Background(), "p1", cfg)
		if err != nil {
			t.Fatalf("CreateBatch: %v", err)
		}

		var mu sync.Mutex
		completions := 0
		bus.Subscribe(events.CompletedTopic(batch.ID), func(interface{}) {
			mu.Lock()
			completions++
			mu.Unlock()
		})
		progressCh, completedCh := collect(bus, batch.ID, 64)

		if err := c.Start(context.Background(), batch, nil); err != nil {
			t.Fatalf("Start: %v", err)
		}
		close(barrier)

		waitCompleted(t, completedCh)
		// Give any erroneous duplicate a chance to surface.
		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		got := completions
		mu.Unlock()
		if got != 1 {
			t.Fatalf("round %d: %d completion events published, want exactly 1", round, got)
		}

		assertMonotonicProgress(t, drainProgress(progressCh), 24)
	}
}

func TestCancelAccountsOutstandingUnitsAsFailed(t *testing.T) {
	bus := events.NewBus()
	barrier := make(chan struct{})
	gen := &stubGenerator{barrier: barrier}
	c := NewCoordinator(bus, gen, nil, nil, nil)

	batch, err := c.CreateBatch(context.Background(), "p1", validConfig(6))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	_, completedCh := collect(bus, batch.ID, 16)
	if err := c.Start(context.Background(), batch, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Cancel(batch.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitCompleted(t, completedCh)
	if final.FailedScripts != 6 || final.CompletedScripts != 0 {
		t.Errorf("cancelled batch should fail all units, got %+v", final)
	}

	// The run retires shortly after the completion event; finalization runs
	// after publication, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, live := c.Counters(batch.ID); !live {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run still registered after terminal state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Cancel(batch.ID); !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("cancelling a finished batch should report not found, got %v", err)
	}
}

func TestStartRejectsNonCreatedBatch(t *testing.T) {
	c := NewCoordinator(events.NewBus(), &stubGenerator{}, nil, nil, nil)
	batch, err := c.CreateBatch(context.Background(), "p1", validConfig(2))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	batch.Status = domain.BatchStatusCompleted
	if err := c.Start(context.Background(), batch, nil); !errors.Is(err, domain.ErrBatchTerminal) {
		t.Errorf("expected ErrBatchTerminal, got %v", err)
	}
}

func TestCountersInvariantDuringRun(t *testing.T) {
	bus := events.NewBus()
	gen := &stubGenerator{}
	c := NewCoordinator(bus, gen, nil, nil, nil)

	batch, err := c.CreateBatch(context.Background(), "p1", validConfig(50))
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	progressCh, completedCh := collect(bus, batch.ID, 128)
	if err := c.Start(context.Background(), batch, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCompleted(t, completedCh)

	for _, p := range drainProgress(progressCh) {
		if p.CompletedCount+p.FailedCount+p.GeneratingCount != p.TotalCount {
			t.Fatalf("counter snapshot inconsistent: %+v", p)
		}
		if p.CompletedCount+p.FailedCount > p.TotalCount {
			t.Fatalf("terminal count exceeds total: %+v", p)
		}
	}
}

func waitCompleted(t *testing.T, ch <-chan events.Completed) events.Completed {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion event")
		return events.Completed{}
	}
}

func drainProgress(ch <-chan events.Progress) []events.Progress {
	var out []events.Progress
	for {
		select {
		case p := <-ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

func assertMonotonicProgress(t *testing.T, progress []events.Progress, wantCount int) {
	t.Helper()
	if len(progress) != wantCount {
		t.Fatalf("expected %d progress events, got %d", wantCount, len(progress))
	}
	prev := -1.0
	for i, p := range progress {
		if p.Progress < 0 || p.Progress > 1 {
			t.Errorf("event %d: progress %v outside [0,1]", i, p.Progress)
		}
		if p.Progress < prev {
			t.Errorf("event %d: progress %v decreased from %v", i, p.Progress, prev)
		}
		prev = p.Progress
		if terminal := p.CompletedCount + p.FailedCount; terminal != i+1 {
			t.Errorf("event %d: terminal count %d, want %d", i, terminal, i+1)
		}
	}
	if progress[len(progress)-1].Progress != 1 {
		t.Errorf("final progress = %v, want 1", progress[len(progress)-1].Progress)
	}
}
