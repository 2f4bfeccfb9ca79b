package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"termsguard/pkg/termsguard"
)

// TestEventBusPublishDeliversMatchingSubscriptions verifies filtered publish delivery.
func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *termsguard.Event, 1)
	_, err := bus.Subscribe(context.Background(), termsguard.InterestSet{
		Kinds: []termsguard.EventKind{termsguard.EventKindAnalysisCompleted},
	}, termsguard.SubscriptionSpec{
		Name: "match",
	}, func(_ context.Context, event *termsguard.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", termsguard.EventKindAnalysisCompleted)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.ID != "e1" {
			t.Fatalf("event id = %s, want e1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// TestEventBusBackpressurePolicies verifies queue behavior under each backpressure policy.
func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     termsguard.BackpressurePolicy
		wantEvents []string
	}{
		{
			name:       "drop newest keeps queued oldest",
			policy:     termsguard.BackpressureDropNewest,
			wantEvents: []string{"e1", "e2"},
		},
		{
			name:       "drop oldest keeps latest",
			policy:     termsguard.BackpressureDropOldest,
			wantEvents: []string{"e1", "e3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := NewEventBus(1, 1, time.Second, nil)
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			processed := make([]string, 0, 3)
			var first sync.Once
			var mu sync.Mutex

			_, err := bus.Subscribe(context.Background(), termsguard.InterestSet{
				Kinds: []termsguard.EventKind{termsguard.EventKindAnalysisCompleted},
			}, termsguard.SubscriptionSpec{
				Name:         "policy",
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *termsguard.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("e1", termsguard.EventKindAnalysisCompleted)); err != nil {
				t.Fatalf("publish e1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			if err := bus.Publish(context.Background(), newTestEvent("e2", termsguard.EventKindAnalysisCompleted)); err != nil {
				t.Fatalf("publish e2 failed: %v", err)
			}
			if err := bus.Publish(context.Background(), newTestEvent("e3", termsguard.EventKindAnalysisCompleted)); err != nil {
				t.Fatalf("publish e3 failed: %v", err)
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})

			mu.Lock()
			gotEvents := append([]string(nil), processed...)
			mu.Unlock()
			if gotEvents[0] != testCase.wantEvents[0] || gotEvents[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", gotEvents, testCase.wantEvents)
			}
		})
	}
}

func TestEventBusInterestFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interest termsguard.InterestSet
		event    func() *termsguard.Event
		want     bool
	}{
		{
			name:     "matching kind delivered",
			interest: termsguard.InterestSet{Kinds: []termsguard.EventKind{termsguard.EventKindAnalysisFailed}},
			event:    func() *termsguard.Event { return newTestEvent("e1", termsguard.EventKindAnalysisFailed) },
			want:     true,
		},
		{
			name:     "other kind filtered",
			interest: termsguard.InterestSet{Kinds: []termsguard.EventKind{termsguard.EventKindAnalysisCompleted}},
			event:    func() *termsguard.Event { return newTestEvent("e1", termsguard.EventKindAnalysisCached) },
			want:     false,
		},
		{
			name:     "tabless event filtered when tab required",
			interest: termsguard.InterestSet{RequireTab: true},
			event: func() *termsguard.Event {
				event := newTestEvent("e1", termsguard.EventKindAnalysisCompleted)
				event.TabID = ""
				return event
			},
			want: false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := NewEventBus(4, 1, time.Second, nil)
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			received := make(chan struct{}, 1)
			_, err := bus.Subscribe(context.Background(), testCase.interest, termsguard.NewDefaultSubscriptionSpec("filter"),
				func(_ context.Context, _ *termsguard.Event) error {
					received <- struct{}{}
					return nil
				})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}
			if err := bus.Publish(context.Background(), testCase.event()); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			select {
			case <-received:
				if !testCase.want {
					t.Fatal("event delivered, want filtered")
				}
			case <-time.After(200 * time.Millisecond):
				if testCase.want {
					t.Fatal("event filtered, want delivered")
				}
			}
		})
	}
}

func TestEventBusReportsHandlerPanics(t *testing.T) {
	t.Parallel()

	reported := make(chan string, 1)
	bus := NewEventBus(4, 1, time.Second, func(_ context.Context, scope string, _ error) {
		reported <- scope
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	_, err := bus.Subscribe(context.Background(), termsguard.InterestSet{}, termsguard.NewDefaultSubscriptionSpec("panicky"),
		func(_ context.Context, _ *termsguard.Event) error {
			panic("boom")
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("e1", termsguard.EventKindAnalysisCompleted)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case scope := <-reported:
		if scope != "panicky" {
			t.Fatalf("scope = %q, want panicky", scope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async error")
	}
}

// TestEventBusCloseRejectsNewPublish verifies publish rejection after bus closure.
func TestEventBusCloseRejectsNewPublish(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	err := bus.Publish(context.Background(), newTestEvent("e1", termsguard.EventKindAnalysisCompleted))
	if err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
}

// TestEventBusPublishNilEventReturnsError verifies nil event publish safety.
func TestEventBusPublishNilEventReturnsError(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if err := bus.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected nil event publish to fail")
	}
}

func TestEventBusStatsCountDroppedAndFailed(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(1, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	release := make(chan struct{})
	blocked := make(chan struct{})
	var first sync.Once
	_, err := bus.Subscribe(context.Background(), termsguard.InterestSet{}, termsguard.SubscriptionSpec{
		Name:         "counted",
		Backpressure: termsguard.BackpressureDropNewest,
	}, func(_ context.Context, event *termsguard.Event) error {
		first.Do(func() {
			close(blocked)
			<-release
		})
		if event.ID == "e2" {
			return errors.New("store unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", termsguard.EventKindAnalysisCompleted)); err != nil {
		t.Fatalf("publish e1 failed: %v", err)
	}
	<-blocked
	for _, id := range []string{"e2", "e3"} {
		if err := bus.Publish(context.Background(), newTestEvent(id, termsguard.EventKindAnalysisCompleted)); err != nil {
			t.Fatalf("publish %s failed: %v", id, err)
		}
	}
	close(release)

	want := []SubscriptionStats{{Name: "counted", Delivered: 1, Dropped: 1, Failed: 1}}
	eventually(t, 2*time.Second, func() bool {
		return cmp.Equal(want, bus.Stats())
	})
}

func TestEventBusSubscribeRejectsUnknownBackpressure(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(1, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	_, err := bus.Subscribe(context.Background(), termsguard.InterestSet{}, termsguard.SubscriptionSpec{
		Name:         "odd",
		Backpressure: termsguard.BackpressurePolicy("drop_everything"),
	}, func(context.Context, *termsguard.Event) error { return nil })
	if !errors.Is(err, termsguard.ErrInvalidSubscription) {
		t.Fatalf("Subscribe() error = %v, want ErrInvalidSubscription", err)
	}
	if got := bus.Stats(); len(got) != 0 {
		t.Fatalf("Stats() = %v, want no subscriptions", got)
	}
}

func newTestEvent(id string, kind termsguard.EventKind) *termsguard.Event {
	event := &termsguard.Event{
		ID:         id,
		Kind:       kind,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TabID:      "7",
		Action:     termsguard.ActionAnalyzeTerms,
	}

	switch kind {
	case termsguard.EventKindAnalysisCompleted, termsguard.EventKindAnalysisCached:
		event.Outcome = &termsguard.AnalysisOutcome{
			URL: "https://example.com/terms",
			Result: termsguard.AnalysisResult{
				Summary:      "ok",
				RiskAnalysis: termsguard.RiskAnalysis{RiskLevel: termsguard.RiskLevelLow},
			},
			Cached: kind == termsguard.EventKindAnalysisCached,
		}
	case termsguard.EventKindAnalysisFailed:
		event.Failure = &termsguard.EventFailure{
			Kind:    termsguard.AnalysisErrorKindBackendFailure,
			Message: "backend returned HTTP 500 after 3 attempts",
			URL:     "https://example.com/terms",
		}
	}

	return event
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
