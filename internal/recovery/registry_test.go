package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/pkg/metrics"
)

type fakeNavigator struct{ routes []string }

func (n *fakeNavigator) Navigate(_ context.Context, route string) error {
	n.routes = append(n.routes, route)
	return nil
}

type fakeCache struct {
	cleared int
	err     error
}

func (c *fakeCache) ClearCache(context.Context) error {
	c.cleared++
	return c.err
}

type fakeSink struct{ handled []apperror.Context }

func (s *fakeSink) Handle(_ context.Context, err error, ec apperror.Context) *apperror.Error {
	s.handled = append(s.handled, ec)
	return apperror.Classify(err).WithContext(ec)
}

func TestActionsForKinds(t *testing.T) {
	r := NewRegistry(Deps{})

	tests := []struct {
		kind    apperror.Kind
		primary string
		ids     []string
	}{
		{apperror.KindAPIInvalidKey, ActionUpdateKey, []string{ActionUpdateKey}},
		{apperror.KindAPIRateLimited, ActionWaitAndRetry, []string{ActionWaitAndRetry}},
		{apperror.KindAPIQuotaExceeded, ActionOpenBilling, []string{ActionOpenBilling}},
		{apperror.KindAPIInsufficientFunds, ActionOpenBilling, []string{ActionOpenBilling}},
		{apperror.KindNetworkOffline, ActionCheckConnection, []string{ActionCheckConnection, ActionRetry}},
		{apperror.KindNetworkTimeout, ActionRetry, []string{ActionRetry}},
		{apperror.KindAPIModelOverloaded, ActionRetry, []string{ActionRetry}},
		{apperror.KindAudioPermissionDenied, ActionOpenAppSettings, []string{ActionOpenAppSettings}},
		{apperror.KindStorageFull, ActionFreeSpace, []string{ActionFreeSpace, ActionClearCache}},
		{apperror.KindStorageCorrupted, ActionResetData, []string{ActionResetData}},
		{apperror.KindValidation, ActionDismiss, []string{ActionDismiss}},
		{apperror.KindCancelled, ActionDismiss, []string{ActionDismiss}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			actions := r.ActionsFor(apperror.New(tt.kind, ""))
			if len(actions) != len(tt.ids) {
				t.Fatalf("got %d actions, want %d", len(actions), len(tt.ids))
			}
			for i, id := range tt.ids {
				if actions[i].ID != id {
					t.Errorf("action %d = %s, want %s", i, actions[i].ID, id)
				}
			}
			primary, ok := apperror.New(tt.kind, "").WithActions(actions).PrimaryAction()
			if !ok || primary.ID != tt.primary {
				t.Errorf("primary = %q, want %q", primary.ID, tt.primary)
			}
		})
	}
}

func TestEveryKindHasAnAction(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, k := range apperror.Kinds() {
		if len(r.ActionsFor(apperror.New(k, ""))) == 0 {
			t.Errorf("kind %s has no actions", k)
		}
	}
}

func TestDestructiveFlags(t *testing.T) {
	r := NewRegistry(Deps{})
	actions := r.ActionsFor(apperror.New(apperror.KindStorageFull, ""))
	clearAction, err := Find(actions, ActionClearCache)
	if err != nil {
		t.Fatal(err)
	}
	if !clearAction.Destructive {
		t.Error("clear cache should be destructive")
	}
	free, _ := Find(actions, ActionFreeSpace)
	if free.Destructive || free.Route != RouteStorage {
		t.Errorf("unexpected free space action %+v", free)
	}
	if _, err := Find(actions, "nope"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Find(nope) err = %v", err)
	}
}

func TestNavigationRunsWhenNavigatorPresent(t *testing.T) {
	nav := &fakeNavigator{}
	r := NewRegistry(Deps{Navigator: nav})
	actions := r.ActionsFor(apperror.New(apperror.KindAPIInvalidKey, ""))
	if err := r.Execute(context.Background(), actions[0]); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(nav.routes) != 1 || nav.routes[0] != RouteCredentials {
		t.Errorf("routes = %v", nav.routes)
	}
}

func TestActionsWithoutCollaboratorAreSkipped(t *testing.T) {
	r := NewRegistry(Deps{})
	actions := r.ActionsFor(apperror.New(apperror.KindAPIInvalidKey, ""))
	if actions[0].Run != nil {
		t.Fatal("no navigator means the client runs the action")
	}

	before := testutil.ToFloat64(metrics.RecoveryActionsTotal.WithLabelValues(ActionUpdateKey, "skipped"))
	if err := r.Execute(context.Background(), actions[0]); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	after := testutil.ToFloat64(metrics.RecoveryActionsTotal.WithLabelValues(ActionUpdateKey, "skipped"))
	if after-before != 1 {
		t.Errorf("skipped counter moved by %v, want 1", after-before)
	}
}

func TestWaitAndRetryUsesRetryAfter(t *testing.T) {
	var slept time.Duration
	retried := 0
	r := NewRegistry(Deps{
		Retry: func(context.Context, *apperror.Error) error {
			retried++
			return nil
		},
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = d
			return nil
		},
	})

	err := apperror.New(apperror.KindAPIRateLimited, "")
	err.RetryAfter = 12 * time.Second
	action := r.ActionsFor(err)[0]
	if execErr := r.Execute(context.Background(), action); execErr != nil {
		t.Fatalf("Execute: %v", execErr)
	}
	if slept != 12*time.Second || retried != 1 {
		t.Errorf("slept %v, retried %d", slept, retried)
	}

	action = r.ActionsFor(apperror.New(apperror.KindAPIRateLimited, ""))[0]
	_ = r.Execute(context.Background(), action)
	if slept != DefaultRateLimitWait {
		t.Errorf("default wait = %v, want %v", slept, DefaultRateLimitWait)
	}
}

func TestExecuteReportsFailure(t *testing.T) {
	cache := &fakeCache{err: errors.New("disk busy")}
	sink := &fakeSink{}
	r := NewRegistry(Deps{Cache: cache, Sink: sink})

	actions := r.ActionsFor(apperror.New(apperror.KindStorageFull, ""))
	clearAction, _ := Find(actions, ActionClearCache)

	err := r.Execute(context.Background(), clearAction)
	var aerr *apperror.Error
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want classified error", err)
	}
	if cache.cleared != 1 {
		t.Errorf("cleared = %d, want 1", cache.cleared)
	}
	if len(sink.handled) != 1 || sink.handled[0].Operation != ActionClearCache {
		t.Errorf("sink saw %+v", sink.handled)
	}
}

func TestResetDataClearsAndNavigatesHome(t *testing.T) {
	cache := &fakeCache{}
	nav := &fakeNavigator{}
	r := NewRegistry(Deps{Cache: cache, Navigator: nav})

	action := r.ActionsFor(apperror.New(apperror.KindStorageCorrupted, ""))[0]
	if err := r.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cache.cleared != 1 || len(nav.routes) != 1 || nav.routes[0] != RouteHome {
		t.Errorf("cleared=%d routes=%v", cache.cleared, nav.routes)
	}
}
