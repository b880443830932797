// Package recovery builds the concrete recovery actions offered for a
// classified error and executes them.
package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
	"github.com/capitalize-ai/voice-orchestrator/pkg/metrics"
)

// Action is a recovery action offered to the user.
type Action = apperror.RecoveryAction

// Routes opened by navigation actions.
const (
	RouteCredentials = "settings/credentials"
	RouteBilling     = "settings/billing"
	RouteNetwork     = "settings/network"
	RouteAppSettings = "settings/app"
	RouteStorage     = "settings/storage"
	RouteHome        = "home"
)

// Action identifiers.
const (
	ActionUpdateKey       = "update_api_key"
	ActionWaitAndRetry    = "wait_and_retry"
	ActionOpenBilling     = "open_billing"
	ActionCheckConnection = "check_connection"
	ActionRetry           = "retry"
	ActionOpenAppSettings = "open_app_settings"
	ActionFreeSpace       = "free_space"
	ActionClearCache      = "clear_cache"
	ActionResetData       = "reset_data"
	ActionDismiss         = "dismiss"
)

// DefaultRateLimitWait is used by wait-and-retry when the error carries no
// Retry-After hint.
const DefaultRateLimitWait = 60 * time.Second

// Navigator opens a screen in the client.
type Navigator interface {
	Navigate(ctx context.Context, route string) error
}

// CacheCleaner drops cached data to free space.
type CacheCleaner interface {
	ClearCache(ctx context.Context) error
}

// FailureSink receives failures of recovery actions themselves.
type FailureSink interface {
	Handle(ctx context.Context, err error, ec apperror.Context) *apperror.Error
}

// RetryHook re-runs the operation that produced err.
type RetryHook func(ctx context.Context, err *apperror.Error) error

// Deps are the collaborators actions may use. Any of them may be nil; actions
// whose collaborator is missing are returned without a Run func so the
// client carries them out itself.
type Deps struct {
	Navigator Navigator
	Cache     CacheCleaner
	Retry     RetryHook
	Sink      FailureSink
	Logger    *logger.Logger

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Registry maps error kinds to recovery actions.
type Registry struct {
	deps Deps
	log  *logger.Logger
}

// NewRegistry creates a registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	return &Registry{
		deps: deps,
		log:  logger.OrNop(deps.Logger).Component("recovery"),
	}
}

// SetSink sets the failure sink after construction. The error handling
// service and the registry refer to each other, so one side is wired late.
func (r *Registry) SetSink(sink FailureSink) {
	r.deps.Sink = sink
}

// ActionsFor returns the actions offered for err. The result is never empty:
// kinds without a specific remedy get a dismiss action.
func (r *Registry) ActionsFor(err *apperror.Error) []Action {
	if err == nil {
		return nil
	}

	var actions []Action
	switch err.Kind {
	case apperror.KindAPIInvalidKey:
		actions = append(actions, r.navigate(ActionUpdateKey, "Update API key",
			"Enter a valid API key in settings.", RouteCredentials, true))

	case apperror.KindAPIRateLimited:
		actions = append(actions, r.waitAndRetry(err))

	case apperror.KindAPIQuotaExceeded, apperror.KindAPIInsufficientFunds:
		actions = append(actions, r.navigate(ActionOpenBilling, "Open billing",
			"Review your plan and account balance.", RouteBilling, true))

	case apperror.KindNetworkOffline:
		actions = append(actions,
			r.navigate(ActionCheckConnection, "Check connection",
				"Open network settings.", RouteNetwork, true),
			r.retry(err, false),
		)

	case apperror.KindNetworkTimeout, apperror.KindAPIServerError,
		apperror.KindAPIModelOverloaded, apperror.KindUnknown,
		apperror.KindAudioDeviceBusy, apperror.KindAudioRecordingFailed:
		actions = append(actions, r.retry(err, true))

	case apperror.KindAudioPermissionDenied:
		actions = append(actions, r.navigate(ActionOpenAppSettings, "Open settings",
			"Allow microphone access for this app.", RouteAppSettings, true))

	case apperror.KindStorageFull, apperror.KindStorageQuotaExceeded:
		actions = append(actions,
			r.navigate(ActionFreeSpace, "Free up space",
				"Open storage settings to remove data.", RouteStorage, true),
			r.clearCache(),
		)

	case apperror.KindStorageCorrupted:
		actions = append(actions, r.resetData())
	}

	if len(actions) == 0 {
		actions = append(actions, Action{
			ID:      ActionDismiss,
			Label:   "Dismiss",
			Primary: true,
		})
	}
	return actions
}

// Attach returns a copy of err carrying its recovery actions.
func (r *Registry) Attach(err *apperror.Error) *apperror.Error {
	if err == nil {
		return nil
	}
	return err.WithActions(r.ActionsFor(err))
}

// Execute runs action. A failing action is reported to the failure sink and
// its classified error returned. Actions without a Run func are no-ops.
func (r *Registry) Execute(ctx context.Context, action Action) error {
	if action.Run == nil {
		metrics.RecoveryActionsTotal.WithLabelValues(action.ID, "skipped").Inc()
		return nil
	}

	if err := action.Run(ctx); err != nil {
		metrics.RecoveryActionsTotal.WithLabelValues(action.ID, "failed").Inc()
		r.log.Warn("Recovery action failed", zap.String("action", action.ID), zap.Error(err))

		ec := apperror.Context{Component: "recovery", Operation: action.ID}
		if r.deps.Sink != nil {
			return r.deps.Sink.Handle(ctx, err, ec)
		}
		return apperror.Classify(err).WithContext(ec)
	}

	metrics.RecoveryActionsTotal.WithLabelValues(action.ID, "success").Inc()
	r.log.Info("Recovery action completed", zap.String("action", action.ID))
	return nil
}

func (r *Registry) navigate(id, label, description, route string, primary bool) Action {
	a := Action{
		ID:          id,
		Label:       label,
		Description: description,
		Route:       route,
		Primary:     primary,
	}
	if nav := r.deps.Navigator; nav != nil {
		a.Run = func(ctx context.Context) error {
			return nav.Navigate(ctx, route)
		}
	}
	return a
}

func (r *Registry) retry(err *apperror.Error, primary bool) Action {
	a := Action{
		ID:          ActionRetry,
		Label:       "Try again",
		Description: "Send the request again.",
		Primary:     primary,
	}
	if hook := r.deps.Retry; hook != nil {
		a.Run = func(ctx context.Context) error {
			return hook(ctx, err)
		}
	}
	return a
}

func (r *Registry) waitAndRetry(err *apperror.Error) Action {
	wait := err.RetryAfter
	if wait <= 0 {
		wait = DefaultRateLimitWait
	}
	a := Action{
		ID:          ActionWaitAndRetry,
		Label:       "Wait and retry",
		Description: "Wait for the rate limit to reset, then try again.",
		Primary:     true,
	}
	if hook := r.deps.Retry; hook != nil {
		a.Run = func(ctx context.Context) error {
			if serr := r.deps.Sleep(ctx, wait); serr != nil {
				return serr
			}
			return hook(ctx, err)
		}
	}
	return a
}

func (r *Registry) clearCache() Action {
	a := Action{
		ID:          ActionClearCache,
		Label:       "Clear cache",
		Description: "Delete cached data. Conversations are kept.",
		Destructive: true,
	}
	if c := r.deps.Cache; c != nil {
		a.Run = c.ClearCache
	}
	return a
}

func (r *Registry) resetData() Action {
	a := Action{
		ID:          ActionResetData,
		Label:       "Reset data",
		Description: "Delete damaged saved data and start fresh.",
		Route:       RouteHome,
		Primary:     true,
		Destructive: true,
	}
	if c := r.deps.Cache; c != nil {
		nav := r.deps.Navigator
		a.Run = func(ctx context.Context) error {
			if err := c.ClearCache(ctx); err != nil {
				return err
			}
			if nav != nil {
				return nav.Navigate(ctx, RouteHome)
			}
			return nil
		}
	}
	return a
}

// Find returns the action with the given id.
func Find(actions []Action, id string) (Action, error) {
	for _, a := range actions {
		if a.ID == id {
			return a, nil
		}
	}
	return Action{}, ErrUnknownAction
}

// ErrUnknownAction is returned by Find when no action matches.
var ErrUnknownAction = errors.New("unknown recovery action")

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
