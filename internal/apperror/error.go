package apperror

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Context describes where an error occurred.
type Context struct {
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RecoveryAction is a concrete remedy offered for an error. Run may be nil
// for actions that are carried out entirely by the UI; Route then names the
// screen the UI should open.
type RecoveryAction struct {
	ID          string                          `json:"id"`
	Label       string                          `json:"label"`
	Description string                          `json:"description"`
	Route       string                          `json:"route,omitempty"`
	Primary     bool                            `json:"is_primary"`
	Destructive bool                            `json:"is_destructive"`
	Run         func(ctx context.Context) error `json:"-"`
}

// Error is one classified failure occurrence. Values are treated as
// immutable: the With* helpers return modified copies.
type Error struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"code"`
	Message     string           `json:"message"`
	UserMessage string           `json:"user_message"`
	Severity    Severity         `json:"severity"`
	Strategy    Strategy         `json:"recovery_strategy"`
	Timestamp   time.Time        `json:"timestamp"`
	Context     *Context         `json:"context,omitempty"`
	StatusCode  int              `json:"status_code,omitempty"`
	RetryAfter  time.Duration    `json:"retry_after,omitempty"`
	Actions     []RecoveryAction `json:"recovery_actions,omitempty"`

	cause error
}

// New creates an error of the given kind with its default severity,
// strategy and user message.
func New(kind Kind, message string) *Error {
	if !kind.Known() {
		kind = KindUnknown
	}
	return &Error{
		ID:          uuid.NewString(),
		Kind:        kind,
		Message:     message,
		UserMessage: kind.UserMessage(),
		Severity:    kind.DefaultSeverity(),
		Strategy:    kind.DefaultStrategy(),
		Timestamp:   time.Now(),
	}
}

// Wrap creates an error of the given kind that keeps cause in its chain.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.cause = cause
	if message == "" && cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by kind so errors.Is(err, apperror.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the strategy allows a blind retry.
func (e *Error) Retryable() bool {
	return e.Strategy == StrategyRetry
}

func (e *Error) clone() *Error {
	c := *e
	if e.Context != nil {
		ctx := *e.Context
		ctx.Metadata = maps.Clone(e.Context.Metadata)
		c.Context = &ctx
	}
	c.Actions = slices.Clone(e.Actions)
	return &c
}

// WithContext returns a copy carrying ec. Fields already set on the error
// win over empty fields of ec.
func (e *Error) WithContext(ec Context) *Error {
	c := e.clone()
	if c.Context == nil {
		c.Context = &Context{}
	}
	if c.Context.Component == "" {
		c.Context.Component = ec.Component
	}
	if c.Context.Operation == "" {
		c.Context.Operation = ec.Operation
	}
	if len(ec.Metadata) > 0 {
		if c.Context.Metadata == nil {
			c.Context.Metadata = make(map[string]string, len(ec.Metadata))
		}
		for k, v := range ec.Metadata {
			if _, exists := c.Context.Metadata[k]; !exists {
				c.Context.Metadata[k] = v
			}
		}
	}
	return c
}

// WithActions returns a copy carrying the given recovery actions.
func (e *Error) WithActions(actions []RecoveryAction) *Error {
	c := e.clone()
	c.Actions = slices.Clone(actions)
	return c
}

// PrimaryAction returns the first action flagged primary, if any.
func (e *Error) PrimaryAction() (RecoveryAction, bool) {
	for _, a := range e.Actions {
		if a.Primary {
			return a, true
		}
	}
	return RecoveryAction{}, false
}
