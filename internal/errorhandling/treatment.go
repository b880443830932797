package errorhandling

import (
	"time"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

// Presentation is how the client surfaces an error.
type Presentation string

const (
	PresentationBlocking     Presentation = "blocking"
	PresentationDialog       Presentation = "dialog"
	PresentationNotification Presentation = "notification"
	PresentationSilent       Presentation = "silent"
)

// NotificationTimeout is how long a notification stays on screen.
const NotificationTimeout = 5 * time.Second

// UITreatment describes the presentation chosen for a severity.
type UITreatment struct {
	Presentation      Presentation  `json:"presentation"`
	Dismissible       bool          `json:"dismissible"`
	ShowPrimaryAction bool          `json:"show_primary_action"`
	AutoDismissAfter  time.Duration `json:"auto_dismiss_after,omitempty"`
}

// Treatment maps a severity to its presentation. Severity alone decides;
// the kind does not.
func Treatment(severity apperror.Severity) UITreatment {
	switch severity {
	case apperror.SeverityCritical:
		return UITreatment{Presentation: PresentationBlocking, ShowPrimaryAction: true}
	case apperror.SeverityHigh:
		return UITreatment{Presentation: PresentationDialog, Dismissible: true, ShowPrimaryAction: true}
	case apperror.SeverityMedium:
		return UITreatment{Presentation: PresentationNotification, Dismissible: true, AutoDismissAfter: NotificationTimeout}
	default:
		return UITreatment{Presentation: PresentationSilent}
	}
}
