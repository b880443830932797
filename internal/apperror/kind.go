// Package apperror defines the closed error taxonomy of the orchestration
// layer and the classifier that maps raw transport failures onto it.
package apperror

// Kind identifies one classified failure. The set is closed: every Kind has a
// row in the descriptor table below.
type Kind string

const (
	KindNetworkOffline Kind = "NETWORK_OFFLINE"
	KindNetworkTimeout Kind = "NETWORK_TIMEOUT"
	KindNetworkSlow    Kind = "NETWORK_SLOW"

	KindAPIInvalidKey        Kind = "API_INVALID_KEY"
	KindAPIRateLimited       Kind = "API_RATE_LIMITED"
	KindAPIQuotaExceeded     Kind = "API_QUOTA_EXCEEDED"
	KindAPIInsufficientFunds Kind = "API_INSUFFICIENT_FUNDS"
	KindAPIModelOverloaded   Kind = "API_MODEL_OVERLOADED"
	KindAPIServerError       Kind = "API_SERVER_ERROR"

	KindAudioPermissionDenied Kind = "AUDIO_PERMISSION_DENIED"
	KindAudioDeviceBusy       Kind = "AUDIO_DEVICE_BUSY"
	KindAudioRecordingFailed  Kind = "AUDIO_RECORDING_FAILED"
	KindAudioPlaybackFailed   Kind = "AUDIO_PLAYBACK_FAILED"

	KindStorageFull          Kind = "STORAGE_FULL"
	KindStorageCorrupted     Kind = "STORAGE_CORRUPTED"
	KindStorageQuotaExceeded Kind = "STORAGE_QUOTA_EXCEEDED"

	KindUnknown    Kind = "UNKNOWN"
	KindValidation Kind = "VALIDATION_ERROR"
	KindCancelled  Kind = "CANCELLED"
)

// Family groups kinds for reporting.
type Family string

const (
	FamilyNetwork Family = "network"
	FamilyAPI     Family = "api"
	FamilyAudio   Family = "audio"
	FamilyStorage Family = "storage"
	FamilyGeneral Family = "general"
)

// Severity drives the UI treatment of an error.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (0) to CRITICAL (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Strategy is the default recovery strategy for a kind.
type Strategy string

const (
	StrategyRetry      Strategy = "RETRY"
	StrategyFallback   Strategy = "FALLBACK"
	StrategyDegrade    Strategy = "DEGRADE"
	StrategyUserAction Strategy = "USER_ACTION"
	StrategyRestart    Strategy = "RESTART"
	StrategyIgnore     Strategy = "IGNORE"
)

type descriptor struct {
	family      Family
	severity    Severity
	strategy    Strategy
	userMessage string
}

var descriptors = map[Kind]descriptor{
	KindNetworkOffline: {FamilyNetwork, SeverityHigh, StrategyUserAction,
		"You appear to be offline. Check your internet connection and try again."},
	KindNetworkTimeout: {FamilyNetwork, SeverityMedium, StrategyRetry,
		"The request took too long. Retrying..."},
	KindNetworkSlow: {FamilyNetwork, SeverityLow, StrategyDegrade,
		"Your connection is slow. Responses may take longer than usual."},

	KindAPIInvalidKey: {FamilyAPI, SeverityCritical, StrategyUserAction,
		"Your API key is invalid. Update it in settings to continue."},
	KindAPIRateLimited: {FamilyAPI, SeverityMedium, StrategyRetry,
		"Too many requests. Waiting a moment before trying again."},
	KindAPIQuotaExceeded: {FamilyAPI, SeverityHigh, StrategyUserAction,
		"Your API quota has been used up. Check your plan to continue."},
	KindAPIInsufficientFunds: {FamilyAPI, SeverityHigh, StrategyUserAction,
		"Your account balance is too low. Add credit to continue."},
	KindAPIModelOverloaded: {FamilyAPI, SeverityMedium, StrategyRetry,
		"The model is busy right now. Retrying..."},
	KindAPIServerError: {FamilyAPI, SeverityMedium, StrategyRetry,
		"The service had a problem. Retrying..."},

	KindAudioPermissionDenied: {FamilyAudio, SeverityHigh, StrategyUserAction,
		"Microphone access is needed for voice chat. Enable it in settings."},
	KindAudioDeviceBusy: {FamilyAudio, SeverityMedium, StrategyRetry,
		"The microphone is in use by another app."},
	KindAudioRecordingFailed: {FamilyAudio, SeverityMedium, StrategyRetry,
		"Recording failed. Please try again."},
	KindAudioPlaybackFailed: {FamilyAudio, SeverityLow, StrategyDegrade,
		"Audio playback failed. The response is shown as text."},

	KindStorageFull: {FamilyStorage, SeverityHigh, StrategyUserAction,
		"Your device is out of storage. Free some space to continue."},
	KindStorageCorrupted: {FamilyStorage, SeverityCritical, StrategyRestart,
		"Saved data is damaged and needs to be reset."},
	KindStorageQuotaExceeded: {FamilyStorage, SeverityHigh, StrategyUserAction,
		"Storage limit reached. Clear old conversations to continue."},

	KindUnknown: {FamilyGeneral, SeverityMedium, StrategyRetry,
		"Something went wrong. Retrying..."},
	KindValidation: {FamilyGeneral, SeverityLow, StrategyUserAction,
		"Please check your input and try again."},
	KindCancelled: {FamilyGeneral, SeverityLow, StrategyIgnore,
		"The request was cancelled."},
}

// Kinds returns every kind in the taxonomy.
func Kinds() []Kind {
	out := make([]Kind, 0, len(descriptors))
	for k := range descriptors {
		out = append(out, k)
	}
	return out
}

// Known reports whether k belongs to the taxonomy.
func (k Kind) Known() bool {
	_, ok := descriptors[k]
	return ok
}

func (k Kind) describe() descriptor {
	if d, ok := descriptors[k]; ok {
		return d
	}
	return descriptors[KindUnknown]
}

// Family returns the family the kind belongs to.
func (k Kind) Family() Family { return k.describe().family }

// DefaultSeverity returns the severity assigned to new errors of this kind.
func (k Kind) DefaultSeverity() Severity { return k.describe().severity }

// DefaultStrategy returns the recovery strategy assigned to new errors of this kind.
func (k Kind) DefaultStrategy() Strategy { return k.describe().strategy }

// UserMessage returns the display text for the kind.
func (k Kind) UserMessage() string { return k.describe().userMessage }
