package termsguard

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("termsguard: invalid event")
	// ErrInvalidMessage indicates that an inbound message cannot be routed.
	ErrInvalidMessage = errors.New("termsguard: invalid message")
	// ErrUnknownAction indicates that no module registered the requested action.
	ErrUnknownAction = errors.New("termsguard: unknown action")
	// ErrActionAlreadyRegistered indicates duplicate action registration.
	ErrActionAlreadyRegistered = errors.New("termsguard: action already registered")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("termsguard: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("termsguard: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("termsguard: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("termsguard: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("termsguard: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("termsguard: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("termsguard: driver already registered")
	// ErrTabNotConnected indicates that a tab has no live delivery channel.
	ErrTabNotConnected = errors.New("termsguard: tab not connected")
)

// Analysis failure sentinels. Every *AnalysisError unwraps to the sentinel of its kind.
var (
	ErrInsufficientContent = errors.New("termsguard: insufficient content")
	ErrAlreadyProcessing   = errors.New("termsguard: analysis already in progress")
	ErrRateLimited         = errors.New("termsguard: rate limited")
	ErrBackendUnavailable  = errors.New("termsguard: backend unavailable")
	ErrTransientBackend    = errors.New("termsguard: transient backend failure")
	ErrBackendRateLimited  = errors.New("termsguard: backend rate limit exceeded")
	ErrBackendFailure      = errors.New("termsguard: backend failure")
	ErrMalformedResponse   = errors.New("termsguard: malformed backend response")
	ErrInvalidRequest      = errors.New("termsguard: invalid analysis request")
	ErrStorage             = errors.New("termsguard: storage failure")
)
