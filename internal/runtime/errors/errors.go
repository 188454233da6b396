package errors

import sterrors "errors"

var (
	ErrPublisherRequired    = sterrors.New("tripflow: publisher is required")
	ErrSubscriberRequired   = sterrors.New("tripflow: subscriber is required")
	ErrTopicRequired        = sterrors.New("tripflow: topic is required")
	ErrConfigRequired       = sterrors.New("tripflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("tripflow: logger is required")
	ErrBookingIDRequired    = sterrors.New("tripflow: booking id is required")
	ErrUnknownListingType   = sterrors.New("tripflow: unknown listing type")
	ErrUnknownEventType     = sterrors.New("tripflow: unknown event type")
	ErrUnknownStatus        = sterrors.New("tripflow: unknown booking status")
	ErrPayloadRequired      = sterrors.New("tripflow: booking payload is required")
	ErrPayloadMismatch      = sterrors.New("tripflow: payload does not match listing type")
	ErrListingTypeMismatch  = sterrors.New("tripflow: event listing type not tracked by this projection")
	ErrHeaderMismatch       = sterrors.New("tripflow: message headers disagree with the body")
	ErrConsumerNotConnected = sterrors.New("tripflow: consumer is not subscribed")
	ErrConsumerRunning      = sterrors.New("tripflow: consumer is already running")
	ErrConsumerClosed       = sterrors.New("tripflow: consumer is disconnected")
)

// ConfigValidationError marks an invalid configuration so bootstrap code can
// tell it apart from transport failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "tripflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
