package channels

// ChannelError represents an error in channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the operation can
// be retried by the caller's own policy. Structural failures (no recipient
// address, no connection configured) never become retryable.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case "NO_RECIPIENT", "NO_CONNECTION", "UNSUPPORTED_CHANNEL":
		return false
	default:
		return true
	}
}

var (
	ErrNoRecipient        = &ChannelError{Code: "NO_RECIPIENT", Message: "recipient address missing for channel"}
	ErrNoConnection       = &ChannelError{Code: "NO_CONNECTION", Message: "no active connection configured for channel"}
	ErrUnsupportedChannel = &ChannelError{Code: "UNSUPPORTED_CHANNEL", Message: "channel has no outbound transport"}
	ErrSendFailed         = &ChannelError{Code: "SEND_FAILED", Message: "provider rejected the outbound message"}
)
