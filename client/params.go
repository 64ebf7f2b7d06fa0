package client

import "time"

// Params holds the tunables for the sync engine. Use DefaultParams and
// override individual fields as needed.
type Params struct {
	// ReconnectAttempts is how many times the transport retries after the
	// connection drops before giving up and reporting StateFailed.
	ReconnectAttempts int

	// ReconnectDelay is the fixed pause between reconnect attempts.
	ReconnectDelay time.Duration

	// DialTimeout bounds a single websocket dial.
	DialTimeout time.Duration

	// TypingDebounce is how long after the last keystroke the outbound
	// typing indicator is withdrawn.
	TypingDebounce time.Duration

	// TypingExpiry clears a peer's typing indicator when no typing_stop
	// arrives. Should be a few multiples of TypingDebounce.
	TypingExpiry time.Duration

	// DividerGap is the silence between consecutive messages past which the
	// display inserts a time divider.
	DividerGap time.Duration
}

// DefaultParams returns the default Params.
func DefaultParams() Params {
	return Params{
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		DialTimeout:       20 * time.Second,
		TypingDebounce:    time.Second,
		TypingExpiry:      3 * time.Second,
		DividerGap:        5 * time.Minute,
	}
}
