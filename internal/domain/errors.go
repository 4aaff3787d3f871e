package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotRegistered        = errors.New("not registered for this event")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrRecipientUnavailable = errors.New("recipient has not started the bot")
	ErrDeliveryFailure      = errors.New("delivery failed")
)

// ConfigurationError is fatal at startup: the bot must not serve traffic.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RateLimitedError carries how long the caller must wait before the next attempt.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", e.WaitSeconds())
}

// WaitSeconds rounds the wait up to whole seconds, never below 1.
func (e *RateLimitedError) WaitSeconds() int {
	s := int(math.Ceil(e.Wait.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
