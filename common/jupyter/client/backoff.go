package client

import (
	"math"
	"time"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

// BackoffPolicy determines when, and whether, a lost connection is retried.
//
// The n-th retry (starting from 0) is scheduled Base^n units after the disconnect. Once Limit retries
// have been scheduled without a successful connection in between, the connection is given up on.
type BackoffPolicy struct {
	Base  float64
	Unit  time.Duration
	Limit int
}

// DefaultBackoffPolicy returns the policy of 1, 2, 4, ..., 64 seconds followed by giving up.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:  jupyter.DefaultBackoffBase,
		Unit:  jupyter.DefaultBackoffUnit,
		Limit: jupyter.DefaultReconnectLimit,
	}
}

// Delay returns the delay before the retry with the given attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	return time.Duration(math.Pow(p.Base, float64(attempt)) * float64(p.Unit))
}

// Exhausted returns true if no retry may be scheduled for the given attempt number.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt >= p.Limit
}
