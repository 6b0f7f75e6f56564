package cloud

import (
	"context"
	"time"
)

const (
	// DefaultPollInterval is the cadence of poll-waits against EC2.
	DefaultPollInterval = 5 * time.Second
	// DefaultWaitTimeout bounds how long a poll-wait watches a resource.
	DefaultWaitTimeout = 5 * time.Minute
)

// Condition describes one bounded poll-wait against a remote resource.
type Condition struct {
	// Resource names the thing being waited on, for errors and logs.
	Resource string
	// Want names the state being waited for.
	Want string
	// Poll fetches the current state.
	Poll func(ctx context.Context) (string, error)
	// Target reports whether state satisfies the wait.
	Target func(state string) bool
	// Failed reports whether state is terminal and wrong. Optional.
	Failed func(state string) bool
	// TransientPollErrors treats Poll errors as retryable. A freshly
	// created resource may not be visible to describe calls yet.
	TransientPollErrors bool

	Interval time.Duration // DefaultPollInterval when zero
	Timeout  time.Duration // DefaultWaitTimeout when zero
}

// Await polls at a fixed interval until Target is satisfied, Failed
// matches, or the budget runs out. It returns the last observed state
// alongside a *TimeoutError or *StateError. A wait whose budget cannot
// cover even one more interval times out without sleeping: the mutating
// call it follows has already been issued, so the caller learns
// immediately that confirmation will not come.
func Await(ctx context.Context, c Condition) (string, error) {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)

	var state string
	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		s, err := c.Poll(ctx)
		if err != nil {
			if !c.TransientPollErrors {
				return state, err
			}
		} else {
			state = s
			if c.Target(state) {
				return state, nil
			}
			if c.Failed != nil && c.Failed(state) {
				return state, &StateError{Resource: c.Resource, State: state}
			}
		}
		if time.Now().Add(interval).After(deadline) {
			return state, &TimeoutError{Resource: c.Resource, Want: c.Want, Timeout: timeout}
		}
		time.Sleep(interval)
	}
}
