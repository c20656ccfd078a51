package controller

import (
	"context"
	"fmt"
)

// FallbackState is a step of the empty-result fallback chain.
type FallbackState int

const (
	StatePrimary FallbackState = iota
	StateResolvingLogins
	StateRetried
	StateEmpty
)

func (s FallbackState) String() string {
	switch s {
	case StatePrimary:
		return "primary"
	case StateResolvingLogins:
		return "resolving_logins"
	case StateRetried:
		return "retried"
	case StateEmpty:
		return "empty"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FallbackChain runs Primary; on an empty result it resolves logins through
// group membership and calls Retry exactly once. A second empty result ends
// in StateEmpty, which is not an error.
type FallbackChain[T any] struct {
	Primary func(ctx context.Context) ([]T, error)
	Resolve func(ctx context.Context) ([]int64, error)
	Retry   func(ctx context.Context, logins []int64) ([]T, error)
}

type FallbackOutcome[T any] struct {
	Rows  []T
	Final FallbackState
	Trace []FallbackState
}

// NoData reports whether the chain gave up without rows.
func (o FallbackOutcome[T]) NoData() bool { return o.Final == StateEmpty }

func (c FallbackChain[T]) Run(ctx context.Context) (FallbackOutcome[T], error) {
	var (
		out      FallbackOutcome[T]
		resolved []int64
	)
	state := StatePrimary

	for {
		out.Trace = append(out.Trace, state)
		out.Final = state

		switch state {
		case StatePrimary:
			rows, err := c.Primary(ctx)
			if err != nil {
				return out, fmt.Errorf("%s: %w", state, err)
			}
			if len(rows) > 0 {
				out.Rows = rows
				return out, nil
			}
			state = StateResolvingLogins

		case StateResolvingLogins:
			if c.Resolve == nil {
				state = StateEmpty
				continue
			}
			logins, err := c.Resolve(ctx)
			if err != nil {
				return out, fmt.Errorf("%s: %w", state, err)
			}
			if len(logins) == 0 {
				state = StateEmpty
				continue
			}
			resolved = logins
			state = StateRetried

		case StateRetried:
			rows, err := c.Retry(ctx, resolved)
			if err != nil {
				return out, fmt.Errorf("%s: %w", state, err)
			}
			if len(rows) > 0 {
				out.Rows = rows
				return out, nil
			}
			state = StateEmpty

		case StateEmpty:
			return out, nil
		}
	}
}
