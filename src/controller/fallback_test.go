package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackChain_PrimaryHit(t *testing.T) {
	chain := FallbackChain[int]{
		Primary: func(context.Context) ([]int, error) { return []int{1}, nil },
		Resolve: func(context.Context) ([]int64, error) { t.Fatal("resolve must not run"); return nil, nil },
	}
	out, err := chain.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, out.Rows)
	assert.Equal(t, []FallbackState{StatePrimary}, out.Trace)
	assert.False(t, out.NoData())
}

func TestFallbackChain_RetrySucceeds(t *testing.T) {
	var retried []int64
	chain := FallbackChain[string]{
		Primary: func(context.Context) ([]string, error) { return nil, nil },
		Resolve: func(context.Context) ([]int64, error) { return []int64{7, 8}, nil },
		Retry: func(_ context.Context, logins []int64) ([]string, error) {
			retried = logins
			return []string{"a", "b"}, nil
		},
	}
	out, err := chain.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, retried)
	assert.Equal(t, []string{"a", "b"}, out.Rows)
	assert.Equal(t, []FallbackState{StatePrimary, StateResolvingLogins, StateRetried}, out.Trace)
}

func TestFallbackChain_GivesUpAfterOneRetry(t *testing.T) {
	retries := 0
	chain := FallbackChain[string]{
		Primary: func(context.Context) ([]string, error) { return []string{}, nil },
		Resolve: func(context.Context) ([]int64, error) { return []int64{1}, nil },
		Retry: func(context.Context, []int64) ([]string, error) {
			retries++
			return nil, nil
		},
	}
	out, err := chain.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	assert.True(t, out.NoData())
	assert.Equal(t, []FallbackState{StatePrimary, StateResolvingLogins, StateRetried, StateEmpty}, out.Trace)
}

func TestFallbackChain_NoResolvedLogins(t *testing.T) {
	chain := FallbackChain[string]{
		Primary: func(context.Context) ([]string, error) { return nil, nil },
		Resolve: func(context.Context) ([]int64, error) { return nil, nil },
		Retry:   func(context.Context, []int64) ([]string, error) { t.Fatal("retry must not run"); return nil, nil },
	}
	out, err := chain.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.NoData())
	assert.Equal(t, []FallbackState{StatePrimary, StateResolvingLogins, StateEmpty}, out.Trace)
}

func TestFallbackChain_ErrorAborts(t *testing.T) {
	boom := errors.New("gateway down")
	chain := FallbackChain[string]{
		Primary: func(context.Context) ([]string, error) { return nil, nil },
		Resolve: func(context.Context) ([]int64, error) { return nil, boom },
	}
	_, err := chain.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "resolving_logins")
}
