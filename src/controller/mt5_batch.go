package controller

import (
	"context"
	"errors"
	"fmt"
)

// LoginChunkSize is the largest login list sent in one gateway batch call.
const LoginChunkSize = 200

var ErrNoLoginsOrGroups = errors.New("logins or groups parameter required")

// ChunkLogins splits logins into consecutive slices of at most size entries.
func ChunkLogins(logins []int64, size int) [][]int64 {
	if size <= 0 {
		size = LoginChunkSize
	}
	chunks := make([][]int64, 0, (len(logins)+size-1)/size)
	for start := 0; start < len(logins); start += size {
		end := start + size
		if end > len(logins) {
			end = len(logins)
		}
		chunks = append(chunks, logins[start:end])
	}
	return chunks
}

// FetchChunked issues fetch once per chunk, in order, and concatenates the
// results. The first failing chunk aborts the call; results already collected
// are dropped.
func FetchChunked[T any](ctx context.Context, logins []int64, size int, fetch func(context.Context, []int64) ([]T, error)) ([]T, error) {
	chunks := ChunkLogins(logins, size)
	out := make([]T, 0, len(logins))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := fetch(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("batch chunk %d/%d: %w", i+1, len(chunks), err)
		}
		out = append(out, items...)
	}
	return out, nil
}

type LoginResolver interface {
	UserLogins(ctx context.Context, groups []string) ([]int64, error)
}

// ResolveLogins returns logins unchanged when present, otherwise the members
// of groups.
func ResolveLogins(ctx context.Context, r LoginResolver, logins []int64, groups []string) ([]int64, error) {
	if len(logins) > 0 {
		return logins, nil
	}
	if len(groups) == 0 {
		return nil, ErrNoLoginsOrGroups
	}
	resolved, err := r.UserLogins(ctx, groups)
	if err != nil {
		return nil, fmt.Errorf("resolve logins: %w", err)
	}
	return resolved, nil
}
