package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type hookResult[T any] struct {
	v   T
	err error
}

// callHook runs fn bounded by timeout and ctx. A hook still running when
// the deadline passes is abandoned and the deadline error returned;
// panics become errors. If release is non-nil it receives any value the
// abandoned hook returns later.
func callHook[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error), release func(T)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan hookResult[T], 1)
	go func() {
		var r hookResult[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("panic: %v", p)
			}
			done <- r
		}()
		r.v, r.err = fn(ctx)
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil && !errors.Is(r.err, ctx.Err()) {
			r.err = fmt.Errorf("%w: %v", ctx.Err(), r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		if release != nil {
			go func() {
				if r := <-done; r.err == nil {
					release(r.v)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

func runHook(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := callHook(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}
