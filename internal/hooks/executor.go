package hooks

import (
	"context"
	"fmt"
	"time"

	"deskctl/pkg/logger"
)

// Executor runs a chain of hook handlers. Handler failures never fail the
// command being dispatched; they are logged and the chain continues. A
// Block result short-circuits the chain.
type Executor struct {
	// HandlerTimeout bounds each handler invocation.
	HandlerTimeout time.Duration
}

// NewExecutor creates an executor with the default per-handler timeout.
func NewExecutor() *Executor {
	return &Executor{HandlerTimeout: 5 * time.Second}
}

// Execute runs the handlers in order and merges their results. The merged
// result carries the first Block and the last non-nil ModifiedParams.
func (e *Executor) Execute(ctx context.Context, handlers []*Handler, hookCtx *Context) *Result {
	merged := &Result{}

	for _, h := range handlers {
		if h.Async {
			go func(h *Handler) {
				_, err := e.executeHandler(context.WithoutCancel(ctx), h, hookCtx)
				if err != nil {
					logger.Warn().Err(err).Msg("async hook failed")
				}
			}(h)
			continue
		}

		res, err := e.executeHandler(ctx, h, hookCtx)
		if err != nil {
			logger.Warn().Err(&HandlerError{HookType: hookCtx.Type, HandlerID: h.ID, Cause: err}).
				Msg("hook handler failed")
			continue
		}
		if res == nil {
			continue
		}
		if res.ModifiedParams != nil {
			merged.ModifiedParams = res.ModifiedParams
			if hookCtx.Command != nil {
				hookCtx.Command.Params = res.ModifiedParams
			}
		}
		if res.Block {
			merged.Block = true
			merged.BlockReason = res.BlockReason
			return merged
		}
	}
	return merged
}

// executeHandler runs one handler with timeout and panic recovery.
func (e *Executor) executeHandler(ctx context.Context, h *Handler, hookCtx *Context) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	if e.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.HandlerTimeout)
		defer cancel()
	}
	return h.Handler(ctx, hookCtx)
}
