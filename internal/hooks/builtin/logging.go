package builtin

import (
	"context"

	"deskctl/internal/hooks"
	"deskctl/pkg/logger"
)

// LoggingHandlers returns before/after dispatch handlers that emit debug
// logs for every command, useful when tracing why a GUI interaction went
// wrong.
func LoggingHandlers() (before, after *hooks.Handler) {
	before = &hooks.Handler{
		ID:          "builtin.logging.before",
		Priority:    100,
		Description: "log command dispatch start",
		Enabled:     true,
		Handler: func(ctx context.Context, hookCtx *hooks.Context) (*hooks.Result, error) {
			if cmd := hookCtx.Command; cmd != nil {
				logger.Named("dispatch").Debug().
					Str("command", cmd.Name).
					Str("command_id", cmd.CommandID).
					Msg("dispatching")
			}
			return nil, nil
		},
	}

	after = &hooks.Handler{
		ID:          "builtin.logging.after",
		Priority:    100,
		Description: "log command dispatch result",
		Enabled:     true,
		Handler: func(ctx context.Context, hookCtx *hooks.Context) (*hooks.Result, error) {
			if cmd := hookCtx.Command; cmd != nil {
				logger.Named("dispatch").Debug().
					Str("command", cmd.Name).
					Bool("success", cmd.Success).
					Dur("duration", cmd.Duration).
					Msg("dispatched")
			}
			return nil, nil
		},
	}
	return before, after
}
