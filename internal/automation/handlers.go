package automation

import (
	"context"
	"fmt"
	"time"

	"deskctl/internal/dispatcher"
	"deskctl/internal/health"
	"deskctl/internal/logring"
	"deskctl/pkg/logger"
)

// Capability tags the handlers require.
const (
	CapControl   = "control"
	CapHotReload = "hot_reload"
)

// Reloader is the slice of the plugin loader the reload handlers need.
type Reloader interface {
	ReloadModule(name string) error
	ReloadAll() error
	Modules() map[string]string
}

// HandlersConfig wires the automation handlers to their collaborators.
type HandlersConfig struct {
	Driver  *Driver
	Memory  *PositionMemory
	OCR     *OCRFacade
	Health  *health.Monitor
	LogRing *logring.Ring
	Loader  Reloader
	Restart RestartFunc

	MaxTreeDepth   int
	ScoreThreshold float64
	Input          InputConfig
}

// funcHandler adapts a closure to the dispatcher Handler interface.
type funcHandler struct {
	dispatcher.BaseHandler
	fn func(ctx context.Context, params map[string]any) (dispatcher.Response, error)
}

func (h *funcHandler) Execute(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
	return h.fn(ctx, params)
}

func handler(name, capability string, class dispatcher.ConcurrencyClass, timeout time.Duration,
	fn func(ctx context.Context, params map[string]any) (dispatcher.Response, error)) dispatcher.Handler {
	return &funcHandler{
		BaseHandler: dispatcher.BaseHandler{
			HandlerName: name,
			Capability:  capability,
			Class:       class,
			Timeout:     timeout,
		},
		fn: fn,
	}
}

// RegisterHandlers registers the full automation capability surface.
func RegisterHandlers(reg *dispatcher.Registry, cfg HandlersConfig) error {
	if cfg.MaxTreeDepth <= 0 {
		cfg.MaxTreeDepth = 15
	}

	scorer := NewScorer(cfg.Memory)
	if cfg.ScoreThreshold > 0 {
		scorer.Threshold = cfg.ScoreThreshold
	}
	engine := NewInputEngine(cfg.Driver, cfg.Memory, cfg.Input)
	if cfg.OCR != nil {
		engine.WithOCR(cfg.OCR)
	}

	handlers := []dispatcher.Handler{
		handler("ping", "", dispatcher.ClassIOLight, 5*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			return dispatcher.Success(map[string]any{"pong": true, "ts": time.Now().UTC().Format(time.RFC3339)}), nil
		}),

		handler("get_windows", "", dispatcher.ClassIOLight, 10*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			windows, err := GetWindows(cfg.Driver.Windows)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(map[string]any{"windows": windows, "count": len(windows)}), nil
		}),

		handler("find_cursor_windows", "", dispatcher.ClassIOLight, 10*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			pred := CursorPredicate()
			if sub, ok := stringParam(params, "name"); ok {
				pred = AppPredicate{NameSubstring: sub, Classes: chromiumWidgetClasses}
			}
			found, err := FindAppWindows(cfg.Driver.Windows, pred)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(found), nil
		}),

		handler("get_window_uia_structure", "", dispatcher.ClassGUIExclusive, 60*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			hwnd, ok := uintParam(params, "hwnd")
			if !ok {
				return invalidParam("hwnd is required"), nil
			}
			maxDepth := cfg.MaxTreeDepth
			if d, ok := intParam(params, "max_depth"); ok {
				maxDepth = d
			}

			root, err := cfg.Driver.UIA.RootElement(hwnd)
			if err != nil {
				return osError(err), nil
			}
			tree := WalkTree(root, maxDepth)
			return dispatcher.Success(map[string]any{"hwnd": hwnd, "max_depth": maxDepth, "tree": tree}), nil
		}),

		handler("send_text", CapControl, dispatcher.ClassGUIExclusive, 120*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			return sendTextHandler(ctx, cfg, engine, scorer, params)
		}),

		handler("submit", CapControl, dispatcher.ClassGUIExclusive, 10*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			if err := engine.Submit(); err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(map[string]any{"submitted": true}), nil
		}),

		handler("get_focused_value", "", dispatcher.ClassGUIExclusive, 15*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			hwnd, _ := uintParam(params, "hwnd")
			window, err := windowByHandle(cfg.Driver.Windows, hwnd)
			if err != nil {
				return invalidParam(err.Error()), nil
			}
			value, err := engine.FocusedValue(window)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(map[string]any{"value": value}), nil
		}),

		handler("screenshot", "", dispatcher.ClassBlocking, 30*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			hwnd, _ := uintParam(params, "hwnd")
			png, err := Screenshot(cfg.Driver, hwnd)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(EncodeImage(png)), nil
		}),

		handler("ocr_region", "", dispatcher.ClassBlocking, 60*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			x, okX := intParam(params, "x")
			y, okY := intParam(params, "y")
			w, okW := intParam(params, "w")
			h, okH := intParam(params, "h")
			if !okX || !okY || !okW || !okH {
				return invalidParam("x, y, w, h are required"), nil
			}
			if cfg.OCR == nil {
				return dispatcher.Fail(dispatcher.ErrCodeInvalidParam, "no ocr engine configured"), nil
			}

			png, err := cfg.Driver.Screen.CaptureRect(Rect{Left: x, Top: y, Right: x + w, Bottom: y + h})
			if err != nil {
				return osError(err), nil
			}
			results, err := cfg.OCR.DetectText(ctx, png)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(map[string]any{"results": results, "engines": cfg.OCR.Engines()}), nil
		}),

		handler("list_processes", "", dispatcher.ClassIOLight, 30*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			procs, err := ListProcesses(ctx)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(map[string]any{"processes": procs, "count": len(procs)}), nil
		}),

		handler("execute_program", CapControl, dispatcher.ClassBlocking, 300*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			path, ok := stringParam(params, "path")
			if !ok || path == "" {
				return invalidParam("path is required"), nil
			}
			args := stringSliceParam(params, "args")
			wait := boolParam(params, "wait")
			shell := boolParam(params, "shell")

			result, err := ExecuteProgram(ctx, path, args, wait, shell)
			if err != nil {
				return osError(err), nil
			}
			return dispatcher.Success(result), nil
		}),

		handler("restart_client", CapControl, dispatcher.ClassIOLight, 10*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			if cfg.Restart == nil {
				return dispatcher.Fail(dispatcher.ErrCodeInvalidParam, "restart not wired on this agent"), nil
			}
			delay := 1 * time.Second
			if d, ok := floatParam(params, "delay"); ok {
				delay = time.Duration(d * float64(time.Second))
			}
			reason, _ := stringParam(params, "reason")
			ScheduleRestart(cfg.Restart, delay, reason)
			return dispatcher.Success(map[string]any{"restarting_in": delay.Seconds(), "reason": reason}), nil
		}),

		handler("health", "", dispatcher.ClassIOLight, 5*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			if cfg.Health == nil {
				return dispatcher.Success(map[string]any{"status": "unknown"}), nil
			}
			return dispatcher.Success(cfg.Health.Report()), nil
		}),

		handler("query_logs", "", dispatcher.ClassIOLight, 10*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			if cfg.LogRing == nil {
				return dispatcher.Success(map[string]any{"records": []any{}}), nil
			}
			level, _ := stringParam(params, "level")
			contains, _ := stringParam(params, "contains")
			tail, _ := intParam(params, "tail")
			records := cfg.LogRing.Query(level, contains, tail)
			return dispatcher.Success(map[string]any{"records": records, "count": len(records)}), nil
		}),

		handler("set_log_level", "", dispatcher.ClassIOLight, 5*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			level, ok := stringParam(params, "level")
			if !ok {
				return invalidParam("level is required"), nil
			}
			logger.SetLevel(level)
			return dispatcher.Success(map[string]any{"level": level}), nil
		}),

		handler("list_handlers", "", dispatcher.ClassIOLight, 5*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			type info struct {
				Name       string  `json:"name"`
				Capability string  `json:"capability,omitempty"`
				Class      string  `json:"concurrency_class"`
				TimeoutS   float64 `json:"timeout_s"`
			}
			var out []info
			for _, h := range reg.List() {
				out = append(out, info{
					Name:       h.Name(),
					Capability: h.RequiredCapability(),
					Class:      string(h.ConcurrencyClass()),
					TimeoutS:   h.DefaultTimeout().Seconds(),
				})
			}
			return dispatcher.Success(map[string]any{"handlers": out, "count": len(out)}), nil
		}),

		handler("reload_module", CapHotReload, dispatcher.ClassIOLight, 30*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			if cfg.Loader == nil {
				return dispatcher.Fail(dispatcher.ErrCodeInvalidParam, "hot reload not configured"), nil
			}
			name, ok := stringParam(params, "name")
			if !ok {
				return invalidParam("name is required"), nil
			}
			if err := cfg.Loader.ReloadModule(name); err != nil {
				return dispatcher.Fail(dispatcher.ErrCodeInternal, err.Error()), nil
			}
			return dispatcher.Success(map[string]any{"reloaded": name}), nil
		}),

		handler("reload_all", CapHotReload, dispatcher.ClassIOLight, 60*time.Second, func(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
			if cfg.Loader == nil {
				return dispatcher.Fail(dispatcher.ErrCodeInvalidParam, "hot reload not configured"), nil
			}
			if err := cfg.Loader.ReloadAll(); err != nil {
				return dispatcher.Fail(dispatcher.ErrCodeInternal, err.Error()), nil
			}
			return dispatcher.Success(map[string]any{"modules": cfg.Loader.Modules()}), nil
		}),
	}

	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// sendTextHandler resolves the target and runs the send-text state
// machine.
func sendTextHandler(ctx context.Context, cfg HandlersConfig, engine *InputEngine, scorer *Scorer, params map[string]any) (dispatcher.Response, error) {
	text, ok := stringParam(params, "text")
	if !ok {
		return invalidParam("text is required"), nil
	}
	hwnd, ok := uintParam(params, "hwnd")
	if !ok {
		return invalidParam("hwnd is required"), nil
	}

	window, err := windowByHandle(cfg.Driver.Windows, hwnd)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	target := SendTarget{Window: window}
	switch {
	case boolParam(params, "use_focused"):
		// Focused element: no acquisition click.

	case hasParam(params, "x") && hasParam(params, "y"):
		x, _ := intParam(params, "x")
		y, _ := intParam(params, "y")
		target.Point = &Point{X: x, Y: y}

	case hasParam(params, "element_path"):
		path := stringSliceParam(params, "element_path")
		root, err := cfg.Driver.UIA.RootElement(hwnd)
		if err != nil {
			return osError(err), nil
		}
		tree := WalkTree(root, cfg.MaxTreeDepth)
		node, found := NodeAtPath(tree, path)
		if !found || node.Rectangle == nil {
			return invalidParam(fmt.Sprintf("element path %v not found", path)), nil
		}
		p := node.Rectangle.Center()
		target.Point = &p

	default:
		// Intent-level target: score the UIA tree plus heuristics.
		root, err := cfg.Driver.UIA.RootElement(hwnd)
		if err != nil {
			return osError(err), nil
		}
		tree := WalkTree(root, cfg.MaxTreeDepth)
		best, found := ResolveTargetPoint(tree, window, scorer, engine.cfg.InteractionKind)
		if !found {
			return dispatcher.Fail(dispatcher.ErrCodeInvalidParam, "no input candidate scored above threshold"), nil
		}
		p := best.Rect.Center()
		target.Point = &p
	}

	result, err := engine.SendText(ctx, target, text)
	if err != nil {
		if inputErr, ok := err.(*InputNotAppliedError); ok {
			details := map[string]any{"failures": inputErr.Failures}
			if result != nil {
				details["attempts"] = result.Attempts
				details["target"] = result.Target
			}
			return dispatcher.FailWithDetails(dispatcher.ErrCodeInputNotApplied, inputErr.Error(), details), nil
		}
		return osError(err), nil
	}

	resp := dispatcher.Success(result)
	resp.Metadata = map[string]any{"method": result.Method}
	return resp, nil
}

// windowByHandle finds a window record by hwnd; hwnd 0 means the
// foreground-most visible window is ambiguous, so it is an error.
func windowByHandle(ws WindowSystem, hwnd uintptr) (WindowRecord, error) {
	if hwnd == 0 {
		return WindowRecord{}, fmt.Errorf("hwnd is required")
	}
	all, err := ws.EnumWindows()
	if err != nil {
		return WindowRecord{}, err
	}
	for _, w := range all {
		if w.HWND == hwnd {
			return w, nil
		}
	}
	return WindowRecord{}, fmt.Errorf("no window with hwnd %d", hwnd)
}

func osError(err error) dispatcher.Response {
	return dispatcher.Fail(dispatcher.ErrCodeOSError, err.Error())
}

func invalidParam(msg string) dispatcher.Response {
	return dispatcher.Fail(dispatcher.ErrCodeInvalidParam, msg)
}

// Param helpers: JSON numbers arrive as float64.

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func hasParam(params map[string]any, key string) bool {
	_, ok := params[key]
	return ok
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func uintParam(params map[string]any, key string) (uintptr, bool) {
	v, ok := floatParam(params, key)
	if !ok || v < 0 {
		return 0, false
	}
	return uintptr(v), true
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		if ss, ok := params[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
