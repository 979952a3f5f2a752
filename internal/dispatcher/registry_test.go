package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoolSizes() PoolSizes {
	return PoolSizes{IOLight: 4, GUIExclusive: 1, Blocking: 2}
}

func newMockHandler(name string, class ConcurrencyClass, fn func(ctx context.Context, params map[string]any) (Response, error)) *mockHandler {
	return &mockHandler{
		BaseHandler: BaseHandler{HandlerName: name, Class: class},
		execFn:      fn,
	}
}

type staticCaps map[string]bool

func (c staticCaps) Has(name string) bool { return c[name] }

func TestNewRegistryEmpty(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	assert.Equal(t, 0, r.Len())
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := newMockHandler("ping", ClassIOLight, func(ctx context.Context, p map[string]any) (Response, error) {
		return Success("pong"), nil
	})

	require.NoError(t, r.Register(h))

	got, ok := r.Get("ping")
	require.True(t, ok)
	assert.Equal(t, "ping", got.Name())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := newMockHandler("ping", ClassIOLight, nil)
	require.NoError(t, r.Register(h))

	err := r.Register(h)
	assert.ErrorIs(t, err, ErrHandlerAlreadyExists)
}

func TestRegisterNil(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	err := r.Register(nil)
	assert.Error(t, err)
}

func TestReplaceHotSwap(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	v1 := newMockHandler("ping", ClassIOLight, func(ctx context.Context, p map[string]any) (Response, error) {
		return Success("v1"), nil
	})
	require.NoError(t, r.Register(v1))

	v2 := newMockHandler("ping", ClassIOLight, func(ctx context.Context, p map[string]any) (Response, error) {
		return Success("v2"), nil
	})
	r.Replace(v2)

	resp := r.Dispatch(context.Background(), "ping", nil, nil)
	assert.Equal(t, "v2", resp.Data)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := newMockHandler("ping", ClassIOLight, nil)
	require.NoError(t, r.Register(h))
	require.NoError(t, r.Unregister("ping"))

	err := r.Unregister("ping")
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestFilterGlobAndExclude(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	for _, name := range []string{"window_get", "window_set", "input_click"} {
		require.NoError(t, r.Register(newMockHandler(name, ClassIOLight, nil)))
	}

	r.Filter([]string{"window_*", "!window_set"})

	names := r.Names()
	assert.ElementsMatch(t, []string{"window_get"}, names)
}

func TestFilterWildcardKeepsAllExceptExcluded(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(newMockHandler(name, ClassIOLight, nil)))
	}

	r.Filter([]string{"*", "!b"})

	assert.ElementsMatch(t, []string{"a", "c"}, r.Names())
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	resp := r.Dispatch(context.Background(), "missing", nil, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ErrCodeUnknownCommand), resp.Error.Code)
}

func TestDispatchMissingCapability(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := &mockHandler{
		BaseHandler: BaseHandler{HandlerName: "click", Capability: "input_synth", Class: ClassGUIExclusive},
		execFn: func(ctx context.Context, p map[string]any) (Response, error) {
			return Success(nil), nil
		},
	}
	require.NoError(t, r.Register(h))

	resp := r.Dispatch(context.Background(), "click", nil, staticCaps{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ErrCodeCapabilityMissing), resp.Error.Code)
}

func TestDispatchWithCapabilitySatisfied(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := &mockHandler{
		BaseHandler: BaseHandler{HandlerName: "click", Capability: "input_synth", Class: ClassGUIExclusive},
		execFn: func(ctx context.Context, p map[string]any) (Response, error) {
			return Success("clicked"), nil
		},
	}
	require.NoError(t, r.Register(h))

	resp := r.Dispatch(context.Background(), "click", nil, staticCaps{"input_synth": true})
	assert.True(t, resp.Success)
	assert.Equal(t, "clicked", resp.Data)
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := newMockHandler("boom", ClassIOLight, func(ctx context.Context, p map[string]any) (Response, error) {
		panic("kaboom")
	})
	require.NoError(t, r.Register(h))

	resp := r.Dispatch(context.Background(), "boom", nil, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ErrCodeInternal), resp.Error.Code)
}

func TestDispatchTimeout(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := &mockHandler{
		BaseHandler: BaseHandler{HandlerName: "slow", Class: ClassIOLight, Timeout: 10 * time.Millisecond},
		execFn: func(ctx context.Context, p map[string]any) (Response, error) {
			<-ctx.Done()
			return Response{}, ctx.Err()
		},
	}
	require.NoError(t, r.Register(h))

	resp := r.Dispatch(context.Background(), "slow", nil, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ErrCodeTimeout), resp.Error.Code)
}

func TestGUIExclusiveSerializesExecutions(t *testing.T) {
	r := NewRegistry(PoolSizes{IOLight: 4, GUIExclusive: 1, Blocking: 2})

	var concurrent int32
	var maxConcurrent int32
	h := &mockHandler{
		BaseHandler: BaseHandler{HandlerName: "move_mouse", Class: ClassGUIExclusive, Timeout: time.Second},
		execFn: func(ctx context.Context, p map[string]any) (Response, error) {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return Success(nil), nil
		},
	}
	require.NoError(t, r.Register(h))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Dispatch(context.Background(), "move_mouse", nil, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestDispatchRequestStampsMetadata(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := newMockHandler("echo", ClassIOLight, func(ctx context.Context, p map[string]any) (Response, error) {
		return Success(p), nil
	})
	require.NoError(t, r.Register(h))

	resp := r.DispatchRequest(context.Background(), Request{
		Command:   "echo",
		Params:    map[string]any{"k": "v"},
		CommandID: "cmd-1",
	}, nil)

	require.True(t, resp.Success)
	assert.Equal(t, "echo", resp.Metadata["command"])
	assert.Equal(t, "cmd-1", resp.Metadata["command_id"])
	assert.Contains(t, resp.Metadata, "execution_time")
}

func TestDispatchRequestTimeoutOverride(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := &mockHandler{
		// Generous default; the request's own deadline must win.
		BaseHandler: BaseHandler{HandlerName: "slow", Class: ClassIOLight, Timeout: time.Minute},
		execFn: func(ctx context.Context, p map[string]any) (Response, error) {
			<-ctx.Done()
			return Response{}, ctx.Err()
		},
	}
	require.NoError(t, r.Register(h))

	start := time.Now()
	resp := r.DispatchRequest(context.Background(), Request{
		Command: "slow",
		Timeout: 20 * time.Millisecond,
	}, nil)

	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ErrCodeTimeout), resp.Error.Code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestErrorTypeNormalized(t *testing.T) {
	r := NewRegistry(testPoolSizes())
	h := newMockHandler("bad", ClassIOLight, func(ctx context.Context, p map[string]any) (Response, error) {
		return Response{}, NewInvalidParamsError("bad", "hwnd missing", nil)
	})
	require.NoError(t, r.Register(h))

	resp := r.Dispatch(context.Background(), "bad", nil, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ErrCodeInvalidParam), resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Type)
}
