package hostapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// MemStore is the default in-memory KV implementation. Plugin state lives
// as long as the agent process; nothing here is durable.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]string)}
}

func (s *MemStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *MemStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *MemStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

const kvPrefix = "jsvm:"

// registerKV registers the desk.kv API.
func registerKV(vm *goja.Runtime, desk *goja.Object, hctx *Context) error {
	kvObj := vm.NewObject()

	_ = kvObj.Set("get", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("key is required"))
		}
		if hctx.KV == nil {
			return goja.Null()
		}

		value, ok := hctx.KV.Get(kvPrefix + call.Arguments[0].String())
		if !ok {
			return goja.Null()
		}

		// Try to parse as JSON; fall back to the raw string.
		var result interface{}
		if err := json.Unmarshal([]byte(value), &result); err != nil {
			return vm.ToValue(value)
		}
		return vm.ToValue(result)
	})

	_ = kvObj.Set("set", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("key and value are required"))
		}
		if hctx.KV == nil {
			return goja.Undefined()
		}

		key := kvPrefix + call.Arguments[0].String()
		valueArg := call.Arguments[1].Export()

		jsonBytes, err := json.Marshal(valueArg)
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("failed to serialize value: %v", err)))
		}
		hctx.KV.Set(key, string(jsonBytes))
		return goja.Undefined()
	})

	_ = kvObj.Set("delete", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("key is required"))
		}
		if hctx.KV != nil {
			hctx.KV.Delete(kvPrefix + call.Arguments[0].String())
		}
		return goja.Undefined()
	})

	_ = kvObj.Set("keys", func(call goja.FunctionCall) goja.Value {
		prefix := kvPrefix
		if len(call.Arguments) > 0 {
			prefix = kvPrefix + call.Arguments[0].String()
		}
		if hctx.KV == nil {
			return vm.ToValue([]string{})
		}

		raw := hctx.KV.Keys(prefix)
		keys := make([]string, 0, len(raw))
		for _, k := range raw {
			keys = append(keys, strings.TrimPrefix(k, kvPrefix))
		}
		return vm.ToValue(keys)
	})

	return desk.Set("kv", kvObj)
}
