package hostapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVM(t *testing.T, allowed []string) *goja.Runtime {
	t.Helper()
	vm := goja.New()
	hctx := &Context{
		Ctx:         context.Background(),
		KV:          NewMemStore(),
		Logger:      zerolog.Nop(),
		ScriptName:  "test.js",
		ExecutionID: "e1",
		Config: Config{
			AllowedPaths: allowed,
			MaxWriteSize: 1024,
		},
	}
	require.NoError(t, Register(vm, hctx))
	return vm
}

func TestRegisterInjectsNamespaces(t *testing.T) {
	vm := setupVM(t, nil)

	for _, name := range []string{"desk.fs", "desk.http", "desk.kv", "desk.log", "desk.context"} {
		v, err := vm.RunString(name)
		require.NoError(t, err, name)
		assert.False(t, goja.IsUndefined(v), "%s missing", name)
	}

	Unregister(vm)
	v, err := vm.RunString("typeof desk")
	require.NoError(t, err)
	assert.Equal(t, "undefined", v.String())
}

func TestFSRespectsAllowlist(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ok.txt")
	require.NoError(t, os.WriteFile(file, []byte("content"), 0644))

	vm := setupVM(t, []string{dir})
	_ = vm.Set("okPath", file)
	_ = vm.Set("badPath", "/etc/passwd")

	v, err := vm.RunString(`desk.fs.read(okPath)`)
	require.NoError(t, err)
	assert.Equal(t, "content", v.String())

	_, err = vm.RunString(`desk.fs.read(badPath)`)
	assert.Error(t, err, "path outside allowlist must fail")

	v, err = vm.RunString(`desk.fs.exists(badPath)`)
	require.NoError(t, err)
	assert.False(t, v.ToBoolean())
}

func TestFSWriteSizeLimit(t *testing.T) {
	dir := t.TempDir()
	vm := setupVM(t, []string{dir})
	_ = vm.Set("p", filepath.Join(dir, "big.txt"))

	_, err := vm.RunString(`desk.fs.write(p, "x".repeat(2048))`)
	assert.Error(t, err)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Set("jsvm:a", "1")
	s.Set("jsvm:b", "2")
	s.Set("other", "3")

	v, ok := s.Get("jsvm:a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	assert.Equal(t, []string{"jsvm:a", "jsvm:b"}, s.Keys("jsvm:"))

	s.Delete("jsvm:a")
	_, ok = s.Get("jsvm:a")
	assert.False(t, ok)
}

func TestKVRoundTripThroughJS(t *testing.T) {
	vm := setupVM(t, nil)

	_, err := vm.RunString(`desk.kv.set("obj", {a: 1, b: "two"})`)
	require.NoError(t, err)

	v, err := vm.RunString(`desk.kv.get("obj").b`)
	require.NoError(t, err)
	assert.Equal(t, "two", v.String())

	v, err = vm.RunString(`desk.kv.keys().length`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ToInteger())

	_, err = vm.RunString(`desk.kv.delete("obj")`)
	require.NoError(t, err)

	v, err = vm.RunString(`desk.kv.get("obj")`)
	require.NoError(t, err)
	assert.True(t, goja.IsNull(v))
}
