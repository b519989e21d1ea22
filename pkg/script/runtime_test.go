package script

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/scope"
)

func requireExecutable(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func TestPythonRuntime(t *testing.T) {
	requireExecutable(t, "python3")

	store := scope.New(scope.WithLogger(logger.Discard()))
	store.Set("x", 21.0)
	store.Set("row", []any{1.0, 2.0, 3.0})

	py := NewPython(WithPackages(), WithRuntimeLogger(logger.Discard()))
	b := newTestBridge(t, store, WithRuntime(py), WithTimeout(10*time.Second))
	startAndWait(t, b)
	require.True(t, b.NumericReady())

	out := b.Run(context.Background(), "y = x * 2\ntotal = sum(row)\nprint(y)", Numeric)
	assert.Equal(t, "42", out)

	y, _ := store.Get("y")
	assert.Equal(t, 42.0, y)
	total, _ := store.Get("total")
	assert.Equal(t, 6.0, total)

	out = b.Run(context.Background(), "1/0", Numeric)
	assert.True(t, strings.HasPrefix(out, "Error: ZeroDivisionError"), out)

	out = b.Run(context.Background(), "import math\n_tmp = 1\nz = [[1, 2], [3, 4]]", Numeric)
	assert.Equal(t, noOutput, out)
	_, ok := store.Get("math")
	assert.False(t, ok, "modules are not synced")
	_, ok = store.Get("_tmp")
	assert.False(t, ok)
	z, _ := store.Get("z")
	assert.Equal(t, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, z)
}

func TestPythonRuntimeTimeout(t *testing.T) {
	requireExecutable(t, "python3")

	store := scope.New(scope.WithLogger(logger.Discard()))
	py := NewPython(WithPackages(), WithRuntimeLogger(logger.Discard()))
	b := newTestBridge(t, store, WithRuntime(py), WithTimeout(300*time.Millisecond))
	startAndWait(t, b)

	out := b.Run(context.Background(), "while True:\n    pass", Numeric)
	assert.Equal(t, "Error: script timed out after 300ms", out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, "ok", b.Run(context.Background(), "print('ok')", Numeric))
}

func TestPythonMissingExecutable(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	py := NewPython(WithExecutable("flowsheet-no-such-python"), WithRuntimeLogger(logger.Discard()))
	b := newTestBridge(t, store, WithRuntime(py))
	startAndWait(t, b)

	assert.Equal(t, StateFailed, b.State(Numeric))
	out := b.Run(context.Background(), "print(1)", Numeric)
	assert.True(t, strings.HasPrefix(out, "Error: Python is unavailable: "), out)
}

func TestRRuntime(t *testing.T) {
	requireExecutable(t, "Rscript")

	store := scope.New(scope.WithLogger(logger.Discard()))
	store.Set("x", 1.0)
	store.Set("v", []any{1.0, 2.0, 3.0})

	r := NewR(WithRuntimeLogger(logger.Discard()))
	b := newTestBridge(t, store, WithRuntime(r), WithTimeout(10*time.Second))
	startAndWait(t, b)
	require.True(t, b.StatisticalReady())

	assert.Equal(t, "[1] 2", b.Run(context.Background(), "x + 1", Statistical))
	assert.Equal(t, "[1] 6", b.Run(context.Background(), "sum(v)", Statistical))
	assert.Equal(t, noOutput, b.Run(context.Background(), "y <- 5", Statistical))

	out := b.Run(context.Background(), "stop('bad input')", Statistical)
	assert.Equal(t, "Error: bad input", out)

	_, ok := store.Get("y")
	assert.False(t, ok, "R results are not synced back")
}
