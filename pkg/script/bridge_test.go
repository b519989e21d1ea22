package script

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurustar/flowsheet/pkg/formula"
	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/scope"
)

type fakeRuntime struct {
	kind     Kind
	startErr error
	exec     func(ctx context.Context, code string, vars map[string]any) (*Result, error)

	starts   atomic.Int32
	closes   atomic.Int32
	mu       sync.Mutex
	lastVars map[string]any
}

func (f *fakeRuntime) Kind() Kind { return f.kind }

func (f *fakeRuntime) Start(ctx context.Context) error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeRuntime) Exec(ctx context.Context, code string, vars map[string]any) (*Result, error) {
	f.mu.Lock()
	f.lastVars = vars
	f.mu.Unlock()
	if f.exec == nil {
		return &Result{Synced: f.kind == Numeric}, nil
	}
	return f.exec(ctx, code, vars)
}

func (f *fakeRuntime) Close() error {
	f.closes.Add(1)
	return nil
}

func newTestBridge(t *testing.T, store *scope.Store, opts ...Option) *Bridge {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	b := NewBridge(store, opts...)
	t.Cleanup(func() { b.Close() })
	return b
}

func startAndWait(t *testing.T, b *Bridge) {
	t.Helper()
	b.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

func TestRunBeforeStart(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	b := newTestBridge(t, store,
		WithRuntime(&fakeRuntime{kind: Numeric}),
		WithRuntime(&fakeRuntime{kind: Statistical}),
	)

	assert.Equal(t, "Error: Python is still loading...", b.Run(context.Background(), "x = 1", Numeric))
	assert.Equal(t, "Error: R is still loading...", b.Run(context.Background(), "x <- 1", Statistical))
	assert.False(t, b.NumericReady())
	assert.False(t, b.StatisticalReady())
	assert.Equal(t, uint64(0), store.Version())
}

func TestRunFailedRuntime(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	py := &fakeRuntime{
		kind:     Numeric,
		startErr: NewRuntimeError(ErrorRuntimeInitFailed, Numeric, "python3 not found"),
	}
	r := &fakeRuntime{kind: Statistical}
	b := newTestBridge(t, store, WithRuntime(py), WithRuntime(r))
	startAndWait(t, b)

	assert.Equal(t, StateFailed, b.State(Numeric))
	assert.Equal(t, StateReady, b.State(Statistical), "one failure must not affect the other runtime")
	assert.Equal(t, "Error: Python is unavailable: python3 not found", b.Run(context.Background(), "x = 1", Numeric))
	assert.Equal(t, uint64(0), store.Version())

	// no retry after failure
	b.Start(context.Background())
	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, int32(1), py.starts.Load())
}

func TestRunSyncsGlobals(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	store.Set("x", 2.0)
	py := &fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			return &Result{
				Output: []string{"4", "done"},
				Globals: map[string]any{
					"x":         2.0,
					"y":         4.0,
					"_private":  1.0,
					"sys":       "module",
					"traceback": "module",
				},
				Synced: true,
			}, nil
		},
	}
	b := newTestBridge(t, store, WithRuntime(py))
	startAndWait(t, b)

	before := store.Version()
	out := b.Run(context.Background(), "y = x * 2", Numeric)
	assert.Equal(t, "4\ndone", out)
	assert.Equal(t, before+1, store.Version(), "sync must bump the version exactly once")

	y, ok := store.Get("y")
	require.True(t, ok)
	assert.Equal(t, 4.0, y)
	for _, name := range []string{"_private", "sys", "traceback"} {
		_, ok := store.Get(name)
		assert.False(t, ok, "%s must not be synced", name)
	}
	assert.Equal(t, 2.0, py.lastVars["x"])
}

func TestRunEmptyBatchStillBumpsVersion(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	store.Set("x", 1.0)
	b := newTestBridge(t, store, WithRuntime(&fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			return &Result{Globals: map[string]any{"x": 1.0}, Synced: true}, nil
		},
	}))
	startAndWait(t, b)

	assert.Equal(t, noOutput, b.Run(context.Background(), "pass", Numeric))
	assert.Equal(t, uint64(2), store.Version())
}

func TestRunExecutionError(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	b := newTestBridge(t, store, WithRuntime(&fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			return nil, NewRuntimeError(ErrorScriptExecution, Numeric, "NameError: name 'z' is not defined")
		},
	}))
	startAndWait(t, b)

	out := b.Run(context.Background(), "print(z)", Numeric)
	assert.Equal(t, "Error: NameError: name 'z' is not defined", out)
	assert.Equal(t, uint64(0), store.Version())
	assert.True(t, b.NumericReady())
}

func TestRunTimeoutRestartsRuntime(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	py := &fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	b := newTestBridge(t, store, WithRuntime(py), WithTimeout(20*time.Millisecond))
	startAndWait(t, b)

	out := b.Run(context.Background(), "while True: pass", Numeric)
	assert.Equal(t, "Error: script timed out after 20ms", out)
	assert.Equal(t, uint64(0), store.Version())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, StateReady, b.State(Numeric))
	assert.Equal(t, int32(2), py.starts.Load())
	assert.GreaterOrEqual(t, py.closes.Load(), int32(1))
}

func TestRunProcessExitRestarts(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	py := &fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			return nil, wrapRuntimeError(ErrorScriptExecution, Numeric, errProcessExited, "interpreter process exited")
		},
	}
	b := newTestBridge(t, store, WithRuntime(py))
	startAndWait(t, b)

	assert.Equal(t, "Error: interpreter process exited", b.Run(context.Background(), "import os; os._exit(1)", Numeric))
	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, int32(2), py.starts.Load())
}

func TestStatisticalRunDoesNotSync(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	store.Set("x", 1.0)
	r := &fakeRuntime{
		kind: Statistical,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			return &Result{Output: []string{"[1] 2"}, Globals: map[string]any{"y": 2.0}}, nil
		},
	}
	b := newTestBridge(t, store, WithRuntime(r))
	startAndWait(t, b)

	assert.Equal(t, "[1] 2", b.Run(context.Background(), "y <- x + 1; y", Statistical))
	assert.Equal(t, uint64(1), store.Version())
	_, ok := store.Get("y")
	assert.False(t, ok)
}

func TestRunSerializesPerKind(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	var active, peak atomic.Int32
	py := &fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			return &Result{Synced: true}, nil
		},
	}
	b := newTestBridge(t, store, WithRuntime(py))
	startAndWait(t, b)

	const runs = 8
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(context.Background(), "pass", Numeric)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, uint64(runs), store.Version())
}

func TestRunPushesPlainValues(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	m, err := formula.Eval("[1, 2; 3, 4]", store.Snapshot())
	require.NoError(t, err)
	store.Set("m", m)
	store.Set("bad", formula.Error)
	store.Set("f", &formula.Function{Name: "f"})

	py := &fakeRuntime{kind: Numeric}
	b := newTestBridge(t, store, WithRuntime(py))
	startAndWait(t, b)
	b.Run(context.Background(), "pass", Numeric)

	assert.Equal(t, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, py.lastVars["m"])
	assert.Equal(t, "Error", py.lastVars["bad"])
	_, ok := py.lastVars["f"]
	assert.False(t, ok)
}

func TestRunLeavesUntouchedValues(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	store.Set("a", math.Inf(1))
	store.Set("bad", formula.Error)
	py := &fakeRuntime{
		kind: Numeric,
		exec: func(ctx context.Context, code string, vars map[string]any) (*Result, error) {
			globals := map[string]any{"b": 1.0}
			for name, v := range vars {
				globals[name] = v
			}
			return &Result{Globals: globals, Synced: true}, nil
		},
	}
	b := newTestBridge(t, store, WithRuntime(py))
	startAndWait(t, b)

	assert.Equal(t, noOutput, b.Run(context.Background(), "b = 1", Numeric))

	a, _ := store.Get("a")
	assert.Equal(t, math.Inf(1), a)
	bad, _ := store.Get("bad")
	assert.Equal(t, formula.Error, bad)
	got, _ := store.Get("b")
	assert.Equal(t, 1.0, got)
}

func TestRestartAfterClose(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	py := &fakeRuntime{kind: Numeric}
	b := NewBridge(store, WithLogger(logger.Discard()), WithRuntime(py))
	startAndWait(t, b)
	require.NoError(t, b.Close())

	b.restart(Numeric, b.handles[Numeric])
	b.Start(context.Background())

	assert.Equal(t, StateReady, b.State(Numeric))
	assert.Equal(t, int32(1), py.starts.Load())
}

func TestRunUnconfiguredAndUnsupported(t *testing.T) {
	store := scope.New(scope.WithLogger(logger.Discard()))
	b := newTestBridge(t, store)

	assert.Equal(t, "Error: Unsupported language", b.Run(context.Background(), "1", Numeric))
	assert.Equal(t, "Error: Unsupported language", b.RunLanguage(context.Background(), "1", "julia"))
	assert.Equal(t, StateUninitialized, b.State(Numeric))
	require.NoError(t, b.Wait(context.Background()))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"python", Numeric},
		{"Py", Numeric},
		{"numeric", Numeric},
		{"r", Statistical},
		{" R ", Statistical},
		{"statistical", Statistical},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseKind("julia")
	assert.True(t, IsErrorType(err, ErrorUnsupportedLanguage))
}

func TestRenderErrors(t *testing.T) {
	assert.Equal(t, "Error: boom", render(errors.New("boom")))
	assert.Equal(t, "Error: x", render(NewRuntimeError(ErrorScriptExecution, Numeric, "x")))
	assert.Equal(t, "[SCRIPT_TIMEOUT] Python: late", NewRuntimeError(ErrorScriptTimeout, Numeric, "late").Error())
}
