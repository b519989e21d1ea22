package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zurustar/flowsheet/pkg/logger"
	"github.com/zurustar/flowsheet/pkg/scope"
)

const (
	// DefaultTimeout bounds one script execution.
	DefaultTimeout = 30 * time.Second
	// DefaultStartTimeout bounds one runtime initialization.
	DefaultStartTimeout = 2 * time.Minute

	noOutput = "Executed successfully (no output)"
)

// Bridge connects the script runtimes to the scope store.
type Bridge struct {
	store        *scope.Store
	handles      map[Kind]*handle
	timeout      time.Duration
	startTimeout time.Duration
	log          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// bgMu guards closed and every wg.Add, so no background work is
	// added once Close is waiting.
	bgMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// handle tracks one runtime and its loading state.
type handle struct {
	rt Runtime

	// run serializes executions of this kind.
	run sync.Mutex

	mu      sync.Mutex
	state   State
	reason  string
	settled chan struct{}
}

// Option is a functional option for configuring the Bridge.
type Option func(*Bridge)

// WithRuntime registers a runtime for its kind, replacing any previous one.
func WithRuntime(rt Runtime) Option {
	return func(b *Bridge) {
		b.handles[rt.Kind()] = &handle{rt: rt, settled: make(chan struct{})}
	}
}

// WithTimeout sets the per execution timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithStartTimeout sets the time allowed for a runtime to start.
func WithStartTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.startTimeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) {
		b.log = log
	}
}

// NewBridge creates a bridge writing to store. Runtimes are registered
// with WithRuntime and started by Start.
func NewBridge(store *scope.Store, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		store:        store,
		handles:      make(map[Kind]*handle),
		timeout:      DefaultTimeout,
		startTimeout: DefaultStartTimeout,
		log:          logger.GetLogger(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start begins initializing every registered runtime in parallel and
// returns immediately. Each runtime is initialized at most once; a
// failure is terminal for that runtime and does not affect the others.
func (b *Bridge) Start(ctx context.Context) {
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	if b.closed {
		return
	}

	var g errgroup.Group
	for _, kind := range Kinds {
		kind := kind
		h, ok := b.handles[kind]
		if !ok || !h.begin() {
			continue
		}
		g.Go(func() error {
			b.initialize(ctx, kind, h)
			return nil
		})
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		g.Wait()
		b.log.Debug("script runtimes settled")
	}()
}

// initialize starts h's runtime and records the outcome.
func (b *Bridge) initialize(ctx context.Context, kind Kind, h *handle) {
	ctx, cancel := context.WithTimeout(ctx, b.startTimeout)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	b.log.Info("starting script runtime", "kind", kind)
	if err := h.rt.Start(ctx); err != nil {
		b.log.Error("script runtime failed", "kind", kind, "error", err)
		h.settle(StateFailed, failureReason(err))
		return
	}
	h.settle(StateReady, "")
}

// Wait blocks until every registered runtime is ready or failed, or ctx
// is done.
func (b *Bridge) Wait(ctx context.Context) error {
	for _, kind := range Kinds {
		h, ok := b.handles[kind]
		if !ok {
			continue
		}
		h.mu.Lock()
		settled := h.settled
		state := h.state
		h.mu.Unlock()
		if state == StateUninitialized {
			continue
		}
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// State returns the loading state of kind.
func (b *Bridge) State(kind Kind) State {
	h, ok := b.handles[kind]
	if !ok {
		return StateUninitialized
	}
	state, _ := h.current()
	return state
}

// Ready reports whether kind can execute code.
func (b *Bridge) Ready(kind Kind) bool {
	return b.State(kind) == StateReady
}

// NumericReady reports whether the Python runtime is ready.
func (b *Bridge) NumericReady() bool { return b.Ready(Numeric) }

// StatisticalReady reports whether the R runtime is ready.
func (b *Bridge) StatisticalReady() bool { return b.Ready(Statistical) }

// Run executes code in the runtime for kind and returns its output as a
// display string. Failures are reported in the returned string; Run never
// returns an error and never panics.
//
// The current scope is pushed into the runtime first. After a successful
// numeric run the new or changed globals are written to the scope with a
// single SetMany.
func (b *Bridge) Run(ctx context.Context, code string, kind Kind) (output string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("script run panicked", "kind", kind, "panic", r)
			output = fmt.Sprintf("Error: %v", r)
		}
	}()

	h, ok := b.handles[kind]
	if !ok {
		return render(NewRuntimeError(ErrorUnsupportedLanguage, kind, "no runtime configured"))
	}
	if msg, ok := h.unavailable(kind); !ok {
		return msg
	}

	h.run.Lock()
	defer h.run.Unlock()

	// a restart may have begun while waiting for the lock
	if msg, ok := h.unavailable(kind); !ok {
		return msg
	}

	snap := b.store.Snapshot()
	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	sent := wireVars(snap)
	res, err := h.rt.Exec(runCtx, code, sent)
	if err != nil {
		return b.handleExecError(ctx, runCtx, kind, h, err)
	}
	b.log.Debug("script executed", "kind", kind, "elapsed", time.Since(start), "lines", len(res.Output))

	if res.Synced {
		batch := syncBatch(snap, sent, res.Globals)
		v := b.store.SetMany(batch)
		b.log.Debug("script globals synced", "kind", kind, "count", len(batch), "version", v)
	}

	if len(res.Output) == 0 {
		return noOutput
	}
	return strings.Join(res.Output, "\n")
}

// RunLanguage is Run with the kind given as a block language name.
func (b *Bridge) RunLanguage(ctx context.Context, code, language string) string {
	kind, err := ParseKind(language)
	if err != nil {
		return "Error: Unsupported language"
	}
	return b.Run(ctx, code, kind)
}

func (b *Bridge) handleExecError(ctx, runCtx context.Context, kind Kind, h *handle, err error) string {
	switch {
	case runCtx.Err() != nil && ctx.Err() == nil:
		b.log.Warn("script timed out, restarting runtime", "kind", kind, "timeout", b.timeout)
		b.restart(kind, h)
		return render(wrapRuntimeError(ErrorScriptTimeout, kind, err, "script timed out after %s", b.timeout))
	case ctx.Err() != nil:
		b.restart(kind, h)
		return render(wrapRuntimeError(ErrorScriptExecution, kind, err, "%v", ctx.Err()))
	case errors.Is(err, errProcessExited):
		b.log.Warn("interpreter exited, restarting runtime", "kind", kind, "error", err)
		b.restart(kind, h)
	}
	return render(err)
}

// restart moves h back to loading and starts a fresh interpreter in the
// background. Nothing is restarted once Close has begun.
func (b *Bridge) restart(kind Kind, h *handle) {
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	if b.closed {
		b.log.Debug("bridge closed, runtime not restarted", "kind", kind)
		return
	}
	h.reload()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		h.rt.Close()
		b.initialize(b.ctx, kind, h)
	}()
}

// Close stops every runtime and waits for background work to finish.
func (b *Bridge) Close() error {
	b.bgMu.Lock()
	b.closed = true
	b.bgMu.Unlock()

	b.cancel()
	b.wg.Wait()

	var errs []error
	for _, kind := range Kinds {
		if h, ok := b.handles[kind]; ok {
			h.run.Lock()
			if err := h.rt.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s runtime: %w", kind, err))
			}
			h.run.Unlock()
		}
	}
	return errors.Join(errs...)
}

// render formats an error for display in a script block.
func render(err error) string {
	var re *RuntimeError
	if errors.As(err, &re) {
		if re.Type == ErrorUnsupportedLanguage {
			return "Error: Unsupported language"
		}
		return "Error: " + re.Message
	}
	return "Error: " + err.Error()
}

func failureReason(err error) string {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}

// begin moves an uninitialized handle to loading. It reports false when
// initialization already happened.
func (h *handle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUninitialized {
		return false
	}
	h.state = StateLoading
	return true
}

// reload moves h back to loading with a fresh settled channel.
func (h *handle) reload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateLoading
	h.reason = ""
	h.settled = make(chan struct{})
}

func (h *handle) settle(state State, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.reason = reason
	close(h.settled)
}

func (h *handle) current() (State, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.reason
}

// unavailable returns the message shown when h cannot run code.
func (h *handle) unavailable(kind Kind) (string, bool) {
	state, reason := h.current()
	switch state {
	case StateReady:
		return "", true
	case StateFailed:
		return fmt.Sprintf("Error: %s is unavailable: %s", kind.Language(), reason), false
	}
	return fmt.Sprintf("Error: %s is still loading...", kind.Language()), false
}
