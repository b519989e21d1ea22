package script

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/zurustar/flowsheet/pkg/logger"
)

//go:embed drivers/python_driver.py
var pythonDriver string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPythonPackages are imported when the Python runtime starts.
var DefaultPythonPackages = []string{"numpy", "pandas", "scipy"}

// stopGrace is how long Close waits for a driver to exit on its own.
const stopGrace = 2 * time.Second

type runtimeConfig struct {
	exe      string
	packages []string
	log      *slog.Logger
}

// RuntimeOption configures a Python or R runtime.
type RuntimeOption func(*runtimeConfig)

// WithExecutable sets the interpreter binary.
func WithExecutable(path string) RuntimeOption {
	return func(c *runtimeConfig) {
		if path != "" {
			c.exe = path
		}
	}
}

// WithPackages sets the packages imported at startup. Packages that fail
// to import are logged as warnings and do not fail the runtime.
func WithPackages(packages ...string) RuntimeOption {
	return func(c *runtimeConfig) {
		c.packages = packages
	}
}

// WithRuntimeLogger sets the runtime's logger.
func WithRuntimeLogger(log *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.log = log
	}
}

func newRuntimeConfig(exe string, packages []string, opts []RuntimeOption) runtimeConfig {
	c := runtimeConfig{exe: exe, packages: packages, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Python is the numeric runtime: a python3 subprocess exchanging one
// JSON document per line with an embedded driver. Variables are synced
// in both directions.
type Python struct {
	cfg  runtimeConfig
	proc *process
}

type pythonRequest struct {
	Op       string         `json:"op"`
	Code     string         `json:"code,omitempty"`
	Vars     map[string]any `json:"vars,omitempty"`
	Packages []string       `json:"packages,omitempty"`
}

type pythonResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	Output   string         `json:"output"`
	Globals  map[string]any `json:"globals"`
	Warnings []string       `json:"warnings"`
	Version  string         `json:"version"`
}

// NewPython creates a Python runtime. It does not start the interpreter.
func NewPython(opts ...RuntimeOption) *Python {
	return &Python{cfg: newRuntimeConfig("python3", DefaultPythonPackages, opts)}
}

// Kind implements Runtime.
func (p *Python) Kind() Kind { return Numeric }

// Start launches the interpreter and imports the configured packages.
func (p *Python) Start(ctx context.Context) error {
	proc, err := startProcess(p.cfg.exe, []string{"-u"}, pythonDriver, "flowsheet-*.py", p.cfg.log)
	if err != nil {
		return wrapRuntimeError(ErrorRuntimeInitFailed, Numeric, err, "%v", err)
	}
	p.proc = proc

	resp, err := p.roundTrip(ctx, pythonRequest{Op: "init", Packages: p.cfg.packages})
	if err != nil {
		proc.kill()
		p.proc = nil
		return wrapRuntimeError(ErrorRuntimeInitFailed, Numeric, err, "%v", err)
	}
	for _, w := range resp.Warnings {
		p.cfg.log.Warn("python package unavailable", "detail", w)
	}
	p.cfg.log.Info("python runtime ready", "version", resp.Version)
	return nil
}

// Exec implements Runtime.
func (p *Python) Exec(ctx context.Context, code string, vars map[string]any) (*Result, error) {
	if p.proc == nil {
		return nil, NewRuntimeError(ErrorRuntimeNotReady, Numeric, "runtime is not started")
	}
	resp, err := p.roundTrip(ctx, pythonRequest{Op: "exec", Code: code, Vars: vars})
	if err != nil {
		p.proc.kill()
		p.proc = nil
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, wrapRuntimeError(ErrorScriptExecution, Numeric, err, "%v", err)
	}
	if !resp.OK {
		return nil, NewRuntimeError(ErrorScriptExecution, Numeric, "%s", resp.Error)
	}
	return &Result{
		Output:  splitOutput(resp.Output),
		Globals: resp.Globals,
		Synced:  true,
	}, nil
}

func (p *Python) roundTrip(ctx context.Context, req pythonRequest) (*pythonResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := p.proc.writeLine(string(data)); err != nil {
		return nil, err
	}
	line, err := p.proc.readLine(ctx)
	if err != nil {
		return nil, err
	}
	var resp pythonResponse
	if err := json.UnmarshalFromString(line, &resp); err != nil {
		return nil, errors.New("malformed driver response")
	}
	if req.Op == "init" && !resp.OK {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// Close stops the interpreter.
func (p *Python) Close() error {
	if p.proc != nil {
		p.proc.stop(stopGrace)
		p.proc = nil
	}
	return nil
}
