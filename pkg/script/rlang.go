package script

import (
	"context"
	_ "embed"
	"errors"
	"strings"
)

//go:embed drivers/r_driver.R
var rDriver string

const (
	frameEnd     = "\x1e"
	statusPrefix = "\x1f"
)

// R is the statistical runtime: an Rscript subprocess running an embedded
// driver that reads code frames from stdin. Scalars, strings and numeric
// or string vectors and matrices are pushed into the R global environment
// before each run; nothing is read back.
type R struct {
	cfg  runtimeConfig
	proc *process
}

// NewR creates an R runtime. It does not start the interpreter.
func NewR(opts ...RuntimeOption) *R {
	return &R{cfg: newRuntimeConfig("Rscript", nil, opts)}
}

// Kind implements Runtime.
func (r *R) Kind() Kind { return Statistical }

// Start launches Rscript and waits for the driver's greeting.
func (r *R) Start(ctx context.Context) error {
	proc, err := startProcess(r.cfg.exe, []string{"--vanilla"}, rDriver, "flowsheet-*.R", r.cfg.log)
	if err != nil {
		return wrapRuntimeError(ErrorRuntimeInitFailed, Statistical, err, "%v", err)
	}
	r.proc = proc

	_, status, err := r.readFrame(ctx)
	if err == nil && !strings.HasPrefix(status, "OK") {
		err = errors.New(status)
	}
	if err != nil {
		proc.kill()
		r.proc = nil
		return wrapRuntimeError(ErrorRuntimeInitFailed, Statistical, err, "%v", err)
	}

	for _, pkg := range r.cfg.packages {
		_, status, err := r.exchange(ctx, []string{"suppressPackageStartupMessages(library(" + pkg + "))"})
		if err != nil {
			proc.kill()
			r.proc = nil
			return wrapRuntimeError(ErrorRuntimeInitFailed, Statistical, err, "%v", err)
		}
		if status != "OK" {
			r.cfg.log.Warn("R package unavailable", "package", pkg, "detail", strings.TrimPrefix(status, "ERR "))
		}
	}
	r.cfg.log.Info("R runtime ready", "version", strings.TrimSpace(strings.TrimPrefix(status, "OK")))
	return nil
}

// Exec implements Runtime. The returned Result is never synced.
func (r *R) Exec(ctx context.Context, code string, vars map[string]any) (*Result, error) {
	if r.proc == nil {
		return nil, NewRuntimeError(ErrorRuntimeNotReady, Statistical, "runtime is not started")
	}

	if assigns := rAssignments(vars); len(assigns) > 0 {
		_, status, err := r.exchange(ctx, assigns)
		if err != nil {
			return nil, r.fail(ctx, err)
		}
		if status != "OK" {
			r.cfg.log.Warn("R variable push failed", "detail", strings.TrimPrefix(status, "ERR "))
		}
	}

	output, status, err := r.exchange(ctx, strings.Split(code, "\n"))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	if status != "OK" {
		return nil, NewRuntimeError(ErrorScriptExecution, Statistical, "%s", strings.TrimPrefix(status, "ERR "))
	}
	return &Result{Output: output}, nil
}

func (r *R) fail(ctx context.Context, err error) error {
	r.proc.kill()
	r.proc = nil
	if ctx.Err() != nil {
		return err
	}
	return wrapRuntimeError(ErrorScriptExecution, Statistical, err, "%v", err)
}

// exchange sends one code frame and reads the reply.
func (r *R) exchange(ctx context.Context, lines []string) ([]string, string, error) {
	for _, line := range lines {
		// a line equal to the terminator would end the frame early
		if line == frameEnd {
			line = ""
		}
		if err := r.proc.writeLine(line); err != nil {
			return nil, "", err
		}
	}
	if err := r.proc.writeLine(frameEnd); err != nil {
		return nil, "", err
	}
	return r.readFrame(ctx)
}

func (r *R) readFrame(ctx context.Context) ([]string, string, error) {
	var output []string
	status := ""
	for {
		line, err := r.proc.readLine(ctx)
		if err != nil {
			return nil, "", err
		}
		switch {
		case line == frameEnd:
			return output, status, nil
		case strings.HasPrefix(line, statusPrefix):
			status = strings.TrimPrefix(line, statusPrefix)
		default:
			output = append(output, line)
		}
	}
}

// Close stops the interpreter.
func (r *R) Close() error {
	if r.proc != nil {
		r.proc.stop(stopGrace)
		r.proc = nil
	}
	return nil
}
