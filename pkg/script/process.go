package script

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stderrLimit bounds the interpreter stderr kept for error messages.
const stderrLimit = 4096

// process is an interpreter subprocess running a driver script and
// talking a line based protocol over stdin/stdout.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	quit   chan struct{}
	driver string
	stderr *tailBuffer
	log    *slog.Logger

	waitErr  error
	stopOnce sync.Once
}

// startProcess writes the driver to a temporary file and launches
// exe with args followed by the driver path.
func startProcess(exe string, args []string, driver, pattern string, log *slog.Logger) (*process, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver file: %w", err)
	}
	if _, err := f.WriteString(driver); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write driver file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write driver file: %w", err)
	}

	cmd := exec.Command(exe, append(args, f.Name())...)
	p := &process{
		cmd:    cmd,
		lines:  make(chan string, 64),
		quit:   make(chan struct{}),
		driver: f.Name(),
		stderr: &tailBuffer{limit: stderrLimit},
		log:    log,
	}
	cmd.Stderr = p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to start %s: %w", exe, err)
	}
	log.Debug("interpreter started", "exe", exe, "pid", cmd.Process.Pid)

	go p.readLoop(stdout)
	return p, nil
}

// readLoop forwards stdout lines until EOF, then reaps the process.
func (p *process) readLoop(stdout io.Reader) {
	r := bufio.NewReaderSize(stdout, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 || err == nil {
			select {
			case p.lines <- strings.TrimRight(line, "\r\n"):
			case <-p.quit:
			}
		}
		if err != nil {
			break
		}
	}
	p.waitErr = p.cmd.Wait()
	close(p.lines)
}

// writeLine sends one protocol line.
func (p *process) writeLine(s string) error {
	if _, err := io.WriteString(p.stdin, s+"\n"); err != nil {
		return fmt.Errorf("%w: %v", errProcessExited, err)
	}
	return nil
}

// readLine waits for the next stdout line.
func (p *process) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", p.exitError()
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *process) exitError() error {
	msg := strings.TrimSpace(p.stderr.String())
	if p.waitErr != nil {
		if msg == "" {
			msg = p.waitErr.Error()
		}
	}
	if msg == "" {
		return errProcessExited
	}
	return fmt.Errorf("%w: %s", errProcessExited, lastLine(msg))
}

// stop closes stdin so the driver can exit on its own, and kills the
// process if it is still running after grace.
func (p *process) stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		p.stdin.Close()
		timer := time.NewTimer(grace)
		defer timer.Stop()
	drain:
		for {
			select {
			case _, ok := <-p.lines:
				if !ok {
					break drain
				}
			case <-timer.C:
				p.cmd.Process.Kill()
				break drain
			}
		}
		close(p.quit)
		os.Remove(p.driver)
		p.log.Debug("interpreter stopped", "pid", p.cmd.Process.Pid)
	})
}

// kill terminates the process immediately.
func (p *process) kill() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.stdin.Close()
		p.cmd.Process.Kill()
		os.Remove(p.driver)
		p.log.Debug("interpreter killed", "pid", p.cmd.Process.Pid)
	})
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// splitOutput turns captured text into output lines.
func splitOutput(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
