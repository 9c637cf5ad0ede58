package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxOutputBytes bounds the combined stdout+stderr captured from one invocation
const DefaultMaxOutputBytes = 10 * 1024 * 1024

// ErrOutputLimit is reported when an invocation produces more output than allowed
var ErrOutputLimit = errors.New("output limit exceeded")

// OutputFunc receives one panel-ready output line
type OutputFunc func(line string)

// CommandInvoker runs catalog commands through the shell and turns their output into lines.
// There is no retry; a timeout applies only when one is configured.
type CommandInvoker struct {
	catalog   *CommandCatalog
	shell     string
	maxOutput int64
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewCommandInvoker creates an invoker. maxOutput <= 0 uses DefaultMaxOutputBytes;
// timeout <= 0 means invocations are never cut off.
func NewCommandInvoker(catalog *CommandCatalog, maxOutput int64, timeout time.Duration) *CommandInvoker {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &CommandInvoker{
		catalog:   catalog,
		shell:     "sh",
		maxOutput: maxOutput,
		timeout:   timeout,
		logger:    logger,
	}
}

// Lookup returns the command line for a catalog shortcut
func (i *CommandInvoker) Lookup(name string) (string, bool) {
	return i.catalog.Lookup(name)
}

// Resolve returns the command line input maps to
func (i *CommandInvoker) Resolve(input string) string {
	return i.catalog.Resolve(input)
}

// Run resolves input, executes it and emits its output:
//   - on failure, a single "❌ Error: ..." line and nothing else
//   - otherwise an optional "⚠️ <stderr>" line, then each non-empty stdout line in order
//
// The returned error mirrors the failure already emitted.
func (i *CommandInvoker) Run(ctx context.Context, input string, emit OutputFunc) error {
	commandLine := i.Resolve(input)
	if commandLine == "" {
		emit("❌ Error: empty command")
		return fmt.Errorf("empty command")
	}

	start := time.Now()
	stdout, stderr, err := i.exec(ctx, commandLine)
	duration := time.Since(start)

	fields := logrus.Fields{
		"input":        input,
		"command":      commandLine,
		"duration_ms":  duration.Milliseconds(),
		"stdout_bytes": len(stdout),
		"stderr_bytes": len(stderr),
	}

	if err != nil {
		i.logger.WithFields(fields).WithError(err).Warn("Command failed")
		GetMetrics().RecordCommand("error", duration.Seconds())
		emit("❌ Error: " + describeFailure(commandLine, err, stderr))
		return err
	}

	i.logger.WithFields(fields).Info("Command completed")
	GetMetrics().RecordCommand("success", duration.Seconds())

	if warning := strings.TrimSpace(stderr); warning != "" {
		emit("⚠️ " + warning)
	}
	for _, line := range SplitOutputLines(stdout) {
		emit(line)
	}
	return nil
}

func (i *CommandInvoker) exec(ctx context.Context, commandLine string) (string, string, error) {
	var cancel context.CancelFunc
	if i.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, i.shell, "-c", commandLine)
	// Grandchildren may hold the pipes open after sh is killed
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	limit := &outputLimit{remaining: i.maxOutput, onExceeded: cancel}
	cmd.Stdout = limit.writer(&stdout)
	cmd.Stderr = limit.writer(&stderr)

	err := cmd.Run()
	switch {
	case limit.isExceeded():
		err = fmt.Errorf("%w (%d bytes)", ErrOutputLimit, i.maxOutput)
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("command timed out after %v", i.timeout)
	}

	return stdout.String(), stderr.String(), err
}

func describeFailure(commandLine string, err error, stderr string) string {
	msg := fmt.Sprintf("Command failed: %s: %v", commandLine, err)
	if s := strings.TrimSpace(stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

// SplitOutputLines splits output into lines, dropping blank ones and trailing CRs
func SplitOutputLines(output string) []string {
	raw := strings.Split(output, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// outputLimit caps the bytes accepted across stdout and stderr. Once the cap is hit it
// cancels the process and discards further writes so the child never blocks on a full pipe.
type outputLimit struct {
	mu         sync.Mutex
	remaining  int64
	exceeded   bool
	onExceeded func()
}

func (l *outputLimit) writer(dst io.Writer) io.Writer {
	return &limitedWriter{limit: l, dst: dst}
}

func (l *outputLimit) isExceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exceeded
}

type limitedWriter struct {
	limit *outputLimit
	dst   io.Writer
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.limit.mu.Lock()
	defer w.limit.mu.Unlock()

	if w.limit.exceeded {
		return len(p), nil
	}

	if int64(len(p)) > w.limit.remaining {
		w.limit.exceeded = true
		if w.limit.onExceeded != nil {
			w.limit.onExceeded()
		}
		return len(p), nil
	}

	w.limit.remaining -= int64(len(p))
	return w.dst.Write(p)
}
