// Package process runs external build-tool commands, capturing their output
// both in memory and in a per-package log file.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/gitter-badger/stack/internal/ctxlog"
)

// Options configures a single command invocation.
type Options struct {
	// Dir is the working directory for the command.
	Dir string
	// Env entries are appended to the current process environment.
	Env []string
	// LogPath, when set, names an append-only log file that receives the
	// command's interleaved stdout and stderr in addition to the
	// in-memory capture.
	LogPath string
}

// Result carries the captured output of a completed command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner abstracts subprocess execution so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, command string, args []string, opts Options) (Result, error)
}

// Error reports a command that exited nonzero, carrying its captured output
// for diagnostics.
type Error struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "command %q exited with code %d", e.Command+" "+strings.Join(e.Args, " "), e.ExitCode)
	if tail := outputTail(e.Stdout); tail != "" {
		sb.WriteString("\nstdout:\n")
		sb.WriteString(tail)
	}
	if tail := outputTail(e.Stderr); tail != "" {
		sb.WriteString("\nstderr:\n")
		sb.WriteString(tail)
	}
	return sb.String()
}

// tailLines bounds how much captured output an Error renders.
const tailLines = 20

// outputTail returns up to the last tailLines lines of captured output.
func outputTail(out []byte) string {
	s := strings.TrimRight(string(out), "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n")
}

// syncWriter serializes writes from the two pipe readers into the shared
// log file.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run spawns the command with stdin closed and two concurrently scheduled
// pipe readers, so neither output stream can block the other. Both streams
// are teed into in-memory buffers and, when configured, the shared log
// file. A nonzero exit yields an *Error carrying the captured output; the
// log file retains the same content regardless of outcome.
func (ExecRunner) Run(ctx context.Context, command string, args []string, opts Options) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Running external command.", "command", command, "args", args, "dir", opts.Dir)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	// Stdin stays nil: the child reads from the null device, never from us.

	var logFile *os.File
	var logW io.Writer
	if opts.LogPath != "" {
		var err error
		logFile, err = os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Result{}, fmt.Errorf("opening build log: %w", err)
		}
		defer logFile.Close()
		logW = &syncWriter{w: logFile}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting %q: %w", command, err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drain(stdoutPipe, &stdoutBuf, logW)
	}()
	go func() {
		defer wg.Done()
		drain(stderrPipe, &stderrBuf, logW)
	}()
	wg.Wait()

	res := Result{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}
	if err := cmd.Wait(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		logger.Debug("Command failed.", "command", command, "exit_code", exitCode)
		return res, &Error{
			Command:  command,
			Args:     args,
			ExitCode: exitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}

	logger.Debug("Command succeeded.", "command", command)
	return res, nil
}

// drain copies a pipe into the in-memory buffer and, when set, the log
// writer, until the pipe closes.
func drain(r io.Reader, buf *bytes.Buffer, logW io.Writer) {
	w := io.Writer(buf)
	if logW != nil {
		w = io.MultiWriter(buf, logW)
	}
	_, _ = io.Copy(w, r)
}
