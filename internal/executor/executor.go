// Package executor runs resolved native commands in the profile's shell and
// streams their output back line by line.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/profile"
)

// Stream identifies an output pipe.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of command output.
type Line struct {
	Stream Stream
	Text   string
}

// Result captures the output of a command execution
type Result struct {
	Success        bool
	ExitCode       int
	Output         string
	Error          string
	Duration       time.Duration
	NewWorkDir     string // Set when a cd/Set-Location command changes directory
	CurrentWorkDir string // The actual working directory after execution
}

// Executor runs shell commands
type Executor struct {
	mu         sync.Mutex
	workingDir string
	Timeout    time.Duration

	profile  *profile.Profile
	lookPath func(string) (string, error)
}

func NewExecutor(workingDir string, p *profile.Profile) *Executor {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &Executor{
		workingDir: workingDir,
		Timeout:    30 * time.Second,
		profile:    p,
		lookPath:   exec.LookPath,
	}
}

// SetProfile switches the shell used for subsequent commands.
func (e *Executor) SetProfile(p *profile.Profile) {
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
}

// WorkingDir returns the directory commands run in.
func (e *Executor) WorkingDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workingDir
}

// SetWorkingDir updates the working directory
func (e *Executor) SetWorkingDir(dir string) {
	e.mu.Lock()
	e.workingDir = dir
	e.mu.Unlock()
}

// Run executes command and collects its output.
func (e *Executor) Run(ctx context.Context, command string) *Result {
	return e.Stream(ctx, command, nil)
}

// Stream executes command, calling sink for every output line as it arrives.
// sink may be nil. Calls to sink are serialized.
func (e *Executor) Stream(ctx context.Context, command string, sink func(Line)) *Result {
	start := time.Now()
	logger.Info("Executing command: %s", command)

	e.mu.Lock()
	p := e.profile
	e.mu.Unlock()

	// Detect directory change commands and handle them natively
	if newDir, ok := extractCDTarget(command, p); ok {
		if ctx.Err() != nil {
			return &Result{ExitCode: -1, Error: "Command cancelled", Duration: time.Since(start), CurrentWorkDir: e.WorkingDir()}
		}
		res := e.handleCD(newDir, start)
		if sink != nil {
			if res.Success {
				sink(Line{Stream: Stdout, Text: res.Output})
			} else {
				sink(Line{Stream: Stderr, Text: res.Error})
			}
		}
		return res
	}

	workDir := e.ensureWorkingDir()

	argv, err := e.shellFor(p)
	if err != nil {
		return &Result{ExitCode: -1, Error: err.Error(), Duration: time.Since(start), CurrentWorkDir: workDir}
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], command)...)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	var (
		sinkMu sync.Mutex
		output []string
	)
	emit := func(l Line) {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		output = append(output, l.Text)
		if sink != nil {
			sink(l)
		}
	}

	var g errgroup.Group
	g.Go(func() error { return pump(outR, Stdout, emit) })
	g.Go(func() error { return pump(errR, Stderr, emit) })

	runErr := cmd.Run()
	outW.Close()
	errW.Close()
	if err := g.Wait(); err != nil {
		logger.Debug("output pump: %v", err)
	}
	duration := time.Since(start)

	res := &Result{
		Output:         strings.TrimSpace(strings.Join(output, "\n")),
		Duration:       duration,
		CurrentWorkDir: workDir,
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Error("Command timed out: %s", command)
		res.ExitCode = -1
		res.Error = fmt.Sprintf("Command timed out after %v", e.Timeout)
		return res
	case errors.Is(ctx.Err(), context.Canceled):
		res.ExitCode = -1
		res.Error = "Command cancelled"
		return res
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			logger.Error("Command failed to start: %s (err: %v)", command, runErr)
			res.ExitCode = -1
			res.Error = runErr.Error()
			return res
		}
		res.ExitCode = exitErr.ExitCode()
		logger.Info("Command exited %d: %s", res.ExitCode, command)

		// Search commands exit 1 when nothing matched; that is an answer, not a failure.
		if res.ExitCode == 1 && isSearch(command) {
			res.Error = "No matches found"
			return res
		}
		res.Error = fmt.Sprintf("exit status %d", res.ExitCode)
		return res
	}

	logger.Info("Command success: %s", command)
	res.Success = true
	return res
}

// ensureWorkingDir falls back to the process directory when the tracked one was removed.
func (e *Executor) ensureWorkingDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := os.Stat(e.workingDir); os.IsNotExist(err) {
		logger.Error("Working directory '%s' does not exist. Falling back to default.", e.workingDir)
		if cwd, err := os.Getwd(); err == nil {
			e.workingDir = cwd
		} else {
			e.workingDir = "."
		}
	}
	return e.workingDir
}

// shellFor returns the argv prefix of the profile's shell, trying the fallback
// when the primary binary is not installed.
func (e *Executor) shellFor(p *profile.Profile) ([]string, error) {
	if p == nil {
		return nil, errors.New("no platform profile")
	}
	for _, argv := range [][]string{p.Shell, p.ShellFallback} {
		if len(argv) == 0 {
			continue
		}
		if _, err := e.lookPath(argv[0]); err == nil {
			return argv, nil
		}
	}
	return nil, fmt.Errorf("no shell found for profile %s (tried %s)", p.ID, p.Shell[0])
}

func pump(r io.Reader, s Stream, emit func(Line)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		emit(Line{Stream: s, Text: cleanTerminalOutput(sc.Text())})
	}
	if err := sc.Err(); err != nil {
		// Keep draining so the writer never blocks.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func isSearch(command string) bool {
	lower := strings.ToLower(command)
	for _, s := range []string{"select-string", "grep", "findstr", "find "} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// cleanTerminalOutput handles control characters like \r to clean up progress bars
func cleanTerminalOutput(s string) string {
	// Normalize Windows line endings to prevent \r at end of line being interpreted as overwrite
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\r")

	if !strings.ContainsAny(s, "\r") {
		return s
	}

	var result strings.Builder
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteByte('\n')
		}

		// Keep the text after the last \r, simulating the final state of the line
		if idx := strings.LastIndexByte(line, '\r'); idx != -1 {
			line = line[idx+1:]
		}
		result.WriteString(line)
	}
	return result.String()
}
