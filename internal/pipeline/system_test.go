package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jarvis-shell/internal/cache"
	"jarvis-shell/internal/executor"
	"jarvis-shell/internal/profile"
)

// The system tests drive requests through the rules and a real executor in a
// sandbox directory.

func newSystemSession(t *testing.T, model Translator) (*Session, *executor.Executor, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	sandbox, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	p := load(t, profile.POSIX)
	exec := executor.NewExecutor(sandbox, p)
	pl := New(p, cache.New(16, 0), engine(t), model)
	return NewSession(pl, exec), exec, sandbox
}

func last(t *testing.T, evs []Event) Event {
	t.Helper()
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func TestSystem_CreateFolderAndFile(t *testing.T) {
	s, _, sandbox := newSystemSession(t, nil)
	ctx := context.Background()

	evs := collect(t, s.Submit(ctx, "create a folder called alpha"))
	require.Equal(t, EventDone, last(t, evs).Type, "events: %v", types(evs))
	assert.Equal(t, 0, last(t, evs).ExitCode)
	assert.DirExists(t, filepath.Join(sandbox, "alpha"))

	evs = collect(t, s.Submit(ctx, "make a file named notes.txt"))
	require.Equal(t, EventDone, last(t, evs).Type, "events: %v", types(evs))
	assert.FileExists(t, filepath.Join(sandbox, "notes.txt"))
}

func TestSystem_ChangeDirectoryPersists(t *testing.T) {
	s, exec, sandbox := newSystemSession(t, nil)
	ctx := context.Background()
	require.NoError(t, os.Mkdir(filepath.Join(sandbox, "beta"), 0o755))

	evs := collect(t, s.Submit(ctx, "cd beta"))
	done := last(t, evs)
	require.Equal(t, EventDone, done.Type, "events: %v", types(evs))
	assert.Equal(t, filepath.Join(sandbox, "beta"), exec.WorkingDir())
	assert.Equal(t, filepath.Join(sandbox, "beta"), done.Result.NewWorkDir)

	evs = collect(t, s.Submit(ctx, "where am i"))
	var out []string
	for _, ev := range evs {
		if ev.Type == EventOutput {
			out = append(out, ev.Line.Text)
		}
	}
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(sandbox, "beta"), strings.TrimSpace(out[0]))
}

func TestSystem_FailureIsReported(t *testing.T) {
	s, _, _ := newSystemSession(t, nil)

	evs := collect(t, s.Submit(context.Background(), "cat missing.txt"))
	done := last(t, evs)
	require.Equal(t, EventDone, done.Type, "events: %v", types(evs))
	assert.NotEqual(t, 0, done.ExitCode)
	assert.False(t, done.Result.Success)

	var stderr bool
	for _, ev := range evs {
		if ev.Type == EventOutput && ev.Line.Stream == executor.Stderr {
			stderr = true
		}
	}
	assert.True(t, stderr, "cat's complaint arrives on stderr")
}

func TestSystem_DeleteNeedsConfirmation(t *testing.T) {
	s, _, sandbox := newSystemSession(t, nil)
	ctx := context.Background()
	target := filepath.Join(sandbox, "old.log")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	evs := collect(t, s.Submit(ctx, "rm old.log"))
	confirm := last(t, evs)
	require.Equal(t, EventConfirm, confirm.Type, "events: %v", types(evs))
	assert.FileExists(t, target, "nothing runs before confirmation")

	evs = collect(t, s.Execute(ctx, confirm.Command))
	require.Equal(t, EventDone, last(t, evs).Type, "events: %v", types(evs))
	assert.NoFileExists(t, target)
}

func TestSystem_BlockedCommandLeavesSandboxIntact(t *testing.T) {
	s, _, sandbox := newSystemSession(t, &fakeTranslator{command: "rm -rf ."})
	keep := filepath.Join(sandbox, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	evs := collect(t, s.Submit(context.Background(), "wipe everything here"))
	unresolved := last(t, evs)
	require.Equal(t, EventUnresolved, unresolved.Type, "events: %v", types(evs))
	assert.Equal(t, Unsafe, unresolved.Err.Kind)
	assert.FileExists(t, keep)
}
