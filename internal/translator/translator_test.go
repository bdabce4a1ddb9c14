package translator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jarvis-shell/internal/llm"
	"jarvis-shell/internal/profile"
	"jarvis-shell/internal/rules"
)

// MockLLM returns canned replies in order, repeating the last one.
type MockLLM struct {
	Replies []string
	Errs    []error
	Calls   atomic.Int32
	Seen    [][]llm.ChatMessage
}

func (m *MockLLM) Complete(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	i := int(m.Calls.Add(1)) - 1
	m.Seen = append(m.Seen, messages)
	var err error
	if len(m.Errs) > 0 {
		err = m.Errs[min(i, len(m.Errs)-1)]
	}
	if err != nil {
		return "", err
	}
	if len(m.Replies) == 0 {
		return "", llm.ErrEmptyResponse
	}
	return m.Replies[min(i, len(m.Replies)-1)], nil
}

func setup(t *testing.T, id profile.ID, m llm.Completer) (*Translator, *profile.Profile) {
	t.Helper()
	p, err := profile.Load(id)
	require.NoError(t, err)
	e, err := rules.NewEngine()
	require.NoError(t, err)
	return New(m, e, Config{Enabled: true, Timeout: time.Second, RetryBackoff: time.Millisecond}), p
}

func TestTranslate_PlainCommand(t *testing.T) {
	m := &MockLLM{Replies: []string{"du -sh *"}}
	tr, p := setup(t, profile.POSIX, m)

	res, err := tr.Translate(context.Background(), "how big is everything here", p)
	require.NoError(t, err)
	assert.Equal(t, "du -sh *", res.Command)

	require.Len(t, m.Seen, 1)
	msgs := m.Seen[0]
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, p.Instruction, msgs[0].Content)
	assert.Equal(t, "user", msgs[len(msgs)-1].Role)
	assert.Equal(t, "how big is everything here", msgs[len(msgs)-1].Content)
	assert.Len(t, msgs, 2+2*len(p.Examples))
}

func TestTranslate_DenyListRejects(t *testing.T) {
	for _, reply := range []string{"rm -rf ~", "rm -rf /", "rm ~", "rm /", "find / -delete", "dd if=/dev/zero of=/dev/sda", "sudo reboot"} {
		tr, p := setup(t, profile.POSIX, &MockLLM{Replies: []string{reply}})
		_, err := tr.Translate(context.Background(), "clean up my computer", p)
		require.Error(t, err, reply)
		assert.ErrorIs(t, err, ErrUnsafeCommand)

		var te *Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, KindUnsafe, te.Kind)
		assert.Equal(t, reply, te.Candidate)
	}
}

func TestTranslate_CanonicalDeleteIsExempt(t *testing.T) {
	tr, p := setup(t, profile.POSIX, &MockLLM{Replies: []string{"rm old.log"}})
	res, err := tr.Translate(context.Background(), "get rid of old.log", p)
	require.NoError(t, err)
	assert.Equal(t, "rm old.log", res.Command)

	tr, ps := setup(t, profile.PowerShell, &MockLLM{Replies: []string{"Remove-Item -Path old.log"}})
	res, err = tr.Translate(context.Background(), "get rid of old.log", ps)
	require.NoError(t, err)
	assert.Equal(t, "Remove-Item -Path old.log", res.Command)

	tr, ps = setup(t, profile.PowerShell, &MockLLM{Replies: []string{"Remove-Item -Path old -Recurse"}})
	_, err = tr.Translate(context.Background(), "get rid of old", ps)
	assert.ErrorIs(t, err, ErrUnsafeCommand, "block-level patterns are never exempt")
}

func TestTranslate_Unparseable(t *testing.T) {
	m := &MockLLM{Replies: []string{"I'm not sure what you mean.\nCould you clarify what you want?"}}
	tr, p := setup(t, profile.POSIX, m)
	_, err := tr.Translate(context.Background(), "do the thing", p)
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.EqualValues(t, 1, m.Calls.Load(), "unparseable output is not retried")
}

func TestTranslate_UnreachableRetriesOnce(t *testing.T) {
	m := &MockLLM{Errs: []error{llm.ErrUnreachable, nil}, Replies: []string{"uname -a", "uname -a"}}
	tr, p := setup(t, profile.POSIX, m)
	res, err := tr.Translate(context.Background(), "what kernel am i on", p)
	require.NoError(t, err)
	assert.Equal(t, "uname -a", res.Command)
	assert.EqualValues(t, 2, m.Calls.Load())

	m = &MockLLM{Errs: []error{llm.ErrUnreachable}}
	tr, p = setup(t, profile.POSIX, m)
	_, err = tr.Translate(context.Background(), "what kernel am i on", p)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, llm.ErrUnreachable)
	assert.EqualValues(t, 2, m.Calls.Load())
}

func TestTranslate_TimeoutIsUnreachable(t *testing.T) {
	slow := completerFunc(func(ctx context.Context, _ []llm.ChatMessage) (string, error) {
		<-ctx.Done()
		return "", errors.Join(llm.ErrUnreachable, ctx.Err())
	})
	p, err := profile.Load(profile.POSIX)
	require.NoError(t, err)
	tr := New(slow, nil, Config{Enabled: true, Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err = tr.Translate(context.Background(), "compose a limerick", p)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTranslate_CancelledContext(t *testing.T) {
	tr, p := setup(t, profile.POSIX, &MockLLM{Replies: []string{"ls"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Translate(ctx, "anything", p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranslate_EmptyResponse(t *testing.T) {
	tr, p := setup(t, profile.POSIX, &MockLLM{Replies: []string{"   \n "}})
	_, err := tr.Translate(context.Background(), "anything", p)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestTranslate_Disabled(t *testing.T) {
	p, err := profile.Load(profile.POSIX)
	require.NoError(t, err)

	tr := New(&MockLLM{}, nil, Config{Enabled: false})
	assert.False(t, tr.Enabled())
	_, err = tr.Translate(context.Background(), "ls -a", p)
	assert.ErrorIs(t, err, ErrDisabled)

	tr = New(nil, nil, Config{Enabled: true})
	_, err = tr.Translate(context.Background(), "ls -a", p)
	assert.ErrorIs(t, err, ErrDisabled)
}

type completerFunc func(ctx context.Context, m []llm.ChatMessage) (string, error)

func (f completerFunc) Complete(ctx context.Context, m []llm.ChatMessage) (string, error) {
	return f(ctx, m)
}
