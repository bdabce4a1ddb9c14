package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatHandler(t *testing.T, reply string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/health":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
			return
		case "/v1/chat/completions":
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Messages)
		assert.False(t, req.Stream)

		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}
}

func portOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

var msgs = []ChatMessage{{Role: "system", Content: "translate"}, {Role: "user", Content: "list files"}}

func TestLlamaServer_ConnectsToRunningServer(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "  ls -la \n", http.StatusOK))
	defer srv.Close()

	s := NewLlamaServer("", "model.gguf", 2048, portOf(t, srv), Options{Temperature: 0.1})
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	out, err := s.Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "ls -la", out)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestLlamaServer_NotRunningIsUnreachable(t *testing.T) {
	s := NewLlamaServer("", "model.gguf", 2048, 1, Options{})
	_, err := s.Complete(context.Background(), msgs)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestComplete_ErrorKinds(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "", http.StatusOK))
	defer srv.Close()
	_, err := newChatClient(srv.URL, Options{}).complete(context.Background(), msgs)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	bad := httptest.NewServer(chatHandler(t, "ls", http.StatusInternalServerError))
	defer bad.Close()
	_, err = newChatClient(bad.URL, Options{}).complete(context.Background(), msgs)
	assert.ErrorIs(t, err, ErrUnreachable)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	_, err = newChatClient(deadURL, Options{}).complete(context.Background(), msgs)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestComplete_HonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newChatClient(srv.URL, Options{}).complete(ctx, msgs)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOllama(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/chat/completions" {
			body, _ := io.ReadAll(r.Body)
			var req ChatRequest
			json.Unmarshal(body, &req)
			gotModel = req.Model
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		chatHandler(t, "pwd", http.StatusOK)(w, r)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, Options{})
	require.NoError(t, o.Start(context.Background()))
	assert.True(t, o.IsRunning())

	out, err := o.Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "pwd", out)
	assert.Equal(t, DefaultOllamaModel, gotModel)
}

func TestOllama_StartFailsWithoutDaemon(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	o := NewOllama(deadURL, Options{})
	err := o.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

type completerFunc func(ctx context.Context, m []ChatMessage) (string, error)

func (f completerFunc) Complete(ctx context.Context, m []ChatMessage) (string, error) {
	return f(ctx, m)
}

func TestBreaker_OpensOnUnreachable(t *testing.T) {
	calls := 0
	inner := completerFunc(func(context.Context, []ChatMessage) (string, error) {
		calls++
		return "", ErrUnreachable
	})
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := b.Complete(context.Background(), msgs)
		assert.ErrorIs(t, err, ErrUnreachable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Complete(context.Background(), msgs)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 2, calls, "open circuit fails fast")
}

func TestBreaker_EmptyResponsesDoNotTrip(t *testing.T) {
	inner := completerFunc(func(context.Context, []ChatMessage) (string, error) {
		return "", ErrEmptyResponse
	})
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := b.Complete(context.Background(), msgs)
		assert.True(t, errors.Is(err, ErrEmptyResponse))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_PassesThrough(t *testing.T) {
	b := NewBreaker(completerFunc(func(context.Context, []ChatMessage) (string, error) {
		return "whoami", nil
	}), BreakerConfig{})
	out, err := b.Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "whoami", out)
}
