package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"jarvis-shell/internal/logger"
)

var (
	// ErrUnreachable covers every failure to get an answer from the backend:
	// connection refused, timeouts, non-200 replies and an open circuit.
	ErrUnreachable = errors.New("model backend unreachable")
	// ErrEmptyResponse means the backend answered with no usable text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// Completer turns a chat transcript into the assistant's reply.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// LLM is a local model backend with a lifecycle.
type LLM interface {
	Completer
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// ChatMessage represents a message in the OpenAI chat format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for /v1/chat/completions
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatResponse is the response body from /v1/chat/completions
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Options tune a completion request.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // per HTTP request; the caller's context still applies
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 128
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	return o
}

// chatClient speaks the OpenAI-compatible chat completion API.
type chatClient struct {
	baseURL string // without /v1
	opts    Options
	http    *http.Client
}

func newChatClient(baseURL string, opts Options) *chatClient {
	opts = opts.withDefaults()
	return &chatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

func (c *chatClient) complete(ctx context.Context, messages []ChatMessage) (string, error) {
	reqBody := ChatRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: server error %d: %s", ErrUnreachable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrEmptyResponse, err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// LlamaServer implements LLM using llama-server HTTP API
type LlamaServer struct {
	BinPath      string
	ModelPath    string
	ContextSize  int
	Port         int
	StartTimeout time.Duration

	client  *chatClient
	cmd     *exec.Cmd
	running bool
	mu      sync.Mutex
	baseURL string
}

func NewLlamaServer(binPath, modelPath string, contextSize, port int, opts Options) *LlamaServer {
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	return &LlamaServer{
		BinPath:      binPath,
		ModelPath:    modelPath,
		ContextSize:  contextSize,
		Port:         port,
		StartTimeout: 180 * time.Second,
		client:       newChatClient(baseURL, opts),
		baseURL:      baseURL,
	}
}

// IsPortOpen checks if a port is already in use (server already running)
func IsPortOpen(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 1*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *LlamaServer) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		return nil
	}

	// Check if server is already running on this port (from a previous session)
	if IsPortOpen(s.Port) {
		logger.Info("llama-server already running on port %d, connecting", s.Port)
		s.running = true
		s.mu.Unlock()
		return nil
	}

	bin := s.BinPath
	if bin == "" {
		bin = "llama-server"
	}

	args := []string{
		"-m", s.ModelPath,
		"-c", fmt.Sprintf("%d", s.ContextSize),
		"--host", "127.0.0.1",
		"--port", fmt.Sprintf("%d", s.Port),
	}

	s.cmd = exec.Command(bin, args...)
	// No stdout/stderr piping; a full pipe buffer can stall the server.

	if err := s.cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start llama-server: %w", err)
	}

	s.running = true
	logger.Info("llama-server started (PID: %d)", s.cmd.Process.Pid)
	cmd := s.cmd
	s.mu.Unlock()

	// Monitor for unexpected exit
	go func() {
		cmd.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// Wait for server to finish loading model and become ready
	if err := s.waitForReady(ctx, s.StartTimeout); err != nil {
		s.Stop()
		return err
	}

	return nil
}

// waitForReady polls /health until the server reports "ok"
func (s *LlamaServer) waitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthURL := s.baseURL + "/health"
	client := &http.Client{Timeout: 2 * time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			bodyStr := string(body)
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			if strings.Contains(bodyStr, "loading") {
				logger.Debug("llama-server still loading model")
			}
		}

		s.mu.Lock()
		alive := s.running
		s.mu.Unlock()
		if !alive {
			return fmt.Errorf("llama-server process died during startup, check model path: %s", s.ModelPath)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llama-server startup timed out after %v, model may be too large for available RAM", timeout)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *LlamaServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.cmd != nil && s.cmd.Process != nil {
		logger.Info("stopping llama-server (PID: %d)", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
	}

	s.running = false
	return nil
}

func (s *LlamaServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Complete sends the transcript to /v1/chat/completions and returns the reply text.
func (s *LlamaServer) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if !s.IsRunning() {
		return "", fmt.Errorf("%w: llama-server not running", ErrUnreachable)
	}
	return s.client.complete(ctx, messages)
}

var _ LLM = (*LlamaServer)(nil)
