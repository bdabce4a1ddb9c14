package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// DefaultOllamaModel is used when no model name is configured.
const DefaultOllamaModel = "phi3:mini"

// Ollama talks to an already running Ollama daemon through its OpenAI-compatible
// /v1 endpoint. It never spawns a process.
type Ollama struct {
	baseURL string
	client  *chatClient

	mu      sync.Mutex
	running bool
}

// NewOllama returns a backend for the daemon at baseURL (default http://localhost:11434).
func NewOllama(baseURL string, opts Options) *Ollama {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if opts.Model == "" {
		opts.Model = DefaultOllamaModel
	}
	return &Ollama{baseURL: baseURL, client: newChatClient(baseURL, opts)}
}

// Start checks that the daemon answers.
func (o *Ollama) Start(ctx context.Context) error {
	if !o.IsHealthy(ctx) {
		return fmt.Errorf("%w: no Ollama daemon at %s", ErrUnreachable, o.baseURL)
	}
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	return nil
}

// Stop forgets the connection. The daemon keeps running.
func (o *Ollama) Stop() error {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return nil
}

func (o *Ollama) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// IsHealthy checks if the Ollama server is reachable.
func (o *Ollama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Complete sends the transcript to the daemon.
func (o *Ollama) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	return o.client.complete(ctx, messages)
}

var _ LLM = (*Ollama)(nil)
