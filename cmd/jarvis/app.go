package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jarvis-shell/internal/cache"
	"jarvis-shell/internal/config"
	"jarvis-shell/internal/executor"
	"jarvis-shell/internal/llm"
	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/pipeline"
	"jarvis-shell/internal/profile"
	"jarvis-shell/internal/rules"
	"jarvis-shell/internal/translator"
)

// app holds the wired components for one invocation.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	profile *profile.Profile

	cache   *cache.Cache
	store   cache.Store
	mu      sync.Mutex
	stored  []cache.Entry // persisted records, including other profiles'
	rules   *rules.Engine
	backend llm.LLM

	pipeline *pipeline.Pipeline
	executor *executor.Executor
	session  *pipeline.Session
}

// setupOptions selects which components an invocation needs.
type setupOptions struct {
	model bool // start the model backend
}

// loadProfile loads and validates the profile for id. Any failure here is fatal.
func loadProfile(id profile.ID) (*profile.Profile, error) {
	p, err := profile.Load(id)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(rules.RequiredActions()); err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return p, nil
}

func setup(cmd *cobra.Command, opts setupOptions) (*app, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Logger
	if err := logger.Init(filepath.Join(cfg.DataDirectory(), "jarvis.log")); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
	}
	logger.SetVerbose(cfg.Verbose || debugEnv())
	logger.Info("Starting Jarvis (config: %q)", cfg.File)

	p, err := loadProfile(cfg.ProfileID())
	if err != nil {
		logger.Error("Failed to load profile: %v", err)
		return nil, err
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return nil, err
	}

	a := &app{v: v, cfg: cfg, profile: p, rules: engine}

	a.cache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	a.store, err = cache.OpenStore(cfg.Cache.Persist, cfg.DataDirectory())
	if err != nil {
		logger.Warn("Cache persistence disabled: %v", err)
	}
	if a.store != nil {
		records, err := a.store.Load()
		if err != nil {
			logger.Warn("Could not load cache: %v", err)
		}
		a.stored = records
		logger.Info("Restored %d cached commands", a.cache.Restore(records, p.ID))
	}

	var tr pipeline.Translator
	if opts.model && cfg.Model.Enabled {
		tr = a.startModel(cmd.Context())
	}

	a.pipeline = pipeline.New(p, a.cache, engine, tr)

	wd, _ := os.Getwd()
	a.executor = executor.NewExecutor(wd, p)
	a.executor.Timeout = cfg.Exec.Timeout
	a.session = pipeline.NewSession(a.pipeline, a.executor)
	return a, nil
}

// startModel brings up the configured backend. A backend that fails to start
// leaves the app running on rules alone.
func (a *app) startModel(ctx context.Context) pipeline.Translator {
	mc := a.cfg.Model
	opts := llm.Options{
		Model:       mc.Name,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxTokens,
		Timeout:     mc.Timeout,
	}

	switch mc.Backend {
	case config.BackendOllama:
		if opts.Model == "" {
			opts.Model = llm.DefaultOllamaModel
		}
		a.backend = llm.NewOllama(mc.Endpoint, opts)
	default:
		a.backend = llm.NewLlamaServer(mc.LlamaBinPath, mc.ModelPath, mc.ContextSize, mc.ServerPort, opts)
	}

	fmt.Fprintf(os.Stderr, "🤖 Starting local model (%s)... this may take a minute on first run\n", mc.Backend)
	if err := a.backend.Start(ctx); err != nil {
		logger.Error("Model backend unavailable: %v", err)
		fmt.Fprintf(os.Stderr, "   ⚠️  Model unavailable, continuing with built-in rules only: %v\n", err)
		a.backend = nil
		return nil
	}

	breaker := llm.NewBreaker(a.backend, llm.BreakerConfig{
		MaxFailures: mc.Breaker.MaxFailures,
		OpenTimeout: mc.Breaker.OpenTimeout,
	})
	return translator.New(breaker, a.rules, translator.Config{
		Enabled:      true,
		Timeout:      mc.Timeout,
		RetryBackoff: mc.RetryBackoff,
	})
}

// applyConfig reacts to a reloaded config file.
func (a *app) applyConfig(cfg *config.Config, notify func(*profile.Profile)) {
	logger.SetVerbose(cfg.Verbose || debugEnv())
	if cfg.ProfileID() == a.pipeline.Profile().ID {
		return
	}
	p, err := loadProfile(cfg.ProfileID())
	if err != nil {
		logger.Error("Keeping profile %s: %v", a.pipeline.Profile().ID, err)
		return
	}
	a.switchProfile(p)
	if notify != nil {
		notify(p)
	}
}

// switchProfile makes p active. The outgoing profile's entries are kept for
// persistence and p's stored entries are restored.
func (a *app) switchProfile(p *profile.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stored = cache.Merge(a.stored, a.cache.Entries(), a.pipeline.Profile().ID)
	a.session.SetProfile(p)
	a.cache.Restore(a.stored, p.ID)
}

// close persists the cache and stops the model backend.
func (a *app) close() {
	a.session.Cancel()
	if a.store != nil {
		a.mu.Lock()
		records := cache.Merge(a.stored, a.cache.Entries(), a.pipeline.Profile().ID)
		a.mu.Unlock()
		if err := a.store.Save(records); err != nil {
			logger.Error("Could not save cache: %v", err)
		}
		a.store.Close()
	}
	if a.backend != nil {
		a.backend.Stop()
	}
	logger.Close()
}

func debugEnv() bool {
	return strings.EqualFold(os.Getenv("JARVIS_DEBUG"), "1") || strings.EqualFold(os.Getenv("JARVIS_DEBUG"), "true")
}
