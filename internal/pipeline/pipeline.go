// Package pipeline resolves a request through the cache, the rule engine and
// the model translator, in that order, and hands the winning command to the
// executor.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"jarvis-shell/internal/cache"
	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/profile"
	"jarvis-shell/internal/rules"
	"jarvis-shell/internal/translator"
)

// State is the terminal state of one resolution.
type State int

const (
	Resolved State = iota
	Unresolved
	Exit
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Exit:
		return "exit"
	default:
		return "unresolved"
	}
}

// Request identifies one submitted piece of text.
type Request struct {
	ID      string
	Text    string
	Key     string
	Profile profile.ID
}

// Result is a resolved native command.
type Result struct {
	Command string
	Source  cache.Source
	Rule    string         // set for rule resolutions
	Action  profile.Action // set for rule resolutions
}

// Outcome is what Resolve returns for every request.
type Outcome struct {
	State   State
	Result  Result
	Request Request
}

// Translator is the model tier.
type Translator interface {
	Enabled() bool
	Translate(ctx context.Context, text string, p *profile.Profile) (translator.Result, error)
}

// Pipeline owns the active profile and the three resolution tiers.
type Pipeline struct {
	mu      sync.RWMutex
	profile *profile.Profile

	cache *cache.Cache
	rules *rules.Engine
	model Translator

	group   singleflight.Group
	fmu     sync.Mutex
	flights map[string]*flight
}

// flight is one shared model call. It is cancelled once every waiter has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New wires the tiers. model may be nil, which disables the model tier.
func New(p *profile.Profile, c *cache.Cache, engine *rules.Engine, model Translator) *Pipeline {
	if c == nil {
		c = cache.New(cache.DefaultMaxEntries, 0)
	}
	return &Pipeline{
		profile: p,
		cache:   c,
		rules:   engine,
		model:   model,
		flights: make(map[string]*flight),
	}
}

// Profile returns the active profile.
func (pl *Pipeline) Profile() *profile.Profile {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.profile
}

// SetProfile makes p the active profile and drops every cached command.
func (pl *Pipeline) SetProfile(p *profile.Profile) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if p == nil || p == pl.profile {
		return
	}
	logger.Info("Switching profile %s -> %s", pl.profile.ID, p.ID)
	pl.profile = p
	pl.cache.InvalidateAll()
}

// Cache exposes the resolution cache for persistence and inspection.
func (pl *Pipeline) Cache() *cache.Cache { return pl.cache }

// IsExit reports whether text asks to end the session.
func IsExit(text string) bool {
	switch cache.Normalize(text) {
	case "exit", "quit":
		return true
	}
	return false
}

// Resolve runs text through the tiers. An Unresolved outcome comes with a
// *ResolutionError; cache misses and rule misses are not errors.
func (pl *Pipeline) Resolve(ctx context.Context, text string) (Outcome, error) {
	p := pl.Profile()
	req := Request{ID: uuid.NewString(), Text: text, Profile: p.ID}
	log := logger.With("request", req.ID, "profile", p.ID)

	if IsExit(text) {
		log.Debugw("exit requested")
		return Outcome{State: Exit, Request: req}, nil
	}
	if cache.Normalize(text) == "" {
		return Outcome{State: Unresolved, Request: req},
			&ResolutionError{Kind: NotUnderstood, Message: msgNotUnderstood}
	}
	req.Key = cache.Key(text, p.ID)

	if e, ok := pl.cache.Lookup(req.Key); ok {
		if e.Matches(text) {
			log.Debugw("cache hit", "command", e.Command, "origin", e.Source)
			return resolved(req, Result{Command: e.Command, Source: cache.SourceCache}), nil
		}
		log.Debugw("cache entry spelled differently", "exact", e.Exact)
	}

	if pl.rules != nil {
		if m, ok := pl.rules.Match(text, p); ok {
			log.Debugw("rule match", "rule", m.Rule, "command", m.Command)
			pl.store(p, req.Key, exactText(text, m.CaseSensitive), m.Command, cache.SourceRule)
			return resolved(req, Result{Command: m.Command, Source: cache.SourceRule, Rule: m.Rule, Action: m.Action}), nil
		}
	}

	if pl.model == nil || !pl.model.Enabled() {
		log.Debugw("no rule matched and model tier is disabled")
		return Outcome{State: Unresolved, Request: req},
			&ResolutionError{Kind: NotUnderstood, Message: msgNotUnderstood, Err: translator.ErrDisabled}
	}

	tr, err := pl.translate(ctx, req.Key, text, p)
	if err != nil {
		re := classify(ctx, err)
		log.Infow("unresolved", "kind", re.Kind.String(), "error", err)
		return Outcome{State: Unresolved, Request: req}, re
	}

	log.Infow("model translation", "command", tr.Command)
	pl.store(p, req.Key, exactText(text, echoesRequest(text, tr.Command)), tr.Command, cache.SourceModel)
	return resolved(req, Result{Command: tr.Command, Source: cache.SourceModel}), nil
}

func resolved(req Request, r Result) Outcome {
	return Outcome{State: Resolved, Result: r, Request: req}
}

// store writes a resolution unless the profile changed while it was computed.
// A non-empty exact limits the entry to requests spelled that way.
func (pl *Pipeline) store(p *profile.Profile, key, exact, command string, src cache.Source) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	if pl.profile != p {
		return
	}
	pl.cache.InsertExact(key, exact, command, src)
}

func exactText(text string, caseSensitive bool) string {
	if !caseSensitive {
		return ""
	}
	return text
}

// echoesRequest reports whether a model command reuses a word of the request,
// such as a file name, whose case would then matter.
func echoesRequest(text, command string) bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(command) {
		words[strings.ToLower(strings.Trim(w, `"'`))] = true
	}
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, `"'`)
		if strings.ToLower(w) != strings.ToUpper(w) && words[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

// translate collapses concurrent identical model calls into one.
func (pl *Pipeline) translate(ctx context.Context, key, text string, p *profile.Profile) (translator.Result, error) {
	f := pl.join(ctx, key)
	defer pl.leave(key, f)

	ch := pl.group.DoChan(key, func() (any, error) {
		return pl.model.Translate(f.ctx, text, p)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return translator.Result{}, r.Err
		}
		return r.Val.(translator.Result), nil
	case <-ctx.Done():
		return translator.Result{}, ctx.Err()
	}
}

func (pl *Pipeline) join(ctx context.Context, key string) *flight {
	pl.fmu.Lock()
	defer pl.fmu.Unlock()
	f, ok := pl.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		pl.flights[key] = f
	}
	f.waiters++
	return f
}

func (pl *Pipeline) leave(key string, f *flight) {
	pl.fmu.Lock()
	defer pl.fmu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if pl.flights[key] == f {
		delete(pl.flights, key)
		pl.group.Forget(key)
	}
}
