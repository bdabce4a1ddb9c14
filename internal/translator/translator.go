// Package translator asks the local model for a native command when no rule
// matches, and decides whether the answer can be trusted.
//
// The model is an untyped text boundary: its reply is parsed down to one command
// line and checked against the profile's deny-list. A deny-listed candidate only
// passes when the rule engine recognizes it as a canonical action that renders to
// the same command, and never when the pattern is a hard block.
package translator

import (
	"context"
	"errors"
	"sync"
	"time"

	"jarvis-shell/internal/llm"
	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/profile"
	"jarvis-shell/internal/rules"
	"jarvis-shell/internal/safety"
)

// Config tunes model calls.
type Config struct {
	Enabled      bool
	Timeout      time.Duration // per attempt
	RetryBackoff time.Duration // wait before the single retry of an unreachable backend
}

// Result is a validated model translation.
type Result struct {
	Command string
	Raw     string
}

// Translator turns free text into a command via the model.
type Translator struct {
	llm   llm.Completer
	rules *rules.Engine
	cfg   Config

	mu       sync.Mutex
	checkers map[*profile.Profile]*safety.Checker
}

// New returns a translator. A nil completer or cfg.Enabled=false yields one that
// always reports ErrDisabled.
func New(c llm.Completer, engine *rules.Engine, cfg Config) *Translator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	return &Translator{
		llm:      c,
		rules:    engine,
		cfg:      cfg,
		checkers: make(map[*profile.Profile]*safety.Checker),
	}
}

// Enabled reports whether Translate can call the model.
func (t *Translator) Enabled() bool {
	return t != nil && t.cfg.Enabled && t.llm != nil
}

// Translate resolves text under p. Every failure is a *Error.
func (t *Translator) Translate(ctx context.Context, text string, p *profile.Profile) (Result, error) {
	if !t.Enabled() {
		return Result{}, newError(KindDisabled, nil, "")
	}

	checker, err := t.checker(p)
	if err != nil {
		return Result{}, newError(KindUnsafe, err, "")
	}

	messages := BuildMessages(p, text)

	raw, err := t.complete(ctx, messages)
	if errors.Is(err, llm.ErrUnreachable) && ctx.Err() == nil {
		logger.Warn("model unreachable, retrying in %v: %v", t.cfg.RetryBackoff, err)
		select {
		case <-ctx.Done():
		case <-time.After(t.cfg.RetryBackoff):
			raw, err = t.complete(ctx, messages)
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, newError(KindUnreachable, ctxErr, "")
	}
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return Result{}, newError(KindEmptyResponse, err, "")
		}
		return Result{}, newError(KindUnreachable, err, "")
	}

	cmd, err := ParseCommand(raw, p)
	if err != nil {
		logger.Debug("unparseable model output: %q", raw)
		if errors.Is(err, ErrEmptyResponse) {
			return Result{}, newError(KindEmptyResponse, err, "")
		}
		return Result{}, newError(KindUnparseable, err, firstLine(raw))
	}

	if err := t.gate(cmd, p, checker); err != nil {
		return Result{}, err
	}
	return Result{Command: cmd, Raw: raw}, nil
}

func (t *Translator) complete(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	return t.llm.Complete(ctx, messages)
}

// gate applies the deny-list to a parsed candidate.
func (t *Translator) gate(cmd string, p *profile.Profile, checker *safety.Checker) error {
	a := checker.Check(cmd)
	switch a.Level {
	case safety.Safe:
		return nil
	case safety.NeedsConfirm:
		if t.rules != nil && t.rules.Equivalent(cmd, p) {
			logger.Debug("deny-listed candidate %q accepted as canonical action", cmd)
			return nil
		}
	}
	logger.Warn("rejected model command %q: %s", cmd, a.Reason)
	return newError(KindUnsafe, errors.New(a.Reason), cmd)
}

func (t *Translator) checker(p *profile.Profile) (*safety.Checker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.checkers[p]; ok {
		return c, nil
	}
	c, err := safety.NewChecker(p)
	if err != nil {
		return nil, err
	}
	t.checkers[p] = c
	return c, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
