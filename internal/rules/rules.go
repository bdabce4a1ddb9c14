// Package rules recognizes structured requests and compiles them into native
// commands through a platform profile.
//
// Rules are checked in declaration order and the first match wins, so more specific
// patterns are declared before generic ones. Patterns are case-insensitive and run
// against the trimmed, whitespace-collapsed request; captured values keep their
// original case. A rule whose parameters cannot be resolved (an unknown directory
// alias, say) does not match, and the engine moves on to the next rule.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"jarvis-shell/internal/profile"
)

// Kind tags a rule by what it recognizes.
type Kind int

const (
	// Passthrough rules recognize shell fragments (POSIX or PowerShell) and
	// re-express them in the active profile.
	Passthrough Kind = iota
	// Intent rules recognize natural-language requests.
	Intent
)

func (k Kind) String() string {
	if k == Passthrough {
		return "passthrough"
	}
	return "intent"
}

// Captures holds the named groups of a match.
type Captures map[string]string

// Extractor turns captures into a canonical action and its parameters.
// Returning false means the rule does not apply after all.
type Extractor func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool)

// Rule is one compiled matcher.
type Rule struct {
	Name    string
	Kind    Kind
	Actions []profile.Action // every action Extract may return
	Pattern *regexp.Regexp
	Extract Extractor
}

// Result is a successful rule resolution.
type Result struct {
	Command string
	Action  profile.Action
	Rule    string
	// CaseSensitive is set when the command carries operands (file names,
	// paths, patterns) copied from the request with their letter case.
	CaseSensitive bool
}

// keywordGroups capture vocabulary whose case never reaches the command.
var keywordGroups = map[string]bool{"loc": true, "loc2": true, "key": true, "kind": true, "verb": true}

type options struct {
	passthrough bool
	extra       []Def
}

// Option configures an Engine.
type Option func(*options)

// WithoutPassthrough drops the shell-fragment rules, leaving only natural-language intents.
func WithoutPassthrough() Option {
	return func(o *options) { o.passthrough = false }
}

// WithRules appends extra rule definitions after the built-in ones.
func WithRules(defs ...Def) Option {
	return func(o *options) { o.extra = append(o.extra, defs...) }
}

// Engine holds the ordered rule list. It is immutable after construction.
type Engine struct {
	rules []Rule
}

// NewEngine compiles the built-in rules (and any extras) in order.
func NewEngine(opts ...Option) (*Engine, error) {
	o := options{passthrough: true}
	for _, opt := range opts {
		opt(&o)
	}

	var defs []Def
	if o.passthrough {
		defs = append(defs, passthroughDefs...)
	}
	defs = append(defs, intentDefs...)
	defs = append(defs, o.extra...)

	e := &Engine{}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		r, err := d.compile()
		if err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %s declared twice", r.Name)
		}
		seen[r.Name] = true
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// Rules returns the compiled rules in match order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Match returns the first rule resolution for text under p.
func (e *Engine) Match(text string, p *profile.Profile) (Result, bool) {
	text = collapse(text)
	if text == "" {
		return Result{}, false
	}
	for _, r := range e.rules {
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		caps := make(Captures, len(m))
		for i, name := range r.Pattern.SubexpNames() {
			if name != "" {
				caps[name] = m[i]
			}
		}
		action, params, ok := r.Extract(caps, p)
		if !ok {
			continue
		}
		cmd, err := p.Render(action, params)
		if err != nil {
			// A profile without this action cannot serve the rule; treat as no match.
			continue
		}
		return Result{Command: cmd, Action: action, Rule: r.Name, CaseSensitive: hasCasedOperand(caps)}, true
	}
	return Result{}, false
}

func hasCasedOperand(caps Captures) bool {
	for name, v := range caps {
		if !keywordGroups[name] && strings.ToLower(v) != strings.ToUpper(v) {
			return true
		}
	}
	return false
}

// Equivalent reports whether command is itself recognized as a canonical action
// whose rendering under p is the same command.
func (e *Engine) Equivalent(command string, p *profile.Profile) bool {
	res, ok := e.Match(command, p)
	if !ok {
		return false
	}
	return strings.EqualFold(collapse(res.Command), collapse(command))
}

// Actions lists every canonical action the engine can emit.
func (e *Engine) Actions() []profile.Action {
	seen := make(map[profile.Action]bool)
	var out []profile.Action
	for _, r := range e.rules {
		for _, a := range r.Actions {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// RequiredActions lists the canonical actions the built-in rules can emit. Every
// supported profile must define all of them.
func RequiredActions() []profile.Action {
	e, err := NewEngine()
	if err != nil {
		panic(err)
	}
	return e.Actions()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
