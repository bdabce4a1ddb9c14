// Package safety classifies native commands against a profile's deny-list before
// they are accepted from the model or handed to the executor.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"jarvis-shell/internal/profile"
)

// Level indicates the safety assessment of a command
type Level int

const (
	Safe         Level = iota // Execute immediately
	NeedsConfirm              // Ask user for confirmation
	Blocked                   // Never execute
)

func (l Level) String() string {
	switch l {
	case NeedsConfirm:
		return "confirm"
	case Blocked:
		return "blocked"
	default:
		return "safe"
	}
}

// Assessment is the result of checking a command
type Assessment struct {
	Level   Level
	Reason  string
	Command string
}

// Checker validates commands before execution
type Checker struct {
	blockedPatterns []pattern
	confirmPatterns []pattern
}

type pattern struct {
	re     *regexp.Regexp
	reason string
}

// NewChecker compiles the deny-list of p.
func NewChecker(p *profile.Profile) (*Checker, error) {
	c := &Checker{}
	for _, d := range p.Deny {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return nil, fmt.Errorf("deny pattern %q: %w", d.Pattern, err)
		}
		pt := pattern{re: re, reason: d.Message}
		switch d.Level {
		case "block":
			c.blockedPatterns = append(c.blockedPatterns, pt)
		case "confirm":
			c.confirmPatterns = append(c.confirmPatterns, pt)
		default:
			return nil, fmt.Errorf("deny pattern %q: unknown level %q", d.Pattern, d.Level)
		}
	}
	return c, nil
}

// Check evaluates a command and returns a safety assessment
func (c *Checker) Check(command string) *Assessment {
	trimmed := strings.TrimSpace(command)

	// Check blocked patterns first
	for _, p := range c.blockedPatterns {
		if p.re.MatchString(trimmed) {
			return &Assessment{
				Level:   Blocked,
				Reason:  fmt.Sprintf("🚫 BLOCKED: %s", p.reason),
				Command: command,
			}
		}
	}

	for _, p := range c.confirmPatterns {
		if p.re.MatchString(trimmed) {
			return &Assessment{
				Level:   NeedsConfirm,
				Reason:  fmt.Sprintf("⚠️  %s, confirm? (y/n)", p.reason),
				Command: command,
			}
		}
	}

	return &Assessment{Level: Safe, Command: command}
}

// Denied reports whether any deny pattern matches command.
func (c *Checker) Denied(command string) bool {
	return c.Check(command).Level != Safe
}
