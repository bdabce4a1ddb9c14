package profile

import (
	"regexp"
	"strings"
)

const (
	quotingPOSIX      = "posix"
	quotingPowerShell = "powershell"
)

var (
	posixSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)
	psSafe    = regexp.MustCompile(`^[A-Za-z0-9_./\\:-]+$`)
)

// Param is a template argument. Literal params come from the user's request and are
// always quoted as a single token; home params are rooted at the user's home directory
// and keep the home reference outside the quotes so the shell still expands it.
type Param struct {
	segments []string
	home     bool
}

// Lit wraps a literal value.
func Lit(s string) Param {
	return Param{segments: []string{s}}
}

// HomePath returns a path relative to the user's home directory. An empty rel means
// the home directory itself.
func HomePath(rel string) Param {
	p := Param{home: true}
	if rel != "" {
		p.segments = []string{rel}
	}
	return p
}

// Join appends a child path element.
func (p Param) Join(child string) Param {
	segs := make([]string, 0, len(p.segments)+1)
	segs = append(segs, p.segments...)
	segs = append(segs, child)
	return Param{segments: segs, home: p.home}
}

// IsZero reports whether the param carries nothing to render.
func (p Param) IsZero() bool {
	return !p.home && len(p.segments) == 0
}

func (p *Profile) renderParam(v Param, optionValue bool) string {
	rel := strings.Join(v.segments, p.PathSeparator)
	if p.Quoting == quotingPowerShell {
		if !v.home {
			return QuotePowerShell(rel)
		}
		switch {
		case rel == "":
			return p.Home
		case psSafe.MatchString(rel):
			return p.Home + p.PathSeparator + rel
		default:
			return "(Join-Path " + p.Home + " " + QuotePowerShell(rel) + ")"
		}
	}

	if !v.home {
		if optionValue {
			return quotePOSIXWord(rel)
		}
		return QuotePOSIX(rel)
	}
	if rel == "" {
		return p.Home
	}
	return p.Home + "/" + quotePOSIXWord(rel)
}

// QuotePOSIX renders s as exactly one sh word. Values beginning with '-' get a "./"
// prefix so commands never read them as options.
func QuotePOSIX(s string) string {
	if strings.HasPrefix(s, "-") {
		s = "./" + s
	}
	return quotePOSIXWord(s)
}

func quotePOSIXWord(s string) string {
	if s == "" {
		return "''"
	}
	if posixSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// psQuoteReplacer doubles every character PowerShell accepts as a single quote.
var psQuoteReplacer = strings.NewReplacer(
	"'", "''",
	"‘", "‘‘",
	"’", "’’",
	"‚", "‚‚",
	"‛", "‛‛",
)

// QuotePowerShell renders s as one PowerShell argument. Bare words are only used for
// plain path characters; anything else becomes a verbatim single-quoted string.
func QuotePowerShell(s string) string {
	if s != "" && !strings.HasPrefix(s, "-") && psSafe.MatchString(s) {
		return s
	}
	return "'" + psQuoteReplacer.Replace(s) + "'"
}
