package translator

import (
	"encoding/json"
	"regexp"
	"strings"

	"jarvis-shell/internal/profile"
)

var (
	promptMarker = regexp.MustCompile(`^(?:\$|#|>|PS(?: [^>]*)?>)\s+`)
	labelPrefix  = regexp.MustCompile(`(?i)^(?:command|cmd|answer|output|shell|powershell|bash)\s*:\s*`)
	inlineCode   = regexp.MustCompile("`([^`\n]+)`")
)

// proseStarts are first words that mark a sentence rather than a command.
var proseStarts = map[string]bool{
	"i": true, "i'm": true, "sorry": true, "here": true, "here's": true, "the": true,
	"this": true, "that": true, "to": true, "you": true, "unfortunately": true,
	"sure": true, "certainly": true, "it": true, "please": true, "okay": true,
}

type jsonPlan struct {
	Command *string `json:"command"`
}

// ParseCommand extracts exactly one command line from raw model output.
func ParseCommand(raw string, p *profile.Profile) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyResponse
	}

	if strings.HasPrefix(stripFences(raw), "{") {
		return parseJSONCommand(raw)
	}

	var lines []string
	for _, l := range strings.Split(stripFences(raw), "\n") {
		if l = cleanLine(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", ErrEmptyResponse
	}

	for _, l := range lines {
		if startsWithVerb(l, p) {
			return l, nil
		}
	}
	if len(lines) == 1 && !looksLikeProse(lines[0]) {
		return lines[0], nil
	}
	return "", ErrUnparseable
}

func parseJSONCommand(raw string) (string, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return "", ErrUnparseable
	}

	var plan jsonPlan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		// Small models write Windows paths with invalid escapes like \F.
		if err := json.Unmarshal([]byte(sanitizeJSON(jsonStr)), &plan); err != nil {
			return "", ErrUnparseable
		}
	}

	if plan.Command == nil {
		return "", ErrUnparseable
	}
	cmd := strings.TrimSpace(*plan.Command)
	if cmd == "" || cmd == "null" || strings.Contains(cmd, "\n") {
		return "", ErrUnparseable
	}
	return cmd, nil
}

// stripFences removes markdown code fence lines.
func stripFences(s string) string {
	var b strings.Builder
	for _, l := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// cleanLine strips prompt markers, labels and wrapping backticks from one line.
// A prose line that quotes a command in backticks is reduced to that command.
func cleanLine(l string) string {
	l = strings.TrimSpace(strings.TrimSuffix(l, "\r"))
	if l == "" {
		return ""
	}
	if m := inlineCode.FindStringSubmatch(l); m != nil && strings.TrimSpace(l) != m[0] {
		l = m[1]
	}
	l = strings.Trim(l, "`")
	l = labelPrefix.ReplaceAllString(l, "")
	l = promptMarker.ReplaceAllString(l, "")
	return strings.TrimSpace(l)
}

func firstWord(l string) string {
	f := strings.Fields(l)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func startsWithVerb(l string, p *profile.Profile) bool {
	return p.IsVerb(firstWord(l))
}

func looksLikeProse(l string) bool {
	if proseStarts[strings.ToLower(strings.TrimRight(firstWord(l), ",.!:"))] {
		return true
	}
	return strings.HasSuffix(l, ".") && len(strings.Fields(l)) > 3
}

// ExtractJSON finds and returns the first JSON object in a string
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}

// sanitizeJSON fixes invalid escape sequences like \F, \P, \S (from Windows paths)
// by doubling the backslash.
func sanitizeJSON(s string) string {
	validEscapes := map[byte]bool{
		'"': true, '\\': true, '/': true,
		'n': true, 'r': true, 't': true, 'u': true,
	}

	var result strings.Builder
	inString := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if ch == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			result.WriteByte(ch)
			continue
		}

		if inString && ch == '\\' && i+1 < len(s) {
			next := s[i+1]
			if !validEscapes[next] {
				result.WriteString("\\\\")
				continue
			}
			// Keep a valid escape pair together so an escaped quote does not end the string.
			result.WriteByte(ch)
			result.WriteByte(next)
			i++
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}
