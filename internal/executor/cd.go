package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"jarvis-shell/internal/profile"
)

var joinPathHome = regexp.MustCompile(`(?i)^\(\s*join-path\s+\$home\s+(.+?)\s*\)$`)

// handleCD changes the executor's working directory natively.
// This is necessary because cd/Set-Location in a subprocess doesn't
// affect the parent process.
func (e *Executor) handleCD(target string, start time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	newDir := target
	if !filepath.IsAbs(target) {
		newDir = filepath.Join(e.workingDir, target)
	}
	newDir = filepath.Clean(newDir)

	info, err := os.Stat(newDir)
	if err != nil {
		return &Result{
			ExitCode:       1,
			Error:          fmt.Sprintf("Cannot navigate to '%s': %v", target, err),
			Duration:       time.Since(start),
			CurrentWorkDir: e.workingDir,
		}
	}
	if !info.IsDir() {
		return &Result{
			ExitCode:       1,
			Error:          fmt.Sprintf("'%s' is not a directory", target),
			Duration:       time.Since(start),
			CurrentWorkDir: e.workingDir,
		}
	}

	e.workingDir = newDir

	return &Result{
		Success:        true,
		Output:         fmt.Sprintf("Directory: %s", newDir),
		Duration:       time.Since(start),
		NewWorkDir:     newDir,
		CurrentWorkDir: newDir,
	}
}

// extractCDTarget detects cd/Set-Location commands and extracts the target path,
// with quoting removed and home references expanded.
// Returns the target and true if it's a cd command, or ("", false) otherwise.
func extractCDTarget(command string, p *profile.Profile) (string, bool) {
	cmd := strings.TrimSpace(command)
	lower := strings.ToLower(cmd)

	// Compound commands go to the shell.
	if strings.ContainsAny(cmd, ";&|\n") {
		return "", false
	}

	var rest string
	switch {
	case lower == "cd":
		rest = "~"
	case strings.HasPrefix(lower, "cd "):
		rest = cmd[3:]
	case strings.HasPrefix(lower, "set-location "):
		rest = cmd[13:]
	case strings.HasPrefix(lower, "sl "):
		rest = cmd[3:]
	case strings.HasPrefix(lower, "chdir "):
		rest = cmd[6:]
	default:
		return "", false
	}

	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(strings.ToLower(rest), "-path ") {
		rest = strings.TrimSpace(rest[6:])
	}

	powershell := p != nil && p.Quoting == "powershell"
	if m := joinPathHome.FindStringSubmatch(rest); m != nil {
		return filepath.Join(homeDir(), cleanPathArg(m[1], powershell)), true
	}
	return expandHome(rest, powershell), true
}

// expandHome resolves a leading ~ or $HOME outside quotes.
func expandHome(arg string, powershell bool) string {
	lower := strings.ToLower(arg)
	var rest string
	switch {
	case arg == "~" || lower == "$home":
		return homeDir()
	case strings.HasPrefix(arg, "~/"), strings.HasPrefix(arg, `~\`):
		rest = arg[2:]
	case strings.HasPrefix(lower, "$home/"), strings.HasPrefix(lower, `$home\`):
		rest = arg[6:]
	default:
		return cleanPathArg(arg, powershell)
	}
	return filepath.Join(homeDir(), cleanPathArg(rest, powershell))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// cleanPathArg removes shell quoting from a single word. POSIX words may mix
// quoted and bare segments ('a'"'"'b'); PowerShell single quotes escape by doubling.
func cleanPathArg(s string, powershell bool) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'':
			j := i + 1
			for j < len(s) {
				if s[j] == '\'' {
					if powershell && j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			i = j
		case '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				b.WriteByte(s[j])
				j++
			}
			i = j
		case '\\':
			if !powershell && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
