// Package profile describes the shell dialect of a target operating system.
//
// A Profile maps OS-agnostic canonical actions (list a directory, make a folder, ...)
// to native syntax templates, resolves directory aliases such as "desktop", quotes
// parameter values for the target shell and carries the few-shot prompt material used
// by the model translator. Profiles are loaded once from embedded YAML and are
// read-only afterwards.
package profile

import (
	"embed"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profileFS embed.FS

// ID identifies a profile.
type ID string

const (
	POSIX      ID = "posix"
	PowerShell ID = "powershell"
)

// Action is a canonical, OS-agnostic operation.
type Action string

const (
	ListDir        Action = "list_dir"
	ListAll        Action = "list_all"
	ListSortedSize Action = "list_sorted_size"
	ListSortedTime Action = "list_sorted_time"
	PrintCwd       Action = "print_cwd"
	ChangeDir      Action = "change_dir"
	MakeDir        Action = "make_dir"
	MakeFile       Action = "make_file"
	RemoveFile     Action = "remove_file"
	CopyItem       Action = "copy_item"
	MoveItem       Action = "move_item"
	ClearScreen    Action = "clear_screen"
	ShowFile       Action = "show_file"
	FindName       Action = "find_name"
	DiskUsage      Action = "disk_usage"
	ListProcesses  Action = "list_processes"
	ShowDate       Action = "show_date"
	WhoAmI         Action = "whoami"
)

var (
	ErrUnknownProfile = errors.New("unknown platform profile")
	ErrUnknownAction  = errors.New("canonical action not defined by profile")
	ErrMissingAction  = errors.New("profile is missing a canonical action")
	ErrMissingParam   = errors.New("missing template parameter")
)

// Example is one few-shot request/command pair.
type Example struct {
	Request string `yaml:"request"`
	Command string `yaml:"command"`
}

// DenyPattern is a regex describing a destructive command.
type DenyPattern struct {
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"` // "block" or "confirm"
	Message string `yaml:"message"`
}

type actionDef struct {
	Name     Action `yaml:"name"`
	Template string `yaml:"template"`
}

// Profile is the dialect table for one shell family.
type Profile struct {
	ID            ID                `yaml:"id"`
	DisplayName   string            `yaml:"display_name"`
	Shell         []string          `yaml:"shell"`
	ShellFallback []string          `yaml:"shell_fallback"`
	PathSeparator string            `yaml:"path_separator"`
	Home          string            `yaml:"home"`
	Quoting       string            `yaml:"quoting"`
	Instruction   string            `yaml:"instruction"`
	Verbs         []string          `yaml:"verbs"`
	Aliases       map[string]string `yaml:"aliases"`
	Examples      []Example         `yaml:"examples"`
	Deny          []DenyPattern     `yaml:"deny"`
	ActionList    []actionDef       `yaml:"actions"`

	templates map[Action]*template
	verbSet   map[string]bool
}

// Load parses and compiles the embedded profile with the given id.
func Load(id ID) (*Profile, error) {
	data, err := profileFS.ReadFile("profiles/" + string(id) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	return Parse(data)
}

// Parse builds a profile from YAML. Exposed for tests and custom profiles.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("parse profile: missing id")
	}
	if len(p.Shell) == 0 {
		return nil, fmt.Errorf("profile %s: missing shell", p.ID)
	}
	switch p.Quoting {
	case quotingPOSIX, quotingPowerShell:
	default:
		return nil, fmt.Errorf("profile %s: unknown quoting rule %q", p.ID, p.Quoting)
	}

	p.templates = make(map[Action]*template, len(p.ActionList))
	for _, a := range p.ActionList {
		if _, dup := p.templates[a.Name]; dup {
			return nil, fmt.Errorf("profile %s: duplicate action %s", p.ID, a.Name)
		}
		p.templates[a.Name] = compileTemplate(a.Template)
	}

	for _, d := range p.Deny {
		if _, err := regexp.Compile(d.Pattern); err != nil {
			return nil, fmt.Errorf("profile %s: deny pattern %q: %w", p.ID, d.Pattern, err)
		}
	}

	p.verbSet = make(map[string]bool, len(p.Verbs))
	for _, v := range p.Verbs {
		p.verbSet[strings.ToLower(v)] = true
	}
	return &p, nil
}

// Detect returns the profile id for the host operating system.
func Detect() ID {
	return detectFor(runtime.GOOS)
}

func detectFor(goos string) ID {
	if goos == "windows" {
		return PowerShell
	}
	return POSIX
}

// Validate checks that every required canonical action has a template.
func (p *Profile) Validate(required []Action) error {
	var missing []string
	for _, a := range required {
		if _, ok := p.templates[a]; !ok {
			missing = append(missing, string(a))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s lacks %s", ErrMissingAction, p.ID, strings.Join(missing, ", "))
	}
	return nil
}

// Actions returns the canonical actions in declaration order.
func (p *Profile) Actions() []Action {
	out := make([]Action, 0, len(p.ActionList))
	for _, a := range p.ActionList {
		out = append(out, a.Name)
	}
	return out
}

// Template returns the raw template text for an action.
func (p *Profile) Template(a Action) (string, bool) {
	t, ok := p.templates[a]
	if !ok {
		return "", false
	}
	return t.raw, true
}

// IsVerb reports whether word starts a native command of this profile.
func (p *Profile) IsVerb(word string) bool {
	return p.verbSet[strings.ToLower(word)]
}

// ResolveAlias maps a directory alias like "desktop" to a home-relative path.
// Unknown aliases report false.
func (p *Profile) ResolveAlias(name string) (Param, bool) {
	rel, ok := p.Aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Param{}, false
	}
	return HomePath(rel), true
}
