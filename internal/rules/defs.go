package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"jarvis-shell/internal/profile"
)

// Def is an uncompiled rule. Pattern is matched case-insensitively against the
// whole request.
type Def struct {
	Name    string
	Kind    Kind
	Actions []profile.Action
	Pattern string
	Extract Extractor
}

func (d Def) compile() (Rule, error) {
	if d.Name == "" {
		return Rule{}, errors.New("rule without a name")
	}
	if d.Extract == nil || len(d.Actions) == 0 {
		return Rule{}, fmt.Errorf("rule %s: missing extractor or actions", d.Name)
	}
	re, err := regexp.Compile(`(?i)^(?:` + d.Pattern + `)$`)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", d.Name, err)
	}
	return Rule{Name: d.Name, Kind: d.Kind, Actions: d.Actions, Pattern: re, Extract: d.Extract}, nil
}

// Pattern fragments.
const (
	quoted = `"[^"]*"|'(?:[^']|'')*'`
	// tok is one operand: quoted, a $HOME path, or a bare word that is not an option
	// and carries no shell metacharacters or globs.
	tok = `(?:` + quoted + `|\$home(?:[\\/][^\s"'|;&<>()$` + "`" + `*?\[\]{}]*)?|[^\s"'|;&<>()$` + "`" + `*?\[\]{}-][^\s"'|;&<>()$` + "`" + `*?\[\]{}]*)`
	// globTok is like tok but allows wildcards, for name patterns.
	globTok = `(?:` + quoted + `|[^\s"'|;&<>()$` + "`" + `-][^\s"'|;&<>()$` + "`" + `]*)`
	loc     = `(?:\s+(?:in|on|at|inside|under|into)\s+(?:my\s+|the\s+)?(?P<loc>[a-z]+)(?:\s+(?:folder|directory|dir))?)?`
	listLoc = `(?:\s+(?:in|on|at|inside|under|of)\s+(?:my\s+|the\s+)?(?P<loc>[a-z]+)(?:\s+(?:folder|directory|dir))?)?`
	listing = `(?:please\s+)?(?:list|show)(?:\s+me)?(?:\s+all)?(?:\s+the)?`
)

func group(name, frag string) string {
	return `(?P<` + name + `>` + frag + `)`
}

// unquote strips one level of surrounding quotes from a captured operand.
func unquote(s string) (string, bool) {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			return s[1 : len(s)-1], true
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), true
		}
	}
	return s, false
}

// pathParam converts an operand into a template parameter. Unquoted home references
// (~, ~/x, $HOME, $HOME\x) stay home-relative; everything else is a literal.
func pathParam(raw string) (profile.Param, bool) {
	v, wasQuoted := unquote(raw)
	if v == "" {
		return profile.Param{}, false
	}
	if wasQuoted {
		return profile.Lit(v), true
	}
	switch {
	case v == "~":
		return profile.HomePath(""), true
	case strings.HasPrefix(v, "~/"), strings.HasPrefix(v, `~\`):
		return homeRel(v[2:]), true
	}
	if len(v) >= 5 && strings.EqualFold(v[:5], "$home") {
		rest := v[5:]
		if rest == "" {
			return profile.HomePath(""), true
		}
		if rest[0] == '/' || rest[0] == '\\' {
			return homeRel(rest[1:]), true
		}
	}
	return profile.Lit(v), true
}

func homeRel(rel string) profile.Param {
	rel = strings.Trim(rel, `/\`)
	return profile.HomePath(rel)
}

// resolveLoc maps a location word to a directory. Empty and "here"-like words mean
// the current directory and produce a zero Param.
func resolveLoc(p *profile.Profile, word string) (profile.Param, bool) {
	switch strings.ToLower(word) {
	case "", "here", "current", "this":
		return profile.Param{}, true
	}
	return p.ResolveAlias(word)
}

func fixed(a profile.Action) Extractor {
	return func(Captures, *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
		return a, nil, true
	}
}

// optional binds an optional operand to slot.
func optional(a profile.Action, slot string) Extractor {
	return func(c Captures, _ *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
		if c[slot] == "" {
			return a, nil, true
		}
		v, ok := pathParam(c[slot])
		if !ok {
			return "", nil, false
		}
		return a, map[string]profile.Param{slot: v}, true
	}
}

// operands binds each named capture to the template slot of the same name.
func operands(a profile.Action, slots ...string) Extractor {
	return func(c Captures, _ *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
		params := make(map[string]profile.Param, len(slots))
		for _, s := range slots {
			v, ok := pathParam(c[s])
			if !ok {
				return "", nil, false
			}
			params[s] = v
		}
		return a, params, true
	}
}

func sortKey(key string) profile.Action {
	switch strings.ToLower(strings.Join(strings.Fields(key), " ")) {
	case "size", "length":
		return profile.ListSortedSize
	case "name":
		return profile.ListDir
	default:
		return profile.ListSortedTime
	}
}

var sortActions = []profile.Action{profile.ListSortedSize, profile.ListSortedTime, profile.ListDir}

// passthroughDefs recognize commands that are already shell syntax, POSIX or
// PowerShell, and re-render them for the active profile.
var passthroughDefs = []Def{
	{
		Name: "ls-all", Kind: Passthrough, Actions: []profile.Action{profile.ListAll},
		Pattern: `(?:ls\s+-(?:a|la|al|A|lA|Al)|(?:get-childitem|gci)\s+-force|dir\s+/a)(?:\s+` + group("dir", tok) + `)?`,
		Extract: optional(profile.ListAll, "dir"),
	},
	{
		Name: "ls-size", Kind: Passthrough, Actions: []profile.Action{profile.ListSortedSize},
		Pattern: `ls\s+-(?:l?S|Sl)(?:\s+` + group("dir", tok) + `)?`,
		Extract: optional(profile.ListSortedSize, "dir"),
	},
	{
		Name: "ls-time", Kind: Passthrough, Actions: []profile.Action{profile.ListSortedTime},
		Pattern: `ls\s+-(?:l?t|tl)(?:\s+` + group("dir", tok) + `)?`,
		Extract: optional(profile.ListSortedTime, "dir"),
	},
	{
		Name: "ls-sort-object", Kind: Passthrough, Actions: []profile.Action{profile.ListSortedSize, profile.ListSortedTime},
		Pattern: `(?:get-childitem|gci|dir|ls)(?:\s+(?:-path\s+)?` + group("dir", tok) + `)?\s*\|\s*sort-object\s+(?:-property\s+)?` +
			group("key", `length|lastwritetime`) + `(?:\s+-descending)?`,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			_, params, ok := optional("", "dir")(c, p)
			return sortKey(c["key"]), params, ok
		},
	},
	{
		Name: "ls", Kind: Passthrough, Actions: []profile.Action{profile.ListDir},
		Pattern: `(?:ls|dir|get-childitem|gci)(?:\s+(?:-path\s+)?` + group("dir", tok) + `)?`,
		Extract: optional(profile.ListDir, "dir"),
	},
	{
		Name: "pwd", Kind: Passthrough, Actions: []profile.Action{profile.PrintCwd},
		Pattern: `pwd|get-location|gl`,
		Extract: fixed(profile.PrintCwd),
	},
	{
		Name: "clear", Kind: Passthrough, Actions: []profile.Action{profile.ClearScreen},
		Pattern: `clear|cls|clear-host`,
		Extract: fixed(profile.ClearScreen),
	},
	{
		Name: "mkdir", Kind: Passthrough, Actions: []profile.Action{profile.MakeDir},
		Pattern: `(?:mkdir|md)\s+(?:-p\s+)?` + group("path", tok),
		Extract: operands(profile.MakeDir, "path"),
	},
	{
		Name: "new-item-directory", Kind: Passthrough, Actions: []profile.Action{profile.MakeDir},
		Pattern: `(?:new-item|ni)\s+-itemtype\s+directory\s+(?:-(?:path|name)\s+)?` + group("path", tok),
		Extract: operands(profile.MakeDir, "path"),
	},
	{
		Name: "touch", Kind: Passthrough, Actions: []profile.Action{profile.MakeFile},
		Pattern: `touch\s+` + group("path", tok),
		Extract: operands(profile.MakeFile, "path"),
	},
	{
		Name: "new-item-file", Kind: Passthrough, Actions: []profile.Action{profile.MakeFile},
		Pattern: `(?:new-item|ni)\s+(?:-itemtype\s+file\s+)?(?:-(?:path|name)\s+)?` + group("path", tok),
		Extract: operands(profile.MakeFile, "path"),
	},
	{
		Name: "cd", Kind: Passthrough, Actions: []profile.Action{profile.ChangeDir},
		Pattern: `(?:cd|chdir|set-location|sl)\s+(?:-path\s+)?` + group("dir", tok),
		Extract: operands(profile.ChangeDir, "dir"),
	},
	{
		Name: "cat", Kind: Passthrough, Actions: []profile.Action{profile.ShowFile},
		Pattern: `(?:cat|type|get-content|gc)\s+(?:-path\s+)?` + group("path", tok),
		Extract: operands(profile.ShowFile, "path"),
	},
	{
		Name: "rm", Kind: Passthrough, Actions: []profile.Action{profile.RemoveFile},
		Pattern: `(?:rm|del|erase|remove-item|ri)\s+(?:-path\s+)?` + group("path", tok),
		Extract: operands(profile.RemoveFile, "path"),
	},
	{
		Name: "cp", Kind: Passthrough, Actions: []profile.Action{profile.CopyItem},
		Pattern: `(?:cp|copy|copy-item|cpi)\s+(?:-path\s+)?` + group("src", tok) + `\s+(?:-destination\s+)?` + group("dest", tok),
		Extract: operands(profile.CopyItem, "src", "dest"),
	},
	{
		Name: "mv", Kind: Passthrough, Actions: []profile.Action{profile.MoveItem},
		Pattern: `(?:mv|move|move-item|mi)\s+(?:-path\s+)?` + group("src", tok) + `\s+(?:-destination\s+)?` + group("dest", tok),
		Extract: operands(profile.MoveItem, "src", "dest"),
	},
	{
		Name: "find", Kind: Passthrough, Actions: []profile.Action{profile.FindName},
		Pattern: `find\s+` + group("dir", tok) + `\s+-i?name\s+` + group("pattern", globTok),
		Extract: operands(profile.FindName, "dir", "pattern"),
	},
	{
		Name: "get-childitem-filter", Kind: Passthrough, Actions: []profile.Action{profile.FindName},
		Pattern: `(?:get-childitem|gci)\s+(?:-path\s+)?` + group("dir", tok) + `\s+-recurse\s+-filter\s+` + group("pattern", globTok),
		Extract: operands(profile.FindName, "dir", "pattern"),
	},
	{
		Name: "whoami", Kind: Passthrough, Actions: []profile.Action{profile.WhoAmI},
		Pattern: `whoami`,
		Extract: fixed(profile.WhoAmI),
	},
	{
		Name: "date", Kind: Passthrough, Actions: []profile.Action{profile.ShowDate},
		Pattern: `date|get-date`,
		Extract: fixed(profile.ShowDate),
	},
	{
		Name: "ps", Kind: Passthrough, Actions: []profile.Action{profile.ListProcesses},
		Pattern: `ps(?:\s+(?:aux|-ef|-e))?|get-process|gps|tasklist`,
		Extract: fixed(profile.ListProcesses),
	},
	{
		Name: "df", Kind: Passthrough, Actions: []profile.Action{profile.DiskUsage},
		Pattern: `df(?:\s+-h)?|get-psdrive(?:\s+-psprovider\s+filesystem)?`,
		Extract: fixed(profile.DiskUsage),
	},
}

// intentDefs recognize plain-English requests.
var intentDefs = []Def{
	{
		Name: "create", Kind: Intent, Actions: []profile.Action{profile.MakeDir, profile.MakeFile},
		Pattern: `(?:please\s+)?(?:create|make|add)(?:\s+me)?(?:\s+(?:a|an|the))?(?:\s+(?:new|empty))?\s+` +
			group("kind", `folder|directory|dir|file`) + `\s+(?:(?:named|called)\s+)?` + group("name", tok) + loc,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			path, ok := nameIn(c, p)
			if !ok {
				return "", nil, false
			}
			a := profile.MakeDir
			if strings.EqualFold(c["kind"], "file") {
				a = profile.MakeFile
			}
			return a, map[string]profile.Param{"path": path}, true
		},
	},
	{
		Name: "list-sorted", Kind: Intent, Actions: sortActions,
		Pattern: listing + `\s+(?:files|items|contents|everything)` + listLoc +
			`\s+(?:sorted|ordered)\s+by\s+(?:the\s+)?` + group("key", `size|date|time|modified|modification\s+time|name`),
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			_, params, ok := dirAt(c, p)
			return sortKey(c["key"]), params, ok
		},
	},
	{
		Name: "list-hidden", Kind: Intent, Actions: []profile.Action{profile.ListAll},
		Pattern: listing + `\s+hidden\s+(?:files|items)` + listLoc,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			_, params, ok := dirAt(c, p)
			return profile.ListAll, params, ok
		},
	},
	{
		Name: "list", Kind: Intent, Actions: []profile.Action{profile.ListDir},
		Pattern: listing + `\s+(?:files|items|contents|everything|folders)` + listLoc +
			`|what(?:'s|\s+is)\s+(?:in|on)\s+(?:my\s+|the\s+)?(?P<loc2>[a-z]+)(?:\s+(?:folder|directory))?\??`,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			if c["loc"] == "" {
				c["loc"] = c["loc2"]
			}
			_, params, ok := dirAt(c, p)
			return profile.ListDir, params, ok
		},
	},
	{
		Name: "where-am-i", Kind: Intent, Actions: []profile.Action{profile.PrintCwd},
		Pattern: `where\s+am\s+i\??|(?:what\s+is\s+|what's\s+|show\s+(?:me\s+)?|print\s+)(?:the\s+|my\s+)?(?:current|working|present)\s+(?:working\s+)?(?:directory|folder|location|path)\??`,
		Extract: fixed(profile.PrintCwd),
	},
	{
		Name: "go-up", Kind: Intent, Actions: []profile.Action{profile.ChangeDir},
		Pattern: `go\s+(?:up|back)(?:\s+(?:a|one)\s+(?:level|directory|folder))?|go\s+to\s+(?:the\s+)?parent(?:\s+(?:folder|directory))?`,
		Extract: func(Captures, *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			return profile.ChangeDir, map[string]profile.Param{"dir": profile.Lit("..")}, true
		},
	},
	{
		Name: "go-to-folder", Kind: Intent, Actions: []profile.Action{profile.ChangeDir},
		Pattern: `(?:please\s+)?(?:go|change\s+directory|navigate|switch|move)\s+(?:in)?to\s+(?:the\s+)?(?:folder|directory)\s+(?:(?:named|called)\s+)?` + group("name", tok),
		Extract: operandsFrom(profile.ChangeDir, map[string]string{"dir": "name"}),
	},
	{
		Name: "go-to", Kind: Intent, Actions: []profile.Action{profile.ChangeDir},
		Pattern: `(?:please\s+)?(?:go|cd|change\s+directory|navigate|switch|move|take\s+me)(?:\s+(?:in)?to)?\s+(?:my\s+|the\s+)?(?P<loc>[a-z]+)(?:\s+(?:folder|directory))?`,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			dir, ok := p.ResolveAlias(c["loc"])
			if !ok {
				return "", nil, false
			}
			return profile.ChangeDir, map[string]profile.Param{"dir": dir}, true
		},
	},
	{
		Name: "show-file", Kind: Intent, Actions: []profile.Action{profile.ShowFile},
		Pattern: `(?:please\s+)?(?:show|print|display|read)(?:\s+me)?(?:\s+the)?\s+(?:contents?\s+of\s+(?:the\s+)?(?:file\s+)?|file\s+)` + group("name", tok),
		Extract: operandsFrom(profile.ShowFile, map[string]string{"path": "name"}),
	},
	{
		Name: "find-files", Kind: Intent, Actions: []profile.Action{profile.FindName},
		Pattern: `(?:please\s+)?(?:find|search\s+for|locate|look\s+for)(?:\s+all)?(?:\s+the)?\s+(?:files?|folders?|anything)\s+(?:named|called|matching)\s+` +
			group("name", globTok) + loc,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			dir, ok := resolveLoc(p, c["loc"])
			if !ok {
				return "", nil, false
			}
			if dir.IsZero() {
				dir = profile.Lit(".")
			}
			pattern, _ := unquote(c["name"])
			if pattern == "" {
				return "", nil, false
			}
			return profile.FindName, map[string]profile.Param{"dir": dir, "pattern": profile.Lit(pattern)}, true
		},
	},
	{
		Name: "delete-file", Kind: Intent, Actions: []profile.Action{profile.RemoveFile},
		Pattern: `(?:please\s+)?(?:delete|remove|erase)(?:\s+the)?\s+file\s+(?:(?:named|called)\s+)?` + group("name", tok) + loc,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			path, ok := nameIn(c, p)
			if !ok {
				return "", nil, false
			}
			return profile.RemoveFile, map[string]profile.Param{"path": path}, true
		},
	},
	{
		Name: "copy-move", Kind: Intent, Actions: []profile.Action{profile.CopyItem, profile.MoveItem},
		Pattern: `(?:please\s+)?` + group("verb", `copy|move`) + `(?:\s+the)?(?:\s+(?:file|folder))?\s+` + group("src", tok) +
			`\s+(?:to|into)\s+(?:my\s+|the\s+)?` + group("dest", tok) + `(?:\s+(?:folder|directory))?`,
		Extract: func(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
			src, ok := pathParam(c["src"])
			if !ok {
				return "", nil, false
			}
			dest, ok := destParam(c["dest"], p)
			if !ok {
				return "", nil, false
			}
			a := profile.CopyItem
			if strings.EqualFold(c["verb"], "move") {
				a = profile.MoveItem
			}
			return a, map[string]profile.Param{"src": src, "dest": dest}, true
		},
	},
	{
		Name: "disk-space", Kind: Intent, Actions: []profile.Action{profile.DiskUsage},
		Pattern: `(?:show\s+(?:me\s+)?|check\s+|how\s+much\s+)?(?:the\s+|my\s+)?(?:free\s+)?(?:disk\s+(?:space|usage)|storage)(?:\s+(?:left|is\s+left|available|free|usage))?\??`,
		Extract: fixed(profile.DiskUsage),
	},
	{
		Name: "processes", Kind: Intent, Actions: []profile.Action{profile.ListProcesses},
		Pattern: `(?:show|list|what\s+are)(?:\s+me)?(?:\s+all)?(?:\s+the)?\s+(?:running\s+)?(?:processes|programs|tasks)(?:\s+(?:are\s+)?running)?\??`,
		Extract: fixed(profile.ListProcesses),
	},
	{
		Name: "date-time", Kind: Intent, Actions: []profile.Action{profile.ShowDate},
		Pattern: `(?:what(?:'s|\s+is)\s+)?(?:the\s+)?(?:current\s+|today's\s+)?(?:date|time|date\s+and\s+time)(?:\s+(?:now|today))?\??` +
			`|what\s+(?:time|day)\s+is\s+it\??|(?:show|print)(?:\s+me)?(?:\s+the)?\s+(?:date|time)`,
		Extract: fixed(profile.ShowDate),
	},
	{
		Name: "who-am-i", Kind: Intent, Actions: []profile.Action{profile.WhoAmI},
		Pattern: `who\s+am\s+i\??|(?:what\s+is\s+|what's\s+)?my\s+user\s*name\??|(?:show|print)(?:\s+the)?\s+current\s+user`,
		Extract: fixed(profile.WhoAmI),
	},
	{
		Name: "clear-screen", Kind: Intent, Actions: []profile.Action{profile.ClearScreen},
		Pattern: `(?:please\s+)?(?:clear|clean|wipe)(?:\s+the)?\s+(?:screen|terminal|console)`,
		Extract: fixed(profile.ClearScreen),
	},
}

// operandsFrom is operands with slot names that differ from the capture names.
func operandsFrom(a profile.Action, slotToGroup map[string]string) Extractor {
	return func(c Captures, _ *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
		params := make(map[string]profile.Param, len(slotToGroup))
		for slot, g := range slotToGroup {
			v, ok := pathParam(c[g])
			if !ok {
				return "", nil, false
			}
			params[slot] = v
		}
		return a, params, true
	}
}

// dirAt resolves the optional location of a listing.
func dirAt(c Captures, p *profile.Profile) (profile.Action, map[string]profile.Param, bool) {
	dir, ok := resolveLoc(p, c["loc"])
	if !ok {
		return "", nil, false
	}
	if dir.IsZero() {
		return "", nil, true
	}
	return "", map[string]profile.Param{"dir": dir}, true
}

// nameIn places the captured name inside the optional location.
func nameIn(c Captures, p *profile.Profile) (profile.Param, bool) {
	base, ok := resolveLoc(p, c["loc"])
	if !ok {
		return profile.Param{}, false
	}
	name, wasQuoted := unquote(c["name"])
	if name == "" {
		return profile.Param{}, false
	}
	if base.IsZero() {
		if wasQuoted {
			return profile.Lit(name), true
		}
		return pathParam(c["name"])
	}
	return base.Join(name), true
}

// destParam reads a copy or move destination. A bare word naming a known directory
// alias resolves to that directory; anything else is taken as a path.
func destParam(raw string, p *profile.Profile) (profile.Param, bool) {
	if _, wasQuoted := unquote(raw); !wasQuoted {
		if dir, ok := p.ResolveAlias(raw); ok {
			return dir, true
		}
		switch strings.ToLower(raw) {
		case "here", "current":
			return profile.Lit("."), true
		}
	}
	return pathParam(raw)
}
