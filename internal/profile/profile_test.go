package profile

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, id ID) *Profile {
	t.Helper()
	p, err := Load(id)
	require.NoError(t, err)
	return p
}

func TestLoad_EmbeddedProfiles(t *testing.T) {
	for _, id := range []ID{POSIX, PowerShell} {
		p := mustLoad(t, id)
		assert.Equal(t, id, p.ID)
		assert.NotEmpty(t, p.Instruction)
		assert.NotEmpty(t, p.Examples)
		assert.NotEmpty(t, p.Deny)
	}
}

func TestLoad_Unknown(t *testing.T) {
	_, err := Load("fish")
	require.ErrorIs(t, err, ErrUnknownProfile)
}

func TestProfiles_DefineSameActions(t *testing.T) {
	posix := mustLoad(t, POSIX)
	ps := mustLoad(t, PowerShell)
	require.NoError(t, ps.Validate(posix.Actions()))
	require.NoError(t, posix.Validate(ps.Actions()))
}

func TestValidate_ReportsMissing(t *testing.T) {
	p, err := Parse([]byte(`
id: tiny
shell: ["sh", "-c"]
quoting: posix
actions:
  - name: print_cwd
    template: pwd
`))
	require.NoError(t, err)

	err = p.Validate([]Action{PrintCwd, ListDir, MakeDir})
	require.ErrorIs(t, err, ErrMissingAction)
	assert.Contains(t, err.Error(), "list_dir, make_dir")
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing id":     "shell: [sh]\nquoting: posix\n",
		"missing shell":  "id: x\nquoting: posix\n",
		"bad quoting":    "id: x\nshell: [sh]\nquoting: csh\n",
		"bad deny regex": "id: x\nshell: [sh]\nquoting: posix\ndeny:\n  - pattern: '(['\n",
		"duplicate":      "id: x\nshell: [sh]\nquoting: posix\nactions:\n  - {name: pwd, template: a}\n  - {name: pwd, template: b}\n",
		"malformed yaml": "id: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestDetectFor(t *testing.T) {
	assert.Equal(t, PowerShell, detectFor("windows"))
	assert.Equal(t, POSIX, detectFor("linux"))
	assert.Equal(t, POSIX, detectFor("darwin"))
}

func TestRender_DesktopListing(t *testing.T) {
	posix := mustLoad(t, POSIX)
	ps := mustLoad(t, PowerShell)

	desk, ok := posix.ResolveAlias("Desktop")
	require.True(t, ok)
	cmd, err := posix.Render(ListDir, map[string]Param{"dir": desk})
	require.NoError(t, err)
	assert.Equal(t, "ls ~/Desktop", cmd)

	desk, ok = ps.ResolveAlias("desktop")
	require.True(t, ok)
	cmd, err = ps.Render(ListDir, map[string]Param{"dir": desk})
	require.NoError(t, err)
	assert.Equal(t, `Get-ChildItem $HOME\Desktop`, cmd)
}

func TestRender_OptionalSlotDropped(t *testing.T) {
	posix := mustLoad(t, POSIX)
	ps := mustLoad(t, PowerShell)

	cmd, err := posix.Render(ListAll, nil)
	require.NoError(t, err)
	assert.Equal(t, "ls -a", cmd)

	cmd, err = ps.Render(ListSortedSize, nil)
	require.NoError(t, err)
	assert.Equal(t, "Get-ChildItem | Sort-Object -Property Length -Descending", cmd)
}

func TestRender_Errors(t *testing.T) {
	posix := mustLoad(t, POSIX)

	_, err := posix.Render("teleport", nil)
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = posix.Render(MakeDir, nil)
	require.ErrorIs(t, err, ErrMissingParam)
}

func TestRender_HomePathWithSpaces(t *testing.T) {
	posix := mustLoad(t, POSIX)
	ps := mustLoad(t, PowerShell)

	desk, _ := posix.ResolveAlias("desktop")
	cmd, err := posix.Render(MakeDir, map[string]Param{"path": desk.Join("My Stuff")})
	require.NoError(t, err)
	assert.Equal(t, "mkdir -p ~/'Desktop/My Stuff'", cmd)

	desk, _ = ps.ResolveAlias("desktop")
	cmd, err = ps.Render(MakeDir, map[string]Param{"path": desk.Join("My Stuff")})
	require.NoError(t, err)
	assert.Equal(t, `New-Item -ItemType Directory -Path (Join-Path $HOME 'Desktop\My Stuff')`, cmd)

	home, _ := ps.ResolveAlias("home")
	cmd, err = ps.Render(ListDir, map[string]Param{"dir": home})
	require.NoError(t, err)
	assert.Equal(t, "Get-ChildItem $HOME", cmd)
}

func TestRender_PatternKeepsLeadingDash(t *testing.T) {
	posix := mustLoad(t, POSIX)
	ps := mustLoad(t, PowerShell)

	cmd, err := posix.Render(FindName, map[string]Param{"dir": Lit("."), "pattern": Lit("-draft*")})
	require.NoError(t, err)
	assert.Equal(t, "find . -name '-draft*'", cmd)

	cmd, err = posix.Render(FindName, map[string]Param{"dir": Lit("-old"), "pattern": Lit("-x")})
	require.NoError(t, err)
	assert.Equal(t, "find ./-old -name -x", cmd, "only operands get the ./ prefix")

	cmd, err = ps.Render(FindName, map[string]Param{"dir": Lit("."), "pattern": Lit("-draft*")})
	require.NoError(t, err)
	assert.Equal(t, "Get-ChildItem -Path . -Recurse -Filter '-draft*'", cmd)
}

func TestResolveAlias_Unknown(t *testing.T) {
	posix := mustLoad(t, POSIX)
	_, ok := posix.ResolveAlias("attic")
	assert.False(t, ok)
}

func TestQuotePowerShell(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"notes.txt", "notes.txt"},
		{"my folder", "'my folder'"},
		{"it's", "'it''s'"},
		{"a; Remove-Item C:\\", "'a; Remove-Item C:\\'"},
		{"$(calc)", "'$(calc)'"},
		{"`whoami`", "'`whoami`'"},
		{"-Recurse", "'-Recurse'"},
		{"a,b", "'a,b'"},
		{"", "''"},
		{"x’y", "'x’’y'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuotePowerShell(tt.in), "input %q", tt.in)
	}
}

func TestQuotePOSIX(t *testing.T) {
	assert.Equal(t, "notes.txt", QuotePOSIX("notes.txt"))
	assert.Equal(t, "'my folder'", QuotePOSIX("my folder"))
	assert.Equal(t, `'it'"'"'s'`, QuotePOSIX("it's"))
	assert.Equal(t, "./-rf", QuotePOSIX("-rf"))
	assert.Equal(t, "''", QuotePOSIX(""))
}

// The sh tokenizer must see every quoted value as exactly one literal word.
func TestQuotePOSIX_ShellSeesSingleToken(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	values := []string{
		"plain",
		"with space",
		"semi;colon && echo pwned",
		"quote ' inside",
		`double " quote`,
		"back`tick`",
		"$(echo sub)",
		"$HOME",
		"new\nline",
		"glob*?[a]",
		"pipe | cat",
		"~tilde",
	}
	for _, v := range values {
		script := `printf '%s\0' ` + QuotePOSIX(v) + `; printf 'END'`
		out, err := exec.Command(sh, "-c", script).Output()
		require.NoError(t, err, "value %q", v)
		got := strings.TrimSuffix(string(out), "END")
		assert.Equal(t, v+"\x00", got, "value %q rendered as %s", v, QuotePOSIX(v))
	}
}

func TestIsVerb(t *testing.T) {
	ps := mustLoad(t, PowerShell)
	assert.True(t, ps.IsVerb("get-childitem"))
	assert.False(t, ps.IsVerb("Sure,"))
}

func TestSlots(t *testing.T) {
	ps := mustLoad(t, PowerShell)
	assert.Equal(t, []string{"src", "dest"}, ps.Slots(CopyItem))
	assert.Nil(t, ps.Slots("nope"))
}
