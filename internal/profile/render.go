package profile

import (
	"fmt"
	"regexp"
	"strings"
)

var slotRe = regexp.MustCompile(`\{\{(\w+)(\?)?\}\}`)

type part struct {
	lit      string
	slot     string
	optional bool
}

type template struct {
	raw   string
	parts []part
}

func compileTemplate(raw string) *template {
	t := &template{raw: raw}
	last := 0
	for _, m := range slotRe.FindAllStringSubmatchIndex(raw, -1) {
		if m[0] > last {
			t.parts = append(t.parts, part{lit: raw[last:m[0]]})
		}
		t.parts = append(t.parts, part{
			slot:     raw[m[2]:m[3]],
			optional: m[4] >= 0,
		})
		last = m[1]
	}
	if last < len(raw) {
		t.parts = append(t.parts, part{lit: raw[last:]})
	}
	return t
}

// Slots lists the parameter names used by an action's template.
func (p *Profile) Slots(a Action) []string {
	t, ok := p.templates[a]
	if !ok {
		return nil
	}
	var out []string
	for _, pt := range t.parts {
		if pt.slot != "" {
			out = append(out, pt.slot)
		}
	}
	return out
}

// optionValues are slots that always follow an option flag, so a leading '-' is
// never read as an option of its own.
var optionValues = map[string]bool{"pattern": true}

// Render substitutes params into the action's template. Every value is quoted for
// the profile's shell. An omitted optional slot is dropped together with the space
// before it; an omitted required slot is an error.
func (p *Profile) Render(a Action, params map[string]Param) (string, error) {
	t, ok := p.templates[a]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownAction, p.ID, a)
	}

	var b strings.Builder
	for _, pt := range t.parts {
		if pt.slot == "" {
			b.WriteString(pt.lit)
			continue
		}
		v, ok := params[pt.slot]
		if !ok || v.IsZero() {
			if !pt.optional {
				return "", fmt.Errorf("%w: %s needs {{%s}}", ErrMissingParam, a, pt.slot)
			}
			trimmed := strings.TrimRight(b.String(), " ")
			b.Reset()
			b.WriteString(trimmed)
			continue
		}
		b.WriteString(p.renderParam(v, optionValues[pt.slot]))
	}
	return strings.TrimSpace(b.String()), nil
}
