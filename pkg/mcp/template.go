package mcp

import "strings"

// renderTemplate performs the minimal {{name}}-style argument
// substitution named in SPEC_FULL §6 for prompts/get. It is
// intentionally not a general templating engine: unmatched
// placeholders are left verbatim so a caller can detect an unsupplied
// argument from the rendered text.
func renderTemplate(tmpl string, arguments map[string]string) string {
	if len(arguments) == 0 {
		return tmpl
	}
	var b strings.Builder
	for i := 0; i < len(tmpl); {
		if tmpl[i] == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			end := strings.Index(tmpl[i:], "}}")
			if end != -1 {
				name := strings.TrimSpace(tmpl[i+2 : i+end])
				if val, ok := arguments[name]; ok {
					b.WriteString(val)
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(tmpl[i])
		i++
	}
	return b.String()
}
