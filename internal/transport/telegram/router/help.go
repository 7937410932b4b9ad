package router

import (
	"sort"
	"strings"
	"unicode"

	kit "taskbot/internal/transport"
	"taskbot/pkg/tgui"
)

func (r *Router) helpMessage() tgui.Message {
	b := tgui.New().Title("ℹ️", "Commands").Blank()
	for _, c := range r.Commands() {
		if c.Hidden {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.HTML(tgui.Code(usage) + tgui.Esc(" - "+c.Description))
	}
	return b.Build()
}

// sanitizeCommand maps a name to Telegram's command charset [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func menuCommands(cmds []Command) []kit.BotCommand {
	seen := map[string]bool{}
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if c.Hidden || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.TrimSpace(strings.ReplaceAll(c.Description, "\n", " "))
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command == "help" && out[j].Command != "help" })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
