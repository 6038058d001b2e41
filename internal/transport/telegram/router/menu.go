package router

import (
	"html"
	"strings"

	kit "dispatchbot/internal/transport"
	"dispatchbot/pkg/tgui"
)

// sanitizeCommand maps a name to Telegram's [a-z0-9_]{1,32} command charset.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "/")))
	var b strings.Builder
	under := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == ' ':
			if b.Len() > 0 && !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	return out
}

// helpText renders HTML help for all commands or for the named one.
func (r *Router) helpText(args []string) tgui.H {
	r.mu.RLock()
	list := r.list
	table := r.cmds
	r.mu.RUnlock()

	if len(args) > 0 {
		c, ok := table[sanitizeCommand(args[0])]
		if !ok {
			return tgui.Lines(tgui.B("Unknown command"), "Type <code>/help</code> for the list.")
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		lines := []tgui.H{tgui.B("/" + c.Name), tgui.Esc(c.Description), tgui.KV("Usage", usage)}
		if len(c.Aliases) > 0 {
			lines = append(lines, tgui.KV("Aliases", "/"+strings.Join(c.Aliases, ", /")))
		}
		return tgui.Lines(lines...)
	}

	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range list {
		line := "/" + html.EscapeString(c.Name)
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, tgui.H(line))
	}
	return tgui.Lines(lines...)
}
