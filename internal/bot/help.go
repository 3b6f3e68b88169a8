package bot

import (
	"html"
	"sort"
	"strings"
)

// helpText renders HTML help for every command, or for one when name is set.
func (r *Router) helpText(name string) string {
	r.mu.RLock()
	list := append([]*Command(nil), r.list...)
	one := r.cmds[strings.TrimPrefix(strings.ToLower(name), "/")]
	r.mu.RUnlock()

	if name != "" {
		if one == nil {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to list commands."
		}
		lines := []string{"<b>/" + html.EscapeString(one.Name) + "</b>"}
		if one.Description != "" {
			lines = append(lines, html.EscapeString(one.Description))
		}
		if one.Usage != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(one.Usage)+"</code>")
		}
		if len(one.Aliases) > 0 {
			lines = append(lines, "Aliases: <code>"+html.EscapeString(strings.Join(one.Aliases, ", "))+"</code>")
		}
		if one.Access != AccessEveryone {
			lines = append(lines, "🔒 "+accessLabel(one.Access))
		}
		return strings.Join(lines, "\n")
	}

	// Restricted commands at the bottom, alphabetical within groups.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Access != list[j].Access {
			return list[i].Access < list[j].Access
		}
		return list[i].Name < list[j].Name
	})
	lines := []string{"📚 <b>Commands</b>", "Type <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, c := range list {
		line := "/" + html.EscapeString(c.Name)
		if c.Description != "" {
			line += " — " + html.EscapeString(c.Description)
		}
		if c.Access != AccessEveryone {
			line = "🔒 " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func accessLabel(a Access) string {
	switch a {
	case AccessOwner:
		return "chat owner only"
	case AccessAllowed:
		return "allowed users only"
	default:
		return "everyone"
	}
}
