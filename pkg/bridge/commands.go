package bridge

import (
	"sort"
	"strings"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
)

// nativeCommands are handled by the bridge itself; everything else a user
// types as a slash command is forwarded to the agent backend.
var nativeCommands = []backend.CommandSpec{
	{Name: "start", Description: "Show the welcome message"},
	{Name: "new", Description: "Start a fresh agent session"},
	{Name: "cd", Description: "Change the working directory for this conversation"},
	{Name: "cwd", Description: "Show the working directory"},
	{Name: "session", Description: "Show the current session id"},
	{Name: "context", Description: "Show the conversation's runtime state"},
	{Name: "interrupt", Description: "Cancel the active run"},
	{Name: "screenshot", Description: "Capture a screenshot"},
	{Name: "reload", Description: "Reload the configuration"},
	{Name: "health", Description: "Show bridge health"},
	{Name: "pid", Description: "Show the bridge process id"},
	{Name: "agent", Description: "Show the agent backend in use"},
	{Name: "permit", Description: "Answer a pending permission request"},
	{Name: "allow", Description: "Answer a pending permission request"},
	{Name: "help", Description: "List available commands"},
	{Name: "init", Description: "Initialize the agent in the working directory"},
	{Name: "undo", Description: "Undo the last agent change"},
	{Name: "redo", Description: "Redo the last undone change"},
}

// silentCommands skip the "running /<cmd>" announcement because their whole
// output is a single immediate reply.
var silentCommands = map[string]bool{
	"pid":       true,
	"health":    true,
	"cwd":       true,
	"interrupt": true,
	"session":   true,
	"context":   true,
	"reload":    true,
	"start":     true,
}

// NativeCommands returns the bridge's built-in command surface.
func NativeCommands() []backend.CommandSpec {
	out := make([]backend.CommandSpec, len(nativeCommands))
	copy(out, nativeCommands)
	return out
}

// IsNativeCommand reports whether the bridge handles name itself.
func IsNativeCommand(name string) bool {
	for _, c := range nativeCommands {
		if c.Name == name {
			return true
		}
	}
	return false
}

// IsSilentCommand reports whether name skips the run announcement.
func IsSilentCommand(name string) bool {
	return silentCommands[name]
}

// MergeCommands combines the native surface with backend-discovered commands.
// Native names win on collision; the rest sort alphabetically after them.
func MergeCommands(native, discovered []backend.CommandSpec) []backend.CommandSpec {
	seen := make(map[string]bool, len(native))
	out := make([]backend.CommandSpec, 0, len(native)+len(discovered))
	for _, c := range native {
		seen[c.Name] = true
		out = append(out, c)
	}
	extra := make([]backend.CommandSpec, 0, len(discovered))
	for _, c := range discovered {
		if !seen[c.Name] {
			seen[c.Name] = true
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(out, extra...)
}

// HelpText renders the /help reply.
func HelpText(cmds []backend.CommandSpec) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range cmds {
		b.WriteString("/")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
