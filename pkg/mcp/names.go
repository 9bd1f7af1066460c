package mcp

import "strings"

// Separator joins server and tool in canonical tool names.
//
// Everything inside the core speaks canonical `server__tool` names. Servers
// themselves advertise wire names, typically either a bare `tool` or a
// `server_tool` spelling with a single underscore. This file converts between
// the two worlds; the wire form is produced only at the last hop before a
// tools/call goes out.
const Separator = "__"

// Canonical returns the canonical name for a tool on the given server.
// Wire spellings that already carry the server prefix (either form) are
// reduced so the prefix appears exactly once.
func Canonical(server, tool string) string {
	if strings.HasPrefix(tool, server+Separator) {
		return tool
	}
	if rest, ok := strings.CutPrefix(tool, server+"_"); ok && rest != "" {
		return server + Separator + rest
	}
	return server + Separator + tool
}

// SplitCanonical splits a canonical name on its first separator. Tool names
// containing underscores (or further double underscores) stay intact as an
// opaque suffix, so Canonical followed by SplitCanonical round-trips.
func SplitCanonical(name string) (server, tool string, ok bool) {
	i := strings.Index(name, Separator)
	if i <= 0 || i+len(Separator) >= len(name) {
		return "", "", false
	}
	return name[:i], name[i+len(Separator):], true
}

// WireName resolves the spelling the server actually advertises for a tool
// reference. It accepts canonical `server__tool`, wire `server_tool`, and
// bare `tool` forms. known holds the server's live catalog names; when both
// the prefixed and the bare spelling exist there, the prefixed one wins.
// References the catalog does not know are passed through in short form and
// left for the server to reject.
func WireName(server, tool string, known map[string]bool) string {
	if len(known) == 0 {
		// No catalog to consult: emit the short form.
		if rest, ok := strings.CutPrefix(tool, server+Separator); ok && rest != "" {
			return rest
		}
		return tool
	}

	if p := server + "_" + tool; known[p] {
		return p
	}
	if known[tool] {
		return tool
	}

	if rest, ok := strings.CutPrefix(tool, server+Separator); ok && rest != "" {
		if p := server + "_" + rest; known[p] {
			return p
		}
		if known[rest] {
			return rest
		}
		// Stale catalog: send the short form and let the server answer.
		return rest
	}

	if rest, ok := strings.CutPrefix(tool, server+"_"); ok && rest != "" {
		if known[rest] {
			return rest
		}
	}

	return tool
}
