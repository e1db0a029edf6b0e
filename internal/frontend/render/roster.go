package render

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/lobby/internal/game/session"
)

// Format selects the snapshot output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or yaml)", s)
	}
}

// rolePrefix tags each line with the side of the session it came from.
func rolePrefix(role string) string {
	switch role {
	case session.RoleHost:
		return "[S]"
	case session.RoleClient:
		return "[C]"
	default:
		return "[-]"
	}
}

// Text renders snap as a header line followed by one line per player.
// color enables ANSI styling.
func Text(snap session.Snapshot, color bool) string {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return Colorize(code, s)
	}

	var b strings.Builder
	header := fmt.Sprintf("%s %s players=%d", rolePrefix(snap.Role), snap.State, len(snap.Players))
	if snap.Capacity > 0 {
		header += fmt.Sprintf("/%d", snap.Capacity)
	}
	if snap.SessionID != "" {
		header += " session=" + snap.SessionID
	}
	b.WriteString(paint(BrightYellow, header))
	b.WriteString("\n")

	if len(snap.Players) == 0 {
		b.WriteString(paint(Dim, "  (empty)"))
		b.WriteString("\n")
		return b.String()
	}
	for i, p := range snap.Players {
		line := fmt.Sprintf("  %d. %-32s id=%d", i+1, p.DisplayName, p.ConnectionID)
		b.WriteString(paint(Cyan, strings.TrimRight(line, " ")))
		b.WriteString("\n")
	}
	return b.String()
}

// YAML renders snap as a YAML document.
func YAML(snap session.Snapshot) ([]byte, error) {
	out, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshalling snapshot: %w", err)
	}
	return out, nil
}

// Snapshot renders snap in the requested format.
func Snapshot(snap session.Snapshot, f Format, color bool) (string, error) {
	switch f {
	case FormatYAML:
		out, err := YAML(snap)
		if err != nil {
			return "", err
		}
		return string(out), nil
	default:
		return Text(snap, color), nil
	}
}
