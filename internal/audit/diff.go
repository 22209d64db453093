package audit

import "strings"

// SimpleDiff renders a before/after listing: a BEFORE header, the old lines,
// an AFTER header, the new lines.
func SimpleDiff(before, after string) string {
	lines := []string{"--- BEFORE ---"}
	lines = append(lines, splitLines(before)...)
	lines = append(lines, "--- AFTER ---")
	lines = append(lines, splitLines(after)...)
	return strings.Join(lines, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
