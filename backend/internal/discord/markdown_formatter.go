package discord

import (
	"regexp"
	"strings"
)

var (
	codeBlockPattern        = regexp.MustCompile("(?s)```.*?```")
	headerPattern           = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*$`)
	unorderedListPattern    = regexp.MustCompile(`(?m)^(\s*)[-*]\s+(.+)$`)
	multipleNewlinesPattern = regexp.MustCompile(`\n{3,}`)
)

// FormatMarkdown adapts model output to Discord markdown: headers become bold
// lines, bullet markers become "•", and runs of blank lines collapse to one.
// Code blocks are left untouched.
func FormatMarkdown(content string) string {
	var b strings.Builder
	last := 0
	for _, loc := range codeBlockPattern.FindAllStringIndex(content, -1) {
		b.WriteString(formatProse(content[last:loc[0]]))
		b.WriteString(content[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(formatProse(content[last:]))
	return strings.TrimSpace(b.String())
}

func formatProse(s string) string {
	s = headerPattern.ReplaceAllString(s, "**$1**")
	s = unorderedListPattern.ReplaceAllString(s, "$1• $2")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return multipleNewlinesPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
