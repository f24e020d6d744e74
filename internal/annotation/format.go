package annotation

import (
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// lineBreakRegex splits on LF and CRLF.
var lineBreakRegex = regexp.MustCompile(`\r?\n`)

// CollapseWhitespace collapses internal whitespace runs to single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// FormatSummaryAsBullets renders each non-empty line of summary as a "- " bullet.
// Lines already starting with "-" are kept, so formatting is idempotent.
func FormatSummaryAsBullets(summary string) string {
	if summary == "" {
		return ""
	}

	var lines []string
	for _, line := range lineBreakRegex.Split(summary, -1) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "-") {
			line = "- " + line
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return strings.TrimSpace(summary)
	}
	return strings.Join(lines, "\n")
}
