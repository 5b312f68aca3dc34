package detector

import (
	"regexp"
	"strings"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// Classification patterns, applied per line in priority order: error beats
// question beats status. First match wins.
var (
	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^error:`),
		regexp.MustCompile(`(?i)^fatal:`),
		regexp.MustCompile(`(?i)exception:`),
		regexp.MustCompile(`(?i)failed:`),
		regexp.MustCompile(`(?i)\berror\b.*:`),
		regexp.MustCompile(`(?i)panic:`),
		regexp.MustCompile(`(?i)traceback`),
	}

	questionPatterns = []*regexp.Regexp{
		askUserQuestionHint,
		regexp.MustCompile(`\?\s*$`),
		regexp.MustCompile(`(?i)\(y/n\)`),
		regexp.MustCompile(`\[y/N\]`),
		regexp.MustCompile(`\[Y/n\]`),
		regexp.MustCompile(`(?i)press enter`),
		regexp.MustCompile(`(?i)continue\?`),
		regexp.MustCompile(`(?i)proceed\?`),
		regexp.MustCompile(`(?i)confirm`),
	}

	statusPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*[$>]\s*$`),
		regexp.MustCompile(`(?i)\bdone\.$`),
		regexp.MustCompile(`(?i)\bcompleted$`),
		regexp.MustCompile(`(?i)\bfinished$`),
		regexp.MustCompile(`(?i)build (done|completed|finished)$`),
	}
)

// askUserQuestionHint recognizes the interactive select prompt rendered by
// the agent: a checkbox header with an "Enter to select" footer somewhere
// in the same delta.
var askUserQuestionHint = regexp.MustCompile(`☐[\s\S]*Enter to select`)

// Classify assigns an event kind to a stripped delta. Matching is per line
// except for the multi-line AskUserQuestion hint, which spans the block.
func Classify(content string) models.EventKind {
	if matchesAny(content, errorPatterns) {
		return models.KindError
	}
	if askUserQuestionHint.MatchString(content) || matchesAny(content, questionPatterns[1:]) {
		return models.KindQuestion
	}
	if matchesAny(content, statusPatterns) {
		return models.KindStatus
	}
	return models.KindOutput
}

// matchesAny reports whether any line of content matches any pattern.
func matchesAny(content string, patterns []*regexp.Regexp) bool {
	for _, line := range strings.Split(content, "\n") {
		for _, p := range patterns {
			if p.MatchString(line) {
				return true
			}
		}
	}
	return false
}
