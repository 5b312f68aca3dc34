package detector

import (
	"regexp"
	"strings"

	"github.com/agentdeck/agentdeck/pkg/models"
)

// headerPattern matches the checkbox header line of an AskUserQuestion
// block: "☐ Auth method".
var headerPattern = regexp.MustCompile(`^\s*☐\s+(.+?)\s*$`)

// optionPattern matches a numbered option line, optionally carrying the
// selection cursor: "❯ 1. OAuth with PKCE" or "  2. API keys".
var optionPattern = regexp.MustCompile(`^\s*(?:❯\s+)?(\d+)\.\s+(.+?)\s*$`)

// separatorPattern matches horizontal rules and box-drawing separators that
// terminate an option's description block.
var separatorPattern = regexp.MustCompile(`^\s*[-─═━]{2,}\s*$`)

// ParseAskUserQuestion attempts a structured parse of an AskUserQuestion
// block inside content. It returns nil unless both a header and at least one
// numbered option are recovered. The question text is the first line ending
// in "?" within the block; option descriptions are indented continuation
// lines joined by single spaces.
func ParseAskUserQuestion(content string) *models.QuestionMetadata {
	lines := strings.Split(content, "\n")

	meta := &models.QuestionMetadata{}
	headerIdx := -1
	for i, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			meta.Header = m[1]
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil
	}

	// The question is the first line ending in "?" within the block.
	for _, line := range lines {
		trimmed := strings.TrimSpace(StripANSI(line))
		if strings.HasSuffix(trimmed, "?") {
			meta.Question = trimmed
			break
		}
	}

	var current *models.QuestionOption
	flush := func() {
		if current != nil {
			meta.Options = append(meta.Options, *current)
			current = nil
		}
	}

	for _, line := range lines[headerIdx+1:] {
		if m := optionPattern.FindStringSubmatch(line); m != nil {
			flush()
			number := 0
			for _, d := range m[1] {
				number = number*10 + int(d-'0')
			}
			current = &models.QuestionOption{Number: number, Label: m[2]}
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case current == nil:
			// Not inside an option yet; skip preamble lines.
		case trimmed == "", separatorPattern.MatchString(line), strings.HasPrefix(trimmed, "-"),
			strings.Contains(line, "Enter to select"):
			// Blank, separator, dash, or the footer hint terminates the description.
			flush()
		default:
			// Indented continuation lines are joined into the description.
			if current.Description == "" {
				current.Description = trimmed
			} else {
				current.Description += " " + trimmed
			}
		}
	}
	flush()

	if !meta.Valid() {
		return nil
	}
	return meta
}
