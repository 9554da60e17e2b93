package extractor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/crispai/crisp/internal/domain"
)

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Ordered: the US 3-3-4 grouping wins over a bare 10-digit run.
var phoneRes = []*regexp.Regexp{
	regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?\d{10}`),
	regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?\d{3}[-.\s]?\d{3}[-.\s]?\d{4}`),
}

var digitRunRe = regexp.MustCompile(`\d{3}`)

// ExtractFields runs the name/email/phone heuristics over resume text.
// Fields that match nothing stay empty; this never fails.
func ExtractFields(text string) domain.Profile {
	return domain.Profile{
		Name:  extractName(text),
		Email: emailRe.FindString(text),
		Phone: extractPhone(text),
	}
}

func extractPhone(text string) string {
	for _, re := range phoneRes {
		if m := re.FindString(text); m != "" {
			return m
		}
	}

	return ""
}

// extractName scans the first 5 non-blank lines for something shaped
// like a person's name: 2-4 words, each starting with an uppercase
// letter, no email sign, no 3-digit run. Header lines like "Resume" or
// "Curriculum Vitae" are skipped.
func extractName(text string) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}

	for i := 0; i < len(lines) && i < 5; i++ {
		line := lines[i]

		lower := strings.ToLower(line)
		if strings.Contains(lower, "resume") ||
			strings.Contains(lower, "curriculum") ||
			strings.Contains(lower, "cv") {
			continue
		}

		words := strings.Fields(line)
		if len(words) < 2 || len(words) > 4 {
			continue
		}

		capitalized := true
		for _, w := range words {
			r := []rune(w)[0]
			if !unicode.IsUpper(r) {
				capitalized = false
				break
			}
		}

		if capitalized && !strings.Contains(line, "@") && !digitRunRe.MatchString(line) {
			return line
		}
	}

	return ""
}
