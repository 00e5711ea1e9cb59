package ocr

import (
	"regexp"
	"strings"
)

// Cleaning notes.
const (
	NoteDebugRejected = "Rejected debug content"
	NoteArtifacts     = "OCR artifacts removed"
	NoteNumbers       = "Standardized currency and numbers"
	NoteSpacing       = "Normalized spacing and punctuation"
)

// debugPatterns match developer console output that sometimes ends up in
// screenshots uploaded as documents.
var debugPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Download the React DevTools`),
	regexp.MustCompile(`(?i)\[vite\] (?:connected|connecting|hot updated)`),
	regexp.MustCompile(`(?i)Banner not shown: beforeinstallpromptevent`),
	regexp.MustCompile(`(?i)console\.(?:log|warn|error|debug)`),
	regexp.MustCompile(`(?i)localhost:\d+`),
	regexp.MustCompile(`(?i)\d+:\d+:\d+ (?:AM|PM) \[express\]`),
	regexp.MustCompile(`(?i)sessionId: [a-zA-Z0-9]+`),
	regexp.MustCompile(`(?im)^\s*(?:GET|POST|PUT|DELETE|PATCH) /api`),
	regexp.MustCompile(`(?i)Cleared \d+ popup flags`),
	regexp.MustCompile(`(?i)admin-control-center\.tsx:\d+`),
}

type replacement struct {
	re   *regexp.Regexp
	with string
}

var artifactRules = []replacement{
	{regexp.MustCompile(`[^\p{L}\p{N}_\s\-.,!?@#$%^&*()+={}\[\]:;"'<>/\\|` + "`" + `~]`), ""},
	{regexp.MustCompile(`\s*\|\s*`), " "},
	{regexp.MustCompile(`\s*\\\s*`), " "},
	{regexp.MustCompile(`[ \t]{3,}`), " "},
	{regexp.MustCompile(`(?:\r?\n){3,}`), "\n\n"},
}

type wordFix struct {
	re   *regexp.Regexp
	with string
	note string
}

// wordFixes correct common whole-word misreadings of "h" as "li".
var wordFixes = []wordFix{
	{regexp.MustCompile(`\bTlie\b`), "The", "Fixed Tlie -> The"},
	{regexp.MustCompile(`\btlie\b`), "the", "Fixed tlie -> the"},
	{regexp.MustCompile(`\bWlien\b`), "When", "Fixed Wlien -> When"},
	{regexp.MustCompile(`\bwlien\b`), "when", "Fixed wlien -> when"},
	{regexp.MustCompile(`\bTliis\b`), "This", "Fixed Tliis -> This"},
	{regexp.MustCompile(`\btliis\b`), "this", "Fixed tliis -> this"},
}

var numberRules = []replacement{
	{regexp.MustCompile(`\$\s+(\d)`), "$$${1}"},
	{regexp.MustCompile(`(\d)\s+%`), "${1}%"},
	{regexp.MustCompile(`(\d) ?\. ?(\d)`), "${1}.${2}"},
}

var spacingRules = []replacement{
	{regexp.MustCompile(`\s+`), " "},
	{regexp.MustCompile(` ([.,:;!?])`), "${1}"},
	{regexp.MustCompile(`([,;:!?])(\p{L})`), "${1} ${2}"},
	{regexp.MustCompile(`\.(\p{Lu}\p{Ll})`), ". ${1}"},
}

// Cleaner post-processes raw engine output.
type Cleaner struct{}

// Clean returns the cleaned text and the notes for the steps that ran.
func (Cleaner) Clean(raw string) (string, []string) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	for _, re := range debugPatterns {
		if re.MatchString(raw) {
			return "", []string{NoteDebugRejected}
		}
	}

	var notes []string
	text := raw

	before := text
	text = apply(text, artifactRules)
	if text != before {
		notes = append(notes, NoteArtifacts)
	}

	for _, fix := range wordFixes {
		if fix.re.MatchString(text) {
			text = fix.re.ReplaceAllString(text, fix.with)
			notes = append(notes, fix.note)
		}
	}

	text = apply(text, numberRules)
	notes = append(notes, NoteNumbers)

	text = strings.TrimSpace(apply(text, spacingRules))
	notes = append(notes, NoteSpacing)

	return text, notes
}

func apply(s string, rules []replacement) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}
