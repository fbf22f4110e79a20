package policy

import "regexp"

// Redaction is the result of masking sensitive values in text bound for
// long-term memory.
type Redaction struct {
	Text string
	// Kinds lists the rule names that matched, in rule order.
	Kinds []string
}

// Changed reports whether any rule masked part of the text.
func (r Redaction) Changed() bool { return len(r.Kinds) > 0 }

type redactionRule struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}

// Order matters: secrets and card numbers are masked before the looser
// phone pattern gets a chance to claim their digits.
var redactionRules = []redactionRule{
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/\-]{16,}=*`), "[REDACTED_TOKEN]"},
	{"api_key", regexp.MustCompile(`\b(?:sk|pk|rk)[-_](?:live[-_]|test[-_])?[A-Za-z0-9]{16,}\b`), "[REDACTED_API_KEY]"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redact masks credentials and common high-risk PII before a conversation
// turn is written to memory.
func Redact(input string) Redaction {
	out := Redaction{Text: input}
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out.Text, rule.marker)
		if next != out.Text {
			out.Kinds = append(out.Kinds, rule.kind)
			out.Text = next
		}
	}
	return out
}
