package policy

import (
	"regexp"
	"strings"
)

// Risk levels reported by ScreenMessage.
const (
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
	RiskBlocked = "blocked"
)

// MessageDecision is the outcome of screening one chat message before it
// reaches an agent.
type MessageDecision struct {
	Risk    string
	Blocked bool
	Reason  string
}

var (
	blockedMessagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
		regexp.MustCompile(`(?i)\b(print|show|reveal)\b.*\b(api[_ -]?key|token|password|secret)\b`),
		regexp.MustCompile(`(?i)\bignore (all )?(previous|prior) instructions\b`),
	}
	highRiskKeywords = []string{
		"delete", "drop", "truncate", "wipe", "destroy",
		"shutdown", "terminate", "sudo", "deploy", "migrate",
	}
	mediumRiskKeywords = []string{
		"create", "update", "edit", "write", "run", "install", "configure",
	}
)

// ScreenMessage classifies a message. Blocked messages must not be sent to
// an agent; the other levels are informational.
func ScreenMessage(message string) MessageDecision {
	in := strings.ToLower(strings.TrimSpace(message))
	if in == "" {
		return MessageDecision{Risk: RiskLow}
	}

	for _, re := range blockedMessagePatterns {
		if re.MatchString(in) {
			return MessageDecision{
				Risk:    RiskBlocked,
				Blocked: true,
				Reason:  "message appears to request destructive actions or secret exfiltration",
			}
		}
	}
	if containsAny(in, highRiskKeywords) {
		return MessageDecision{Risk: RiskHigh}
	}
	if containsAny(in, mediumRiskKeywords) {
		return MessageDecision{Risk: RiskMedium}
	}
	return MessageDecision{Risk: RiskLow}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
