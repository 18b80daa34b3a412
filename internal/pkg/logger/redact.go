package logger

import (
	"regexp"
	"strings"
)

// RedactEmail masks an email address for safe logging.
// "jane.roe@sequoia.example" → "ja***@sequoia.example"
// Short local parts (≤2 chars) are fully masked: "jr@fund.example" → "***@fund.example"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// piiKeys marks field names whose whole value is an address.
var piiKeys = []string{"email", "recipient", "investor_email", "approver", "reply_to"}

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	for _, k := range piiKeys {
		if strings.Contains(key, k) {
			return RedactEmail(val)
		}
	}
	// Redact any embedded addresses in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
