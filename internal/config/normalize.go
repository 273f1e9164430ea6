package config

import (
	"regexp"
	"strings"
)

const maxSessionIDLen = 64

var (
	validIDRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingSep   = regexp.MustCompile(`^[-_]+`)
	trailingSep  = regexp.MustCompile(`[-_]+$`)
)

// NormalizeSessionID turns a user-provided name into a session id that is
// safe as a directory name and database key:
//   - lowercase, max 64 chars
//   - only [a-z0-9_-]
//   - runs of other characters become "-"
//   - leading/trailing separators stripped
//
// An empty result means "generate one".
func NormalizeSessionID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	if validIDRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingSep.ReplaceAllString(result, "")
	if len(result) > maxSessionIDLen {
		result = result[:maxSessionIDLen]
	}
	return trailingSep.ReplaceAllString(result, "")
}
