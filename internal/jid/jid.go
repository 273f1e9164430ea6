// Package jid formats and validates addressable identifiers (JIDs) for users and groups.
package jid

import (
	"regexp"
	"strings"
)

const (
	// UserServer is the JID suffix for individual accounts.
	UserServer = "s.whatsapp.net"
	// GroupServer is the JID suffix for groups.
	GroupServer = "g.us"

	minNumberLen = 8
	maxNumberLen = 15
)

var userJIDRe = regexp.MustCompile(`^\d+@s\.whatsapp\.net$`)

// countryCodes maps ISO country codes to dialling prefixes for FormatPhoneNumber.
var countryCodes = map[string]string{
	"US": "1", "CA": "1", "GB": "44", "UK": "44", "DE": "49", "FR": "33",
	"ES": "34", "IT": "39", "BR": "55", "MX": "52", "IN": "91", "ID": "62",
	"NG": "234", "ZA": "27", "AU": "61", "JP": "81", "VN": "84", "TR": "90",
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// FormatPhoneNumber turns a human-entered phone number into a user JID
// (or bare digits when withSuffix is false).
// countryCode may be an ISO code ("US") or a dialling prefix ("44"); it is
// only prepended to numbers of 10 digits or fewer.
func FormatPhoneNumber(number, countryCode string, withSuffix bool) string {
	clean := DigitsOnly(number)
	if countryCode != "" && len(clean) <= 10 {
		if prefix, ok := countryCodes[strings.ToUpper(countryCode)]; ok {
			clean = prefix + clean
		} else {
			clean = DigitsOnly(countryCode) + clean
		}
	}
	if withSuffix {
		return clean + "@" + UserServer
	}
	return clean
}

// IsUserJID reports whether s is a well-formed individual JID (8-15 digits).
func IsUserJID(s string) bool {
	if !userJIDRe.MatchString(s) {
		return false
	}
	n := len(s) - len("@"+UserServer)
	return n >= minNumberLen && n <= maxNumberLen
}

// IsGroupJID reports whether s addresses a group.
func IsGroupJID(s string) bool {
	return strings.HasSuffix(s, "@"+GroupServer)
}

// IsAddressable reports whether s looks like any platform JID: it has a user
// part and a server part on one of the platform domains.
func IsAddressable(s string) bool {
	user, server, ok := strings.Cut(s, "@")
	if !ok || user == "" {
		return false
	}
	return server == UserServer || server == GroupServer
}

// ExtractNumber returns the phone number of a user JID, or "" for anything else.
func ExtractNumber(s string) string {
	if !IsUserJID(s) {
		return ""
	}
	user, _, _ := strings.Cut(s, "@")
	return user
}

// User returns the part before '@' (or s itself when there is none).
func User(s string) string {
	user, _, _ := strings.Cut(s, "@")
	return user
}

// MaskPhoneNumber keeps the last four digits visible for logs and CLI output.
func MaskPhoneNumber(number string) string {
	digits := DigitsOnly(number)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
