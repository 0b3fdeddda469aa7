package scraper

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Generic mailbox prefixes that never belong to a decision maker.
var excludedPrefixes = []string{
	"hr@", "support@", "info@", "admin@", "noreply@", "no-reply@",
	"contact@", "sales@", "marketing@", "help@", "service@",
	"office@", "reception@", "general@", "customer@", "team@",
	"mail@", "enquiry@", "inquiry@", "hello@", "web@",
}

var excludedTerms = []string{
	"noreply", "no-reply", "donotreply", "do-not-reply",
	"postmaster", "mailer-daemon", "bounce",
}

// Address shapes that suggest a decision maker, checked in order.
var preferredPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[a-zA-Z]+\.[a-zA-Z]+@`),
	regexp.MustCompile(`^[a-zA-Z]{2,}@`),
	regexp.MustCompile(`^(ceo|cto|cfo|founder|owner|director|manager)[@.]`),
}

// IsBusinessEmail reports whether the address is a valid, non-generic
// business contact.
func IsBusinessEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || !emailPattern.MatchString(email) {
		return false
	}

	lower := strings.ToLower(email)
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}

	prefix := strings.SplitN(lower, "@", 2)[0]
	for _, term := range excludedTerms {
		if strings.Contains(prefix, term) {
			return false
		}
	}

	return true
}

// BestEmail picks the most promising business address from the candidates,
// preferring decision-maker shapes over the first valid one.
func BestEmail(candidates []string) string {
	var valid []string
	for _, raw := range candidates {
		for _, email := range splitAddresses(raw) {
			if IsBusinessEmail(email) {
				valid = append(valid, email)
			}
		}
	}
	if len(valid) == 0 {
		return ""
	}

	for _, pattern := range preferredPatterns {
		for _, email := range valid {
			if pattern.MatchString(strings.ToLower(email)) {
				return email
			}
		}
	}
	return valid[0]
}

// splitAddresses handles comma or semicolon separated address lists.
func splitAddresses(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
