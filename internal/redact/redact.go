// Package redact strips credentials and other sensitive fragments from
// strings before they are logged or returned in error responses. Driver and
// broker errors routinely echo connection URLs and SQL, so every error that
// leaves the process through a log line goes through Error first.
package redact

import (
	"net/url"
	"regexp"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
	RedactedSQLValuesPlaceholder  = "[SQL_VALUES_REDACTED]"

	// maskedPassword replaces the password of a URL. It must not need
	// percent-encoding in userinfo.
	maskedPassword = "redacted"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; earlier rewrites are visible to later ones.
var rules = []rule{
	{
		// Userinfo of database and broker connection URLs
		pattern:     regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|rediss?|mysql|amqps?)://)[^\s/@]+@`),
		replacement: "${1}" + RedactedCredentialPlaceholder + "@",
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd)=[^\s&]+`),
		replacement: "${1}=" + RedactionPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?s)goroutine \d+ \[.*`),
		replacement: RedactedStackPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?:/[\w.-]+){3,}`),
		replacement: RedactedPathPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bVALUES\s*\(.*\)`),
		replacement: "VALUES " + RedactedSQLValuesPlaceholder,
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

// URL masks the password of a connection URL for safe logging.
func URL(raw string) string {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}

	if parsedURL.User != nil {
		if _, hasPassword := parsedURL.User.Password(); hasPassword {
			parsedURL.User = url.UserPassword(parsedURL.User.Username(), maskedPassword)
			return parsedURL.String()
		}
	}

	return raw
}
