// Package redact scrubs credentials from strings before they are logged,
// stored in a job's error history, or returned in error responses.
// Processor errors routinely quote the URLs they failed on, and those URLs
// may carry signed query parameters or embedded passwords.
package redact

import "regexp"

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern *regexp.Regexp
	// replacement may reference capture groups of pattern
	replacement string
}

// Rules run in order; earlier rules win on overlapping input.
var rules = []rule{
	{
		// user:password@ in connection strings and URLs
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*)://[^\s/@:]+(?::[^\s/@]*)?@`),
		replacement: "${1}://" + RedactedCredentialPlaceholder + "@",
	},
	{
		// Signed or keyed query parameters
		pattern: regexp.MustCompile(
			`(?i)([?&](?:x-amz-signature|x-amz-credential|x-amz-security-token|x-goog-signature|x-goog-credential|sig|signature|token|access_token|key|api_key)=)[^&\s"':]+`,
		),
		replacement: "${1}" + RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*)['"]?[^'"&\s]{3,}`),
		replacement: "${1}${2}" + RedactedCredentialPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|authorization)(\s*[=:]\s*)['"]?[A-Za-z0-9_\-.~+/]{8,}`),
		replacement: "${1}${2}" + RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]{8,}=*`),
		replacement: "Bearer " + RedactedKeyPlaceholder,
	},
	{
		// Google API keys
		pattern:     regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`),
		replacement: RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		replacement: "[REDACTED_JWT]",
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
