package report

import "regexp"

// sensitivePatterns redact credentials and user-identifying paths from
// anything written to the run log or the console.
var sensitivePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36}`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`/tmp/tmp[a-zA-Z0-9_]+`), "/tmp/[REDACTED]"},
	{regexp.MustCompile(`/home/[^/\s]+`), "/home/[USER]"},
}

// Sanitize strips potentially sensitive information from a log message.
func Sanitize(msg string) string {
	for _, p := range sensitivePatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	return msg
}
