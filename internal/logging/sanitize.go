package logging

import "regexp"

// Placeholder replaces redacted secrets in log output.
const Placeholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:verify[_-]?key|x-shipment-verify-key|api[_-]?key|access[_-]?token|token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	verifyKeyPrefixPattern = regexp.MustCompile(`(SHIPMENT-)([0-9a-fA-F-]{8,})(: )`)
)

// Sanitize removes credentials and verify keys from a formatted log line.
func Sanitize(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllString(line, "${1}${2}"+Placeholder)
	sanitized = sensitiveKeyValuePattern.ReplaceAllString(sanitized, "${1}"+Placeholder+"${3}")
	return verifyKeyPrefixPattern.ReplaceAllString(sanitized, "${1}"+Placeholder+"${3}")
}
