package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Pre-compiled redaction patterns (compiled once, used on every AI call).
var (
	reCreditCard  = regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`)
	reSSN         = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	reIDNumber    = regexp.MustCompile(`\b\d{9,12}\b`)
	reEmailAddr   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	reAWSKey      = regexp.MustCompile(`AKIA[0-9A-Z]{16}`)
	reOpenAIKey   = regexp.MustCompile(`sk-(proj-)?[a-zA-Z0-9]{20,}`)
	reGitHubToken = regexp.MustCompile(`(ghp|gho|ghu|ghs|ghr)_[a-zA-Z0-9]{36,}`)
	reSlackToken  = regexp.MustCompile(`xox[bp]-[a-zA-Z0-9-]{10,}`)
	reJWTToken    = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	rePrivateKey  = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)
	reDBConnStr   = regexp.MustCompile(`(postgresql|mysql|mongodb|redis|amqp)://[^\s"']+`)
)

// redactor maps one sensitive pattern to its replacement token.
type redactor struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactors is the ordered redaction table. Order matters: secrets before
// generic identifier shapes, so a token is not half-eaten by a broader rule.
var redactors = []redactor{
	{reAWSKey, "[AWS_KEY_REDACTED]"},
	{reOpenAIKey, "[API_KEY_REDACTED]"},
	{reGitHubToken, "[API_TOKEN_REDACTED]"},
	{reSlackToken, "[API_TOKEN_REDACTED]"},
	{rePrivateKey, "[PRIVATE_KEY_BLOCK_REDACTED]"},
	{reJWTToken, "[JWT_REDACTED]"},
	{reDBConnStr, "[DATABASE_URI_REDACTED]"},
	{reCreditCard, "[CARD_NUMBER_REDACTED]"},
	{reSSN, "[SSN_REDACTED]"},
	{reIDNumber, "[ID_NUMBER_REDACTED]"},
	{reEmailAddr, "[EMAIL_REDACTED]"},
}

// Sanitize redacts sensitive-looking content and truncates to maxRunes
// before anything is sent to the AI provider. The provider is untrusted;
// this gate is mandatory on every call, not best-effort.
func Sanitize(content string, maxRunes int) string {
	for _, r := range redactors {
		content = r.pattern.ReplaceAllString(content, r.replacement)
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		runes := []rune(content)
		content = string(runes[:maxRunes]) + "\n[TRUNCATED]"
	}
	return strings.TrimSpace(content)
}
