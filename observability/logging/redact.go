package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces the content of any log field that is not explicitly
// allowlisted.
const RedactedValue = "[REDACTED]"

// Keys that may appear in logs verbatim. Everything else is assumed to be
// operator-supplied material (secrets, signatures, raw payloads) and masked.
var allowlistedKeys = []string{
	"service",
	"env",
	"message",
	"severity",
	"timestamp",
	"error",
	"reason",
	"component",
	"module",
	"method",
	"round",
	"timeline",
}

var redactionAllowlist = func() map[string]struct{} {
	set := make(map[string]struct{}, len(allowlistedKeys))
	for _, key := range allowlistedKeys {
		set[key] = struct{}{}
	}
	return set
}()

// IsAllowlisted reports whether the key may be logged without masking.
// Matching ignores case and surrounding whitespace.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order so tests
// can pin the set.
func RedactionAllowlist() []string {
	keys := append([]string(nil), allowlistedKeys...)
	sort.Strings(keys)
	return keys
}

// MaskValue masks a non-empty value. Empty values pass through so absent
// fields stay recognisable in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog attribute whose value is masked unless the key is
// allowlisted. The key keeps its original casing.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
