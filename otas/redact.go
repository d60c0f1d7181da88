package otas

import "strings"

// RedactionMask replaces the value of every sensitive header.
const RedactionMask = "[REDACTED]"

var defaultSensitiveHeaders = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"x-api-key",
	"proxy-authorization",
}

// SensitiveHeaderSet holds lower-cased header names whose values must never
// leave the process. It is built once at startup and read-only afterwards.
type SensitiveHeaderSet map[string]struct{}

// NewSensitiveHeaderSet unions the built-in names with the given extras.
// Extras are trimmed and lower-cased; empty entries are ignored.
func NewSensitiveHeaderSet(extra ...string) SensitiveHeaderSet {
	set := make(SensitiveHeaderSet, len(defaultSensitiveHeaders)+len(extra))
	for _, name := range defaultSensitiveHeaders {
		set[name] = struct{}{}
	}
	for _, name := range extra {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

// Contains reports whether name is sensitive, ignoring case.
func (s SensitiveHeaderSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

// RedactHeaders returns a copy of headers with the value of every sensitive
// name replaced by RedactionMask. All keys survive and non-sensitive values
// pass through unchanged.
func RedactHeaders(headers map[string]string, sensitive SensitiveHeaderSet) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if sensitive.Contains(name) {
			out[name] = RedactionMask
		} else {
			out[name] = value
		}
	}
	return out
}
