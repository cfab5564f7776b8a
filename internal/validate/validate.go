// Package validate implements declarative request validation for the
// Service tier's public endpoints: required fields, size caps, and format
// checks (URL scheme), independent of any one handler's wiring.
package validate

import (
	"net/url"
	"strings"
)

// Error is returned on a validation failure; its Field and Message are
// safe to surface directly to clients per the spec's jargon-free error
// text requirement.
type Error struct {
	Field   string
	Message string
}

// Error returns the bare user-facing message (no field prefix), since the
// Service tier surfaces it directly in error envelopes per §7's
// jargon-free requirement.
func (e Error) Error() string { return e.Message }

const (
	maxMessageBytes      = 16 * 1024
	maxInstructionsBytes = 4 * 1024
)

// Message validates /analyze_message's {message} body: non-empty, <=16KiB.
func Message(message string) error {
	if strings.TrimSpace(message) == "" {
		return Error{Field: "message", Message: "must not be empty"}
	}
	if len(message) > maxMessageBytes {
		return Error{Field: "message", Message: "exceeds 16KiB limit"}
	}
	return nil
}

// URL validates /analyze_link's {url} body: parses, requires http/https.
func URL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return Error{Field: "url", Message: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Error{Field: "url", Message: "Invalid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Error{Field: "url", Message: "Invalid URL"}
	}
	if u.Host == "" {
		return Error{Field: "url", Message: "Invalid URL"}
	}
	return nil
}

// FileRef validates /analyze_file_static and /analyze_file_dynamic's
// {file_ref} body: non-empty string.
func FileRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return Error{Field: "file_ref", Message: "must not be empty"}
	}
	return nil
}

// App validates /analyze_app's {app_ref, instructions} body: app_ref
// non-empty, instructions <=4KiB (may be empty).
func App(appRef, instructions string) error {
	if strings.TrimSpace(appRef) == "" {
		return Error{Field: "app_ref", Message: "must not be empty"}
	}
	if len(instructions) > maxInstructionsBytes {
		return Error{Field: "instructions", Message: "exceeds 4KiB limit"}
	}
	return nil
}
