// Package pathsec implements the path validator / normalizer of spec §4.B:
// traversal defense (raw and percent-encoded), length limits, normalization,
// and folder scope containment.
package pathsec

import (
	"net/url"
	"strings"

	"mdplane/internal/apperr"
)

const (
	maxPathLength    = 1024
	maxSegmentLength = 255
)

// Validate fails with INVALID_PATH when raw or its decoded form trips any
// of the traversal/length/encoding checks in spec §4.B. It returns the
// normalized path on success.
func Validate(raw string) (string, error) {
	if err := screenRaw(raw); err != nil {
		return "", err
	}
	if len(raw) > maxPathLength {
		return "", apperr.New(apperr.InvalidPath, "path too long")
	}
	decoded, err := decodeOnce(raw)
	if err != nil {
		return "", apperr.New(apperr.InvalidPath, "invalid percent-encoding")
	}
	if err := screenDecoded(decoded); err != nil {
		return "", err
	}
	if len(decoded) > maxPathLength {
		return "", apperr.New(apperr.InvalidPath, "path too long")
	}
	for _, seg := range strings.Split(decoded, "/") {
		if len(seg) > maxSegmentLength {
			return "", apperr.New(apperr.InvalidPath, "segment too long")
		}
	}
	return Normalize(decoded), nil
}

// HasTraversal screens the raw URL-like string for ".." in plain or
// percent-encoded form, used as an early defense-in-depth check before
// full validation (spec §4.B "traversal detector").
func HasTraversal(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(raw, "..") ||
		strings.Contains(lower, "%2e%2e")
}

func screenRaw(raw string) error {
	if strings.Contains(raw, "\x00") {
		return apperr.New(apperr.InvalidPath, "raw NUL byte")
	}
	if strings.ContainsAny(raw, "\r\n") {
		return apperr.New(apperr.InvalidPath, "raw CR/LF")
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "%00") {
		return apperr.New(apperr.InvalidPath, "encoded NUL byte")
	}
	if strings.Contains(lower, "%0d") || strings.Contains(lower, "%0a") {
		return apperr.New(apperr.InvalidPath, "encoded CR/LF")
	}
	if HasTraversal(raw) {
		return apperr.New(apperr.InvalidPath, "path traversal")
	}
	return nil
}

func screenDecoded(decoded string) error {
	if strings.Contains(decoded, "\x00") {
		return apperr.New(apperr.InvalidPath, "decoded NUL byte")
	}
	if strings.ContainsAny(decoded, "\r\n") {
		return apperr.New(apperr.InvalidPath, "decoded CR/LF")
	}
	if strings.Contains(decoded, "..") {
		return apperr.New(apperr.InvalidPath, "decoded path traversal")
	}
	return nil
}

// decodeOnce percent-decodes s exactly once. Double-encoding bypasses are
// prevented by running the traversal checks against both the raw and this
// once-decoded form, never decoding recursively.
func decodeOnce(s string) (string, error) {
	return url.PathUnescape(s)
}

// Normalize collapses consecutive slashes, ensures a leading slash, and
// drops a trailing slash except for the root path "/". Normalization is
// idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	var b strings.Builder
	lastSlash := false
	for _, r := range p {
		if r == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = strings.TrimRight(out, "/")
	}
	if out == "" {
		out = "/"
	}
	return out
}

// NormalizeFolder ensures p has exactly one trailing slash, the canonical
// folder form.
func NormalizeFolder(p string) string {
	n := Normalize(p)
	if n == "/" {
		return "/"
	}
	return n + "/"
}

// WithinFolder reports whether candidate (a normalized file path) lies
// within folderScope (a normalized folder path, with or without trailing
// slash). Equal to the scope without its trailing slash, or prefixed by
// the scope with its trailing slash -- never a bare string-prefix match,
// so "/docs-backup" never matches scope "/docs/".
func WithinFolder(candidate, folderScope string) bool {
	scope := NormalizeFolder(folderScope)
	bare := strings.TrimSuffix(scope, "/")
	if bare == "" {
		bare = "/"
	}
	if candidate == bare {
		return true
	}
	return strings.HasPrefix(candidate, scope)
}
