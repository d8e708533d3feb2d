package pathsec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"mdplane/internal/apperr"
)

func TestValidateRejectsTraversal(t *testing.T) {
	for _, raw := range []string{"/docs/../etc", "/%2e%2e/etc/passwd", "/%2E%2E/x"} {
		_, err := Validate(raw)
		ae := apperr.As(err)
		assert.Equal(t, apperr.InvalidPath, ae.Code, raw)
	}
}

func TestValidateRejectsNUL(t *testing.T) {
	_, err := Validate("/a%00b")
	assert.Equal(t, apperr.InvalidPath, apperr.As(err).Code)
}

func TestValidateRejectsCRLF(t *testing.T) {
	for _, raw := range []string{"/a%0db", "/a%0Ab", "/a\rb"} {
		_, err := Validate(raw)
		assert.Equal(t, apperr.InvalidPath, apperr.As(err).Code, raw)
	}
}

func TestValidateRejectsLongPath(t *testing.T) {
	_, err := Validate("/" + strings.Repeat("a", 1025))
	assert.Equal(t, apperr.InvalidPath, apperr.As(err).Code)
}

func TestValidateRejectsLongSegment(t *testing.T) {
	_, err := Validate("/" + strings.Repeat("a", 256) + "/file.md")
	assert.Equal(t, apperr.InvalidPath, apperr.As(err).Code)
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, p := range []string{"/a//b///c/", "a/b", "/", ""} {
		n1 := Normalize(p)
		n2 := Normalize(n1)
		assert.Equal(t, n1, n2)
	}
}

func TestNormalizeCollapsesSlashes(t *testing.T) {
	assert.Equal(t, "/a/b/c", Normalize("/a//b///c/"))
	assert.Equal(t, "/", Normalize(""))
	assert.Equal(t, "/a", Normalize("a"))
}

func TestWithinFolder(t *testing.T) {
	assert.True(t, WithinFolder("/docs/readme.md", "/docs/"))
	assert.True(t, WithinFolder("/docs", "/docs/"))
	assert.False(t, WithinFolder("/docs-backup/readme.md", "/docs/"))
}

func TestNormalizeFolder(t *testing.T) {
	assert.Equal(t, "/docs/", NormalizeFolder("/docs"))
	assert.Equal(t, "/docs/", NormalizeFolder("/docs/"))
	assert.Equal(t, "/", NormalizeFolder("/"))
}
