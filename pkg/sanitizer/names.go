package sanitizer

import (
	"html"
	"path"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicy *bluemonday.Policy
	initOnce     sync.Once
)

func policy() *bluemonday.Policy {
	initOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Name strips markup and control characters, normalizes to NFC and collapses
// internal whitespace. The result may be empty.
func Name(s string) string {
	s = html.UnescapeString(policy().Sanitize(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = norm.NFC.String(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FileName cleans an uploaded file name: directory components supplied by the
// client are dropped and path separators never survive.
func FileName(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(s)
	if s == "." || s == "/" || s == ".." {
		return ""
	}
	return Name(s)
}

var keyUnsafe = regexp.MustCompile(`[^\p{L}\p{N}\-_. ()]`)

// KeySegment makes s safe to use as a single storage key segment.
// Unsafe characters become '_', spaces become '_', and traversal sequences are removed.
func KeySegment(s string) string {
	s = FileName(s)
	s = strings.ReplaceAll(s, "..", "")
	s = keyUnsafe.ReplaceAllString(s, "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "file"
	}
	return s
}
