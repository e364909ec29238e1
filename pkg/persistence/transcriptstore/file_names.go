package transcriptstore

import (
	"strings"

	"github.com/pkg/errors"
)

const transcriptExt = ".transcript"

// invalidNameChars are stripped from channel and conversation ids on every platform.
const invalidNameChars = "\"<>|:*?\\/"

// sanitizeName strips characters that cannot appear in a single path element.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(invalidNameChars, r) {
			return -1
		}
		return r
	}, s)
}

// pathElement sanitizes s and rejects results that would not name a child of
// the parent directory.
func pathElement(component, what, s string) (string, error) {
	name := sanitizeName(s)
	switch strings.TrimSpace(name) {
	case "", ".", "..":
		return "", errors.Wrapf(ErrInvalidArgument, "%s: %s %q has no usable file name", component, what, s)
	}
	return name, nil
}
