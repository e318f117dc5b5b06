package feature

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentity returns the canonical form of an image identity. Identities
// are NFC-normalized so that the same path typed on different platforms maps
// to one cache key. Empty identities and control characters are rejected.
func NormalizeIdentity(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty image identity", ErrInvalidInput)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: image identity %q contains control characters", ErrInvalidInput, id)
	}
	return norm.NFC.String(id), nil
}
