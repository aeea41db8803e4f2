package common

import "strings"

// WipeByteArray overwrites the contents of the provided byte slice with zeros.
// Used for passwords read from the terminal.
//
// If the slice is nil, the function does nothing.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}

// NormalizeUsername returns the key used for case-insensitive username
// uniqueness.
func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. ok is false when the header is missing or malformed.
func BearerToken(header string) (token string, ok bool) {
	if !strings.HasPrefix(header, BearerPrefix) {
		return "", false
	}
	token = strings.TrimSpace(header[len(BearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
