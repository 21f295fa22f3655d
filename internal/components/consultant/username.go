// Package consultant holds the consultant domain rules shared by the
// provisioning flow: username encoding, password generation and request
// validation errors.
package consultant

import (
	"encoding/base32"
	"fmt"
	"strings"
)

// EncodedPrefix marks an encoded username.
const EncodedPrefix = "enc."

// Username length limits, counted on the decoded name.
const (
	UsernameMinLength = 5
	UsernameMaxLength = 30
)

// EncodeUsername returns "enc." + base32(username) in lower case with the
// "=" padding replaced by ".", which the chat platform accepts in names.
// Encoded names are returned unchanged.
func EncodeUsername(username string) string {
	if strings.HasPrefix(username, EncodedPrefix) {
		return username
	}
	enc := base32.StdEncoding.EncodeToString([]byte(username))
	return EncodedPrefix + strings.ToLower(strings.ReplaceAll(enc, "=", "."))
}

// DecodeUsername reverses EncodeUsername. Names without the prefix are
// returned unchanged.
func DecodeUsername(username string) (string, error) {
	rest, ok := strings.CutPrefix(username, EncodedPrefix)
	if !ok {
		return username, nil
	}
	raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.ReplaceAll(rest, ".", "=")))
	if err != nil {
		return "", fmt.Errorf("failed to decode username %s: %w", username, err)
	}
	return string(raw), nil
}

// UsernamesMatch compares two names in any mix of encoded and plain form,
// ignoring case.
func UsernamesMatch(a, b string) bool {
	return strings.EqualFold(EncodeUsername(a), EncodeUsername(b))
}
