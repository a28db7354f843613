package badge

import (
	"fmt"
	"unicode/utf8"
)

// Code is the text form of a badge identifier, e.g. "A1B2".
type Code string

// String implements fmt.Stringer.
func (c Code) String() string {
	return string(c)
}

// Decode converts a raw characteristic payload to a Code.
// The payload must be valid UTF-8; the bytes are otherwise kept as-is.
func Decode(payload []byte) (Code, error) {
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("payload of %d bytes is not valid UTF-8", len(payload))
	}
	return Code(payload), nil
}

// Encode returns the bytes written to the peripheral for c.
func (c Code) Encode() []byte {
	return []byte(c)
}
