package relay

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // max serialized content size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that a chat message meets content requirements.
// Empty content is not an error here; the hub treats it as a silent no-op
// before validation runs.
func ValidateContent(content string) error {
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
