package validation

import (
	"strings"
	"unicode/utf8"

	"quill/internal/models"
)

const MaxTitleLength = 255

// Post field names as they appear in forms and JSON bodies.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// ValidatePost checks the required post fields and reports every failure
// at once.
func ValidatePost(title, content string) models.FieldErrors {
	var fields models.FieldErrors
	if strings.TrimSpace(title) == "" {
		fields.Add(FieldTitle, models.FieldNotEmpty)
	} else if utf8.RuneCountInString(title) > MaxTitleLength {
		fields.Add(FieldTitle, models.FieldTooLarge)
	}
	if strings.TrimSpace(content) == "" {
		fields.Add(FieldContent, models.FieldNotEmpty)
	}
	return fields
}
