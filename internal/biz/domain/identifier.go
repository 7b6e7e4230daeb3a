package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// IdentifierType tells which branch of extraction produced an identifier
type IdentifierType string

const (
	IdentifierPhoneNumber IdentifierType = "PHONE_NUMBER"
	IdentifierTitle       IdentifierType = "TITLE"
)

const (
	// PhoneDigits is the number of trailing digits kept from a phone number
	PhoneDigits = 11
	// TitlePrefixLen is the canonical title prefix length used for rules and grouping
	TitlePrefixLen = 10
)

var phonePattern = regexp.MustCompile(`(?:\d[\s-]*){7,}`)

// Identifier is the phone-number or title-derived key of a sender.
// Exactly one of PhoneNumber and TitlePrefix is set; both are empty for a blank title.
type Identifier struct {
	PhoneNumber string
	TitlePrefix string
	Type        IdentifierType
}

// Value returns the populated field
func (i Identifier) Value() string {
	if i.Type == IdentifierPhoneNumber {
		return i.PhoneNumber
	}
	return i.TitlePrefix
}

// IsEmpty reports whether extraction degraded to an empty identifier
func (i Identifier) IsEmpty() bool {
	return i.Value() == ""
}

// ExtractIdentifier derives the identifier of a notification sender.
// WhatsApp senders with digits in their title (or in the content when the title
// is blank) get a tail-anchored phone number, everything else a title prefix.
func ExtractIdentifier(packageName, title, content string) Identifier {
	source := title
	if strings.TrimSpace(source) == "" {
		source = content
	}

	if IsWhatsAppPackage(packageName) && strings.ContainsAny(source, "0123456789+") {
		if phone := NormalizePhoneNumber(source); phone != "" {
			return Identifier{PhoneNumber: phone, Type: IdentifierPhoneNumber}
		}
	}

	return Identifier{TitlePrefix: TitlePrefix(title, TitlePrefixLen), Type: IdentifierTitle}
}

// IsWhatsAppPackage reports whether the package is a WhatsApp variant
func IsWhatsAppPackage(packageName string) bool {
	return strings.Contains(strings.ToLower(packageName), "whatsapp")
}

// HasPhoneNumber reports whether text contains a run of at least seven digits,
// optionally separated by spaces or dashes
func HasPhoneNumber(text string) bool {
	return phonePattern.MatchString(text)
}

// NormalizePhoneNumber keeps the digits of text and returns the last 11 of them
func NormalizePhoneNumber(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > PhoneDigits {
		digits = digits[len(digits)-PhoneDigits:]
	}
	return digits
}

// TitlePrefix returns the first n runes of the trimmed, lowercased title
func TitlePrefix(title string, n int) string {
	t := []rune(strings.ToLower(strings.TrimSpace(title)))
	if len(t) > n {
		t = t[:n]
	}
	return string(t)
}

// NormalizeTitle trims, lowercases and joins whitespace runs with underscores
func NormalizeTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), unicode.IsSpace)
	return strings.Join(fields, "_")
}
