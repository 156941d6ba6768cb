package reply

import (
	"strings"
	"unicode"
)

// EmptySubject is the normalized subject of a message without one.
const EmptySubject = "Re: (no subject)"

// NormalizeSubject collapses any number of leading "Re:" prefixes, in any case,
// into exactly one "Re: ".
func NormalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return EmptySubject
	}
	for len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		subject = strings.TrimLeftFunc(subject[3:], unicode.IsSpace)
	}
	return "Re: " + subject
}
