package model

import "strings"

// HeaderEntry is a single header line with its decoded value.
type HeaderEntry struct {
	Name  string
	Value string
}

// CanonicalMessage is the normalized form of a raw message. It always carries a
// sender address; messages without one never become a CanonicalMessage.
type CanonicalMessage struct {
	MessageID  string
	References string
	FromName   string
	FromEmail  string
	ReplyTo    string
	Subject    string
	Body       string
	Headers    []HeaderEntry
}

// Header returns the value of the last header named name, compared
// case-insensitively, and whether it was present.
func (m CanonicalMessage) Header(name string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			value = h.Value
			found = true
		}
	}
	return value, found
}
