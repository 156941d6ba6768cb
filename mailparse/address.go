package mailparse

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// ResolveAddress splits a header value such as `"Jane Doe" <jane@x.com>` into
// display name and email. The email is empty when no valid address is present.
// Only the first address of a list is considered.
func ResolveAddress(value string) (name, email string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}

	if addr, err := mail.ParseAddress(value); err == nil {
		return addr.Name, addr.Address
	}
	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		return list[0].Name, list[0].Address
	}

	return resolveLoose(value)
}

// resolveLoose handles decoded display names that are no longer valid
// RFC 5322 phrases, e.g. `Doe, Jane <jane@x.com>`.
func resolveLoose(value string) (string, string) {
	start := strings.LastIndex(value, "<")
	end := strings.LastIndex(value, ">")
	if start < 0 || end <= start {
		return "", ""
	}

	email := strings.TrimSpace(value[start+1 : end])
	addr, err := mail.ParseAddress("<" + email + ">")
	if err != nil {
		return "", ""
	}

	name := strings.Trim(strings.TrimSpace(value[:start]), `"'`)
	return strings.TrimSpace(name), addr.Address
}
