package mailparse

import (
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// ExtractBody returns the human-readable text of a parsed message.
//
// For multipart messages the first text/plain part without a
// Content-Disposition header, in depth-first order, is used. A multipart message
// without such a part has no body. Anything else, including a multipart type
// without a boundary parameter, yields the top-level payload.
// Charsets are converted to UTF-8. Each run of invalid bytes becomes a single
// U+FFFD, not one replacement per byte.
func ExtractBody(entity *message.Entity) string {
	if entity == nil {
		return ""
	}
	if hasBoundary(entity.Header) {
		if mr := entity.MultipartReader(); mr != nil {
			text, _ := firstPlainPart(mr)
			return text
		}
	}
	return readText(entity)
}

// hasBoundary reports whether h declares a multipart type that can actually
// be split into parts.
func hasBoundary(h message.Header) bool {
	t, params, err := h.ContentType()
	if err != nil || !strings.HasPrefix(strings.ToLower(t), "multipart/") {
		return false
	}
	return params["boundary"] != ""
}

func firstPlainPart(mr message.MultipartReader) (string, bool) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil && !isRecoverable(err) {
			return "", false
		}
		if part == nil {
			return "", false
		}

		if inner := part.MultipartReader(); inner != nil {
			if text, ok := firstPlainPart(inner); ok {
				return text, true
			}
			continue
		}

		if isInlinePlainText(part.Header) {
			return readText(part), true
		}
	}
}

func isInlinePlainText(h message.Header) bool {
	if strings.TrimSpace(h.Get("Content-Disposition")) != "" {
		return false
	}
	return mediaType(h) == "text/plain"
}

// mediaType mirrors the usual mail client default: a missing or broken
// Content-Type means text/plain.
func mediaType(h message.Header) string {
	if strings.TrimSpace(h.Get("Content-Type")) == "" {
		return "text/plain"
	}
	t, _, err := h.ContentType()
	if err != nil || strings.Count(t, "/") != 1 {
		return "text/plain"
	}
	return strings.ToLower(t)
}

func readText(entity *message.Entity) string {
	data, err := io.ReadAll(entity.Body)
	if err != nil && len(data) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(data), replacementChar)
}

// isRecoverable reports errors go-message returns together with a usable entity.
func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
