package mailparse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/readreply/model"
)

// NoSubject is used when a message carries no Subject header.
const NoSubject = "(no subject)"

// ErrNoSender marks a message that cannot be processed because no sender
// address could be extracted from it.
var ErrNoSender = errors.New("message has no usable sender address")

// Normalize builds the canonical record for a raw message. It fails with
// ErrNoSender when the From header yields no email address; every other
// defect in the message is absorbed.
func Normalize(raw []byte) (model.CanonicalMessage, error) {
	entity, err := parseLenient(raw)
	if err != nil {
		return model.CanonicalMessage{}, fmt.Errorf("%w: %w", ErrNoSender, err)
	}

	h := entity.Header
	fromName, fromEmail := ResolveAddress(DecodeHeader(h.Get("From")))
	if fromEmail == "" {
		return model.CanonicalMessage{}, ErrNoSender
	}
	if fromName == "" {
		fromName = fromEmail
	}

	replyTo := fromEmail
	if _, addr := ResolveAddress(DecodeHeader(h.Get("Reply-To"))); addr != "" {
		replyTo = addr
	}

	subject := DecodeHeader(h.Get("Subject"))
	if subject == "" {
		subject = NoSubject
	}

	var headers []model.HeaderEntry
	fields := h.Fields()
	for fields.Next() {
		headers = append(headers, model.HeaderEntry{
			Name:  fields.Key(),
			Value: DecodeHeader(fields.Value()),
		})
	}

	return model.CanonicalMessage{
		MessageID:  DecodeHeader(h.Get("Message-Id")),
		References: DecodeHeader(h.Get("References")),
		FromName:   fromName,
		FromEmail:  fromEmail,
		ReplyTo:    replyTo,
		Subject:    subject,
		Body:       ExtractBody(entity),
		Headers:    headers,
	}, nil
}

// parseLenient parses raw like message.Read. When a header line is malformed,
// the fields above it form the header and everything from that line on is
// the body.
func parseLenient(raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err == nil || (entity != nil && isRecoverable(err)) {
		return entity, nil
	}

	header, body := splitMalformedHeader(raw)
	th, herr := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(header)))
	if herr != nil {
		return nil, fmt.Errorf("%w (partial header: %v)", err, herr)
	}
	entity, err = message.New(message.Header{Header: th}, bytes.NewReader(body))
	if err != nil && (entity == nil || !isRecoverable(err)) {
		return nil, err
	}
	return entity, nil
}

// splitMalformedHeader cuts raw before the first line that is neither a
// header field nor a continuation line, or after the blank line ending the
// header block. The returned header is terminated by a blank line.
func splitMalformedHeader(raw []byte) (header, body []byte) {
	headerLen, bodyStart := len(raw), len(raw)
	for offset := 0; offset < len(raw); {
		next := len(raw)
		line := raw[offset:]
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
			next = offset + i + 1
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			headerLen, bodyStart = offset, next
			break
		}
		if !isHeaderLine(line, offset == 0) {
			headerLen, bodyStart = offset, offset
			break
		}
		offset = next
	}

	header = append([]byte{}, raw[:headerLen]...)
	if len(header) > 0 && !bytes.HasSuffix(header, []byte("\n")) {
		header = append(header, "\r\n"...)
	}
	header = append(header, "\r\n"...)
	return header, raw[bodyStart:]
}

// isHeaderLine accepts `Name: value` with a printable ASCII name, and folded
// continuation lines anywhere but first.
func isHeaderLine(line []byte, first bool) bool {
	if line[0] == ' ' || line[0] == '\t' {
		return !first
	}
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	for _, c := range line[:i] {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}

// Identify reads only the header block of a raw message and returns its
// Message-ID (without angle brackets) and Date, both zero when unavailable.
func Identify(raw []byte) (string, time.Time) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return "", time.Time{}
	}
	h := mail.Header{Header: message.Header{Header: th}}

	id, err := h.MessageID()
	if err != nil {
		id = ""
	}
	date, err := h.Date()
	if err != nil {
		date = time.Time{}
	}
	return id, date
}
