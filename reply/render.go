package reply

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// RenderOptions carries the per-delivery headers that are not part of the
// composed reply.
type RenderOptions struct {
	Date      time.Time
	MessageID string
}

// NewMessageID returns a unique Message-ID (without angle brackets) in the
// domain of from.
func NewMessageID(from string) string {
	domain := "localhost"
	addr := envelopeAddress(from)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		domain = addr[i+1:]
	}
	return uuid.NewString() + "@" + domain
}

// Render writes o as an RFC 5322 message with a quoted-printable UTF-8 text body.
func (o Outgoing) Render(w io.Writer, opts RenderOptions) error {
	var h mail.Header
	if !opts.Date.IsZero() {
		h.SetDate(opts.Date)
	}
	if opts.MessageID != "" {
		h.SetMessageID(opts.MessageID)
	}
	setAddressHeader(&h, "From", o.From)
	setAddressHeader(&h, "To", o.To)
	if o.Cc != "" {
		setAddressHeader(&h, "Cc", o.Cc)
	}
	h.SetSubject(o.Subject)
	if o.InReplyTo != "" {
		h.Set("In-Reply-To", o.InReplyTo)
	}
	if o.References != "" {
		h.Set("References", o.References)
	}
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	mw, err := message.CreateWriter(w, h.Header)
	if err != nil {
		return fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(mw, o.Body); err != nil {
		_ = mw.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close message writer: %w", err)
	}
	return nil
}

// Bytes renders o into memory.
func (o Outgoing) Bytes(opts RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := o.Render(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setAddressHeader(h *mail.Header, key, value string) {
	list, err := mail.ParseAddressList(value)
	if err != nil || len(list) == 0 {
		h.Set(key, value)
		return
	}
	h.SetAddressList(key, list)
}
