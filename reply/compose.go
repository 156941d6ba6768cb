// Package reply builds threaded reply messages and renders them for a
// transport.
package reply

import (
	"errors"
	"strings"

	"github.com/dhcgn/readreply/mailparse"
	"github.com/dhcgn/readreply/model"
)

var (
	ErrNoRecipient = errors.New("reply has no recipient")
	ErrNoFrom      = errors.New("reply has no from address")
)

// Mode is the way a transport establishes TLS.
type Mode int

const (
	// ModeImplicitTLS encrypts from the first byte.
	ModeImplicitTLS Mode = iota
	// ModeStartTLS connects in plaintext and upgrades with STARTTLS.
	ModeStartTLS
)

func (m Mode) String() string {
	switch m {
	case ModeStartTLS:
		return "starttls"
	default:
		return "implicit-tls"
	}
}

// ModeForPort maps the submission port to a transport mode. Ports 587 and
// 2525 use STARTTLS, everything else implicit TLS.
func ModeForPort(port int) Mode {
	switch port {
	case 587, 2525:
		return ModeStartTLS
	default:
		return ModeImplicitTLS
	}
}

// TransportConfig describes the outgoing mail server.
type TransportConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
}

// Request holds what a reply is made of.
type Request struct {
	To         string
	Cc         string
	Subject    string
	Body       string
	InReplyTo  string
	References string
}

// Outgoing is a composed reply ready to be handed to a transport.
// In-Reply-To and References are empty when they must not be sent.
type Outgoing struct {
	From       string
	To         string
	Cc         string
	Subject    string
	Body       string
	InReplyTo  string
	References string
	Recipients []string
	Mode       Mode
}

// Compose builds the outgoing reply for req. It is deterministic: the same
// input always yields the same Outgoing.
func Compose(req Request, transport TransportConfig) (Outgoing, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		return Outgoing{}, ErrNoRecipient
	}
	from := strings.TrimSpace(transport.FromAddress)
	if from == "" {
		return Outgoing{}, ErrNoFrom
	}
	cc := strings.TrimSpace(req.Cc)

	recipients := []string{envelopeAddress(to)}
	if cc != "" {
		recipients = append(recipients, envelopeAddress(cc))
	}

	return Outgoing{
		From:       from,
		To:         to,
		Cc:         cc,
		Subject:    NormalizeSubject(req.Subject),
		Body:       req.Body,
		InReplyTo:  strings.TrimSpace(req.InReplyTo),
		References: strings.TrimSpace(req.References),
		Recipients: recipients,
		Mode:       ModeForPort(transport.Port),
	}, nil
}

// FromCanonical prepares a reply to msg: it goes to the Reply-To address and
// continues the thread of msg.
func FromCanonical(msg model.CanonicalMessage, body, cc string) Request {
	return Request{
		To:         msg.ReplyTo,
		Cc:         cc,
		Subject:    msg.Subject,
		Body:       body,
		InReplyTo:  msg.MessageID,
		References: threadReferences(msg.References, msg.MessageID),
	}
}

func threadReferences(refs, id string) string {
	refs = strings.TrimSpace(refs)
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return refs
	case refs == "":
		return id
	case strings.Contains(refs, id):
		return refs
	default:
		return refs + " " + id
	}
}

func envelopeAddress(value string) string {
	if _, addr := mailparse.ResolveAddress(value); addr != "" {
		return addr
	}
	return value
}
