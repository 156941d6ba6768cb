package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/readreply/model"
)

var testTransport = TransportConfig{
	Host:        "smtp.example.com",
	Port:        587,
	Username:    "me",
	Password:    "secret",
	FromAddress: "Me <me@example.com>",
}

func TestModeForPort(t *testing.T) {
	tests := []struct {
		port int
		want Mode
	}{
		{port: 587, want: ModeStartTLS},
		{port: 2525, want: ModeStartTLS},
		{port: 465, want: ModeImplicitTLS},
		{port: 25, want: ModeImplicitTLS},
		{port: 0, want: ModeImplicitTLS},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ModeForPort(tt.port), "port %d", tt.port)
	}
	assert.Equal(t, "starttls", ModeStartTLS.String())
	assert.Equal(t, "implicit-tls", ModeImplicitTLS.String())
}

func TestCompose(t *testing.T) {
	out, err := Compose(Request{
		To:         "jane@example.org",
		Cc:         "Boss <boss@example.com>",
		Subject:    "RE: re: planning",
		Body:       "Sounds good.",
		InReplyTo:  "<m1@example.org>",
		References: "<m0@example.org> <m1@example.org>",
	}, testTransport)
	require.NoError(t, err)

	assert.Equal(t, "Me <me@example.com>", out.From)
	assert.Equal(t, "jane@example.org", out.To)
	assert.Equal(t, "Boss <boss@example.com>", out.Cc)
	assert.Equal(t, "Re: planning", out.Subject)
	assert.Equal(t, "Sounds good.", out.Body)
	assert.Equal(t, "<m1@example.org>", out.InReplyTo)
	assert.Equal(t, "<m0@example.org> <m1@example.org>", out.References)
	assert.Equal(t, []string{"jane@example.org", "boss@example.com"}, out.Recipients)
	assert.Equal(t, ModeStartTLS, out.Mode)
}

func TestCompose_OmitsEmptyThreading(t *testing.T) {
	transport := testTransport
	transport.Port = 465

	out, err := Compose(Request{
		To:         "jane@example.org",
		Subject:    "hello",
		References: "<root@example.org>",
	}, transport)
	require.NoError(t, err)

	assert.Empty(t, out.InReplyTo)
	assert.Equal(t, "<root@example.org>", out.References)
	assert.Equal(t, []string{"jane@example.org"}, out.Recipients)
	assert.Equal(t, ModeImplicitTLS, out.Mode)

	raw, err := out.Bytes(RenderOptions{})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "In-Reply-To")
	assert.Contains(t, string(raw), "References: <root@example.org>")
}

func TestCompose_Errors(t *testing.T) {
	_, err := Compose(Request{To: "  "}, testTransport)
	assert.ErrorIs(t, err, ErrNoRecipient)

	_, err = Compose(Request{To: "a@example.com"}, TransportConfig{Port: 587})
	assert.ErrorIs(t, err, ErrNoFrom)
}

func TestCompose_Deterministic(t *testing.T) {
	req := Request{To: "a@example.com", Subject: "x", Body: "y", InReplyTo: "<1@x>"}
	first, err := Compose(req, testTransport)
	require.NoError(t, err)
	second, err := Compose(req, testTransport)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFromCanonical(t *testing.T) {
	msg := model.CanonicalMessage{
		MessageID:  "<m2@example.org>",
		References: "<m0@example.org> <m1@example.org>",
		FromName:   "Jane",
		FromEmail:  "jane@example.org",
		ReplyTo:    "replies@example.org",
		Subject:    "Re: planning",
	}

	req := FromCanonical(msg, "body", "cc@example.com")
	assert.Equal(t, Request{
		To:         "replies@example.org",
		Cc:         "cc@example.com",
		Subject:    "Re: planning",
		Body:       "body",
		InReplyTo:  "<m2@example.org>",
		References: "<m0@example.org> <m1@example.org> <m2@example.org>",
	}, req)
}

func TestThreadReferences(t *testing.T) {
	assert.Equal(t, "", threadReferences("", ""))
	assert.Equal(t, "<a@x>", threadReferences("", "<a@x>"))
	assert.Equal(t, "<r@x>", threadReferences("<r@x>", ""))
	assert.Equal(t, "<r@x> <a@x>", threadReferences("<r@x>", "<a@x>"))
	assert.Equal(t, "<r@x> <a@x>", threadReferences("<r@x> <a@x>", "<a@x>"))
}
