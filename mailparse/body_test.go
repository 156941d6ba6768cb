package mailparse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntity(t *testing.T, raw string) *message.Entity {
	t.Helper()
	entity, err := message.Read(bytes.NewReader([]byte(raw)))
	if err != nil {
		require.True(t, isRecoverable(err), "unexpected error: %v", err)
	}
	return entity
}

func TestExtractBody_SinglePart(t *testing.T) {
	raw := "From: a@x.com\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nHello there\r\n"
	assert.Equal(t, "Hello there\r\n", ExtractBody(readEntity(t, raw)))
}

func TestExtractBody_SkipsAttachment(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@x.com",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain",
		`Content-Disposition: attachment; filename="notes.txt"`,
		"",
		"attachment text",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"the real body",
		"--b1--",
		"",
	}, "\r\n")

	assert.Equal(t, "the real body", ExtractBody(readEntity(t, raw)))
}

func TestExtractBody_NestedAlternative(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@x.com",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>html</p>",
		"--inner",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Caf=E9",
		"--inner--",
		"--outer",
		"Content-Type: text/plain",
		"",
		"second plain part",
		"--outer--",
		"",
	}, "\r\n")

	assert.Equal(t, "Café", ExtractBody(readEntity(t, raw)))
}

func TestExtractBody_MultipartWithoutPlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@x.com",
		`Content-Type: multipart/alternative; boundary="b"`,
		"",
		"--b",
		"Content-Type: text/html",
		"",
		"<p>only html</p>",
		"--b--",
		"",
	}, "\r\n")

	assert.Equal(t, "", ExtractBody(readEntity(t, raw)))
}

func TestExtractBody_InvalidBytesReplaced(t *testing.T) {
	raw := "From: a@x.com\r\nContent-Type: text/plain\r\n\r\nok \xff\xfe done"
	body := ExtractBody(readEntity(t, raw))
	assert.True(t, strings.HasPrefix(body, "ok "))
	assert.Contains(t, body, replacementChar)
	assert.True(t, strings.HasSuffix(body, " done"))
}

func TestExtractBody_Base64(t *testing.T) {
	raw := "From: a@x.com\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: base64\r\n\r\nSGVsbG8gV29ybGQ=\r\n"
	assert.Equal(t, "Hello World", ExtractBody(readEntity(t, raw)))
}

func TestExtractBody_MultipartWithoutBoundary(t *testing.T) {
	raw := "From: a@x.com\r\nContent-Type: multipart/mixed\r\n\r\nbody"
	assert.Equal(t, "body", ExtractBody(readEntity(t, raw)))

	msg, err := Normalize([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "body", msg.Body)
}

func TestExtractBody_Nil(t *testing.T) {
	assert.Equal(t, "", ExtractBody(nil))
}
