package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialKey(t *testing.T) {
	key, err := credentialKey("IMAP", " me@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "imap:me@example.com", key)

	key, err = credentialKey("smtp", "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "smtp:me@example.com", key)

	_, err = credentialKey("pop3", "me@example.com")
	assert.Error(t, err)
	_, err = credentialKey("imap", " ")
	assert.Error(t, err)
}

func TestReadSecret(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})

	cmd.SetIn(strings.NewReader("hunter2\r\n"))
	secret, err := readSecret(cmd)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)

	cmd.SetIn(strings.NewReader("no-newline"))
	secret, err = readSecret(cmd)
	require.NoError(t, err)
	assert.Equal(t, "no-newline", secret)

	cmd.SetIn(strings.NewReader(""))
	_, err = readSecret(cmd)
	assert.Error(t, err)
}
