package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"TableName": "users", "Limit": 5}`)
	require.NoError(t, err)
	assert.Equal(t, "users", params["TableName"])
	assert.Equal(t, 5, params["Limit"])

	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("QueueUrl: https://sqs/q\nAttributeNames:\n  - All\n"), 0644))
	params, err = parseParams("@" + path)
	require.NoError(t, err)
	assert.Equal(t, []any{"All"}, params["AttributeNames"])

	_, err = parseParams("@" + filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = parseParams("[1, 2")
	assert.Error(t, err)
}

func TestCommandFlagsVerifySSL(t *testing.T) {
	flags := commandFlags()
	_, ok := flags["verify-ssl"]
	assert.False(t, ok)

	require.NoError(t, rootCmd.PersistentFlags().Set("no-verify-ssl", "true"))
	t.Cleanup(func() { noVerifySSL = false })

	flags = commandFlags()
	assert.Equal(t, false, flags["verify-ssl"])
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "***", mask("short"))
	assert.Equal(t, "wJal...EKEY", mask("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"))
}
