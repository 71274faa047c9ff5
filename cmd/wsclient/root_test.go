package main

import (
	"encoding/json"
	"testing"

	"wsclient/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverridesOnlyChangedFlags(t *testing.T) {
	cmd := publishCmd
	require.NoError(t, rootCmd.PersistentFlags().Parse([]string{"--url", "wss://host/ws", "--sockjs"}))
	t.Cleanup(func() {
		flags = rootFlags{}
		for _, name := range []string{"url", "sockjs"} {
			rootCmd.PersistentFlags().Lookup(name).Changed = false
		}
	})

	values := overrides(cmd)
	assert.Equal(t, "wss://host/ws", values[config.KeyBaseURL])
	assert.Equal(t, true, values[config.KeySockJS])
	assert.NotContains(t, values, config.KeyAccessToken)
	assert.NotContains(t, values, config.KeyPath)
}

func TestBody(t *testing.T) {
	assert.Equal(t, json.RawMessage(`{"a":1}`), body(`{"a":1}`))
	assert.Equal(t, json.RawMessage(`42`), body(`42`))
	assert.Equal(t, "hello world", body("hello world"))
}
