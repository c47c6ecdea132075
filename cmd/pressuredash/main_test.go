package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jes/pressuredash/internal/config"
	"github.com/jes/pressuredash/internal/transport"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "pressuredash dev\n", out.String())
}

func TestServeFlagsReachConfig(t *testing.T) {
	cmd := newServeCmd()
	for name := range config.FlagKeys {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s", name)
	}

	require.NoError(t, cmd.Flags().Parse([]string{"--transport", "sim", "--addr", "127.0.0.1:0"}))
	cfg, err := config.Load(t.TempDir(), cmd.Flags())
	require.NoError(t, err)
	assert.Equal(t, transport.KindSim, cfg.Transport.Kind)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Addr)
}
