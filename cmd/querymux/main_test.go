package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	batch "github.com/hanpama/querymux/internal/batch"
)

func TestRun_MissingCommand(t *testing.T) {
	require.Error(t, run(nil))
	require.Error(t, run([]string{"bogus"}))
}

func TestHelp(t *testing.T) {
	require.NoError(t, run([]string{"help"}))
	require.NoError(t, run([]string{"help", "serve"}))
	require.Error(t, run([]string{"help", "bogus"}))
}

func TestServe_RequiresEndpoint(t *testing.T) {
	require.Error(t, run([]string{"serve"}))
}

func TestHeaderFlag(t *testing.T) {
	var h headerFlag
	require.NoError(t, h.Set("Authorization=Bearer tok"))
	require.NoError(t, h.Set("X-Tenant=acme=prod"))
	require.Error(t, h.Set("novalue"))
	require.Error(t, h.Set("=x"))
	require.Equal(t, [][2]string{
		{"Authorization", "Bearer tok"},
		{"X-Tenant", "acme=prod"},
	}, h.pairs)
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]batch.UnattributedPolicy{
		"last": batch.AttachToLast,
		"all":  batch.BroadcastAll,
		"drop": batch.Drop,
	} {
		got, err := parsePolicy(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := parsePolicy("sideways")
	require.Error(t, err)
}
