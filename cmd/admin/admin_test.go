package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags undoes flag values left by an earlier Execute in this process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runAdmin(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--env_file", filepath.Join(dir, "missing.env"),
		"--db", filepath.Join(dir, "admin.sqlite"),
	}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAdminBoardAndPreferences(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RW_CACHE_BACKEND", "sqlite")

	_, err := runAdmin(t, dir, "board", "assign", "G1", "red", "3", "4", "--pre_placed", "RAIL_1")
	require.NoError(t, err)
	out, err := runAdmin(t, dir, "board", "show", "G1", "RED")
	require.NoError(t, err)
	assert.Contains(t, out, `"prePlaced": "RAIL_1"`)

	out, err = runAdmin(t, dir, "contracts", "add", "G1", "1", "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	assert.Contains(t, out, "tracking 1:0x00000000000000000000000000000000000000aa for G1")
	out, err = runAdmin(t, dir, "contracts", "list")
	require.NoError(t, err)
	assert.Equal(t, "G1\t1\t0x00000000000000000000000000000000000000aa\n", out)

	_, err = runAdmin(t, dir, "prefs", "set", "train_speed", "--num", "2.5")
	require.NoError(t, err)
	out, err = runAdmin(t, dir, "prefs", "get", "train_speed")
	require.NoError(t, err)
	assert.Contains(t, out, `"numValue": 2.5`)

	_, err = runAdmin(t, dir, "enemy", "expand", "missing", "SIDEWAYS")
	require.Error(t, err)
}

func TestParseAttributes(t *testing.T) {
	got, err := parseAttributes([]string{"speed=3", "name=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"speed": "3", "name": "a=b"}, got)

	_, err = parseAttributes([]string{"novalue"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "KEY=VALUE"))
}

func TestAdminRefusesEditsWithoutSharedCache(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RW_CACHE_BACKEND", "memory")

	_, err := runAdmin(t, dir, "board", "assign", "G1", "RED", "1", "1", "--item", "MOUNTAIN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared sqlite cache")
	_, err = runAdmin(t, dir, "prefs", "set", "speed", "--bool")
	require.Error(t, err)

	out, err := runAdmin(t, dir, "board", "show", "G1", "RED")
	require.NoError(t, err, "reads work with any backend")
	assert.Equal(t, "[]\n", out, "nothing was written")
}

func TestAdminErrorLineCarriesCode(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RW_CACHE_BACKEND", "sqlite")

	_, err := runAdmin(t, dir, "board", "assign", "G1", "RED", "99", "1", "--item", "MOUNTAIN")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(errorLine(err), "Error [E_OUT_OF_BOUNDS]: "), errorLine(err))

	_, err = runAdmin(t, dir, "board", "show", "G1")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(errorLine(err), "Error: "), "usage errors carry no code")
}
