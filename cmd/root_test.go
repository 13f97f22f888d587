package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointaudio/pointaudio/internal/buildinfo"
	"github.com/pointaudio/pointaudio/internal/conf"
)

func TestRootCommandWiring(t *testing.T) {
	settings := &conf.Settings{}
	root := RootCommand(settings, buildinfo.NewContext("1.0.0", "2026-10-01", "test"))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"play", "simulate", "run", "banks"})
	assert.Equal(t, "1.0.0 (built 2026-10-01)", root.Version)
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
	assert.NotNil(t, root.PersistentFlags().Lookup("backend"))
}

func TestBanksSkipsInitialization(t *testing.T) {
	settings := &conf.Settings{}
	root := RootCommand(settings, buildinfo.NewContext("1.0.0", "", "test"))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"banks", "banks/testdata/ui.yaml"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "event:/UI/Hover")
}
