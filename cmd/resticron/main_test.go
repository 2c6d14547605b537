package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/MacJediWizard/resticron/internal/config"
	"github.com/MacJediWizard/resticron/internal/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Str("task_id", "abc").Msg("kept")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "abc", entry["task_id"])
	assert.Equal(t, Version, entry["version"])
}

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "", Format: "json"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "version", "keygen"}, names)
}

func TestKeygenCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})

	require.NoError(t, root.Execute())

	_, err := crypto.NewSecretBoxFromBase64(strings.TrimSpace(out.String()))
	assert.NoError(t, err)
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "resticron "+Version)
}
