package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.graphql")
	sdl := `type Product @key(fields: "sku") {
	sku: ID!
	name: String!
}
`
	require.NoError(t, os.WriteFile(path, []byte(sdl), 0644))
	return path
}

func TestHelpUnknownTopic(t *testing.T) {
	require.Error(t, run([]string{"help", "nope"}))
}

func TestMissingCommand(t *testing.T) {
	require.Error(t, run(nil))
}

func TestComposeSDL(t *testing.T) {
	out := filepath.Join(t.TempDir(), "composed.graphql")
	err := run([]string{"compose-sdl", "-graphql.schema", writeSchema(t), "-out", out})
	require.NoError(t, err)

	composed, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(composed), "union _Entity = Product")
	require.Contains(t, string(composed), "_service: _Service!")
}

func TestComposeServiceSDL(t *testing.T) {
	out := filepath.Join(t.TempDir(), "service.graphql")
	err := run([]string{"compose-sdl", "-graphql.schema", writeSchema(t), "-service", "-out", out})
	require.NoError(t, err)

	serviceSDL, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(serviceSDL), "@key")
	require.NotContains(t, string(serviceSDL), "_Service")
}

func TestComposeSDLRequiresSchema(t *testing.T) {
	require.Error(t, run([]string{"compose-sdl"}))
}

func TestSignQueryRequiresFlags(t *testing.T) {
	require.Error(t, run([]string{"sign-query"}))
}
