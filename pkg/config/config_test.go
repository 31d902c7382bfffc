package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
apiVersion: eventstore/v1
kind: Node
metadata:
  name: node-1
spec: {}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.Metadata.Name)
	assert.Equal(t, "127.0.0.1:2113", cfg.Spec.BindAddr)
	assert.Equal(t, "./data", cfg.Spec.DataDir)
	assert.Equal(t, "info", cfg.Spec.Log.Level)
	assert.Equal(t, "127.0.0.1:2114", cfg.Spec.Metrics.BindAddr)
}

func TestLoadRejectsWrongKind(t *testing.T) {
	path := writeConfig(t, `
kind: Service
metadata:
  name: node-1
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestServerConfigTranslatesWriteMode(t *testing.T) {
	path := writeConfig(t, `
metadata:
  name: node-1
spec:
  dataDir: /var/lib/eventstore
  store:
    writeMode: batched
    maxChunkSizeBytes: 1048576
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	sc := cfg.ServerConfig()
	assert.Equal(t, "node-1", sc.NodeID)
	assert.Equal(t, "/var/lib/eventstore", sc.DataDir)
	assert.Equal(t, txlog.WriteBatched, sc.WriteMode)
	assert.Equal(t, uint64(1048576), sc.MaxChunkSize)
}
