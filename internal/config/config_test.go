package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hkarim/crdtstore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  node_id: n1\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9042, cfg.Server.Port)
	assert.Equal(t, cfg.Cluster.Replicas, cfg.Cluster.WriteQuorum)
	assert.Equal(t, "constant", cfg.Discovery.Kind)
}

func TestLoadRejectsMissingNodeID(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9042\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "node_id")
}

func TestLoadRejectsQuorumAboveReplicas(t *testing.T) {
	path := writeConfig(t, "server:\n  node_id: n1\ncluster:\n  replicas: 3\n  write_quorum: 5\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "write_quorum")
}

func TestLoadRejectsUnknownDiscoveryKind(t *testing.T) {
	path := writeConfig(t, "server:\n  node_id: n1\ndiscovery:\n  kind: magic\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "discovery.kind")
}

func TestLoadDefaultsQuorumPolicyToStrict(t *testing.T) {
	path := writeConfig(t, "server:\n  node_id: n1\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Cluster.QuorumPolicy)
}

func TestLoadRejectsUnknownQuorumPolicy(t *testing.T) {
	path := writeConfig(t, "server:\n  node_id: n1\ncluster:\n  quorum_policy: eventual\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "quorum_policy")
}

func TestLoadDefaultsWALHandoffWorkers(t *testing.T) {
	path := writeConfig(t, "server:\n  node_id: n1\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WAL.HandoffWorkers)
}
