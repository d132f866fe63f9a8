package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengxv/solo/internal/network"
)

const sampleYAML = `
rpc_timeout_ms: 2500
connect_timeout_ms: 1500
retry_interval_ms: 500
nodes:
  - type: 0
    name: game
    instances:
      - id: 0
        host: 127.0.0.1
        port: 9001
        servlets: [1, 2]
      - id: 1
        host: 127.0.0.1
        port: 9002
        servlets: [2]
    ap_instances:
      - id: 0
        host: 127.0.0.1
        port: 9100
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoad_ParsesNodesAndInstances(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	require.NoError(t, err)

	require.Len(t, f.Nodes, 1)
	node := f.Nodes[0]
	assert.Equal(t, "game", node.Name)
	require.Len(t, node.Instances, 2)
	assert.Equal(t, []uint16{1, 2}, node.Instances[0].Servlets)
	require.Len(t, node.APInstances, 1)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNetworkConfig_MapsTimeouts(t *testing.T) {
	f := &File{RPCTimeoutMS: 111, ConnectTimeoutMS: 222, RetryIntervalMS: 333}
	cfg := f.NetworkConfig()
	assert.Equal(t, network.Config{RPCTimeoutMS: 111, ConnectTimeoutMS: 222, RetryIntervalMS: 333}, cfg)
}

func TestPopulate_BuildsServletTableFromInstances(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	require.NoError(t, err)

	n := network.New(f.NetworkConfig(), nil, nil, nil, nil, nil)
	Populate(n, f)

	require.Len(t, n.Nodes(), 1)
	node := n.Nodes()[0]
	require.Len(t, node.Instances, 2)
	assert.True(t, node.Instances[0].HostsServlet(1))
	assert.True(t, node.Instances[1].HostsServlet(2))
	assert.False(t, node.Instances[1].HostsServlet(1))
	require.Len(t, node.APInstances, 1)
	assert.True(t, node.APInstances[0].IsAP)
}
