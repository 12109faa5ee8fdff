package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// zookeeperEndpoints returns the test ZooKeeper ensemble configured via
// ZOOKEEPER_TEST_ENDPOINTS, or skips the test if it isn't set. ZooKeeper
// has no in-process fake, so this integration test only runs when a real
// ensemble is reachable (e.g. in CI with a zookeeper service container).
func zookeeperEndpoints(t *testing.T) []string {
	t.Helper()
	raw := os.Getenv("ZOOKEEPER_TEST_ENDPOINTS")
	if raw == "" {
		t.Skip("ZOOKEEPER_TEST_ENDPOINTS not set, skipping zookeeper integration test")
	}
	return strings.Split(raw, ",")
}

func TestZookeeperProviderReadsBytes(t *testing.T) {
	endpoints := zookeeperEndpoints(t)
	path := "/hector-test/engine-config"

	require.NoError(t, setupZookeeperNode(endpoints, path, []byte("state_store:\n  backend: file\n")))
	t.Cleanup(func() { _ = deleteZookeeperNode(endpoints, path) })

	provider, err := NewZookeeperProvider(endpoints, path)
	require.NoError(t, err)
	defer provider.Close()

	data, err := provider.ReadBytes()
	require.NoError(t, err)
	require.Contains(t, string(data), "backend: file")
}

func TestLoaderLoadsZookeeperBackend(t *testing.T) {
	endpoints := zookeeperEndpoints(t)
	path := "/hector-test/engine-config-loader"

	require.NoError(t, setupZookeeperNode(endpoints, path, []byte("message_fabric:\n  backend: memory\n")))
	t.Cleanup(func() { _ = deleteZookeeperNode(endpoints, path) })

	cfg, err := LoadConfig(LoaderOptions{
		Type:      ConfigTypeZookeeper,
		Path:      path,
		Endpoints: endpoints,
	})
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.MessageFabric.Backend)
}
