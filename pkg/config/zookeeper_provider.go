package config

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/kadirpekel/tradepipe/pkg/logger"
)

type ZookeeperProvider struct {
	conn      *zk.Conn
	path      string
	endpoints []string
}

func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}

	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{
		conn:      conn,
		path:      path,
		endpoints: endpoints,
	}, nil
}

func (p *ZookeeperProvider) ReadBytes() ([]byte, error) {

	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read from zookeeper path %s: %w", p.path, err)
	}

	return data, nil
}

// Watch long-polls the engine's znode for config changes, invoking
// callback on every data change so a running engine can pick up a new
// analyst roster or pipeline timing without a restart. Every iteration
// is logged with the watched path so a stuck or flapping watch shows up
// against the rest of an engine process's structured log output.
func (p *ZookeeperProvider) Watch(callback func(event interface{}, err error)) error {
	log := logger.GetLogger().With("component", "config.zookeeper", "path", p.path)

	for {
		data, _, eventCh, err := p.conn.GetW(p.path)
		if err != nil {
			log.Warn("failed to arm zookeeper watch", "error", err)
			callback(nil, fmt.Errorf("failed to watch zookeeper path %s: %w", p.path, err))
			continue
		}

		event := <-eventCh

		switch event.Type {
		case zk.EventNodeDataChanged:
			log.Info("zookeeper config node changed, reloading")
			callback(data, nil)
		case zk.EventNodeDeleted:
			log.Warn("zookeeper config node deleted, stopping watch")
			callback(nil, fmt.Errorf("zookeeper node %s was deleted", p.path))
			return nil
		case zk.EventNotWatching:
			log.Warn("zookeeper watch lost")
			callback(nil, fmt.Errorf("zookeeper watch lost for path %s", p.path))
			return nil
		}
	}
}

func (p *ZookeeperProvider) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
