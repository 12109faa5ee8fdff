// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the orchestrator's configuration.
//
// Configuration can come from a local YAML file or from a remote KV store
// (etcd, consul, zookeeper) so a fleet of engine processes can share one
// source of truth and pick up changes without a restart.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the orchestration engine.
type Config struct {
	Logger       LoggerConfig       `yaml:"logger,omitempty"`
	StateStore   StateStoreConfig   `yaml:"state_store,omitempty"`
	MessageFabric MessageFabricConfig `yaml:"message_fabric,omitempty"`
	CacheReuse   CacheReuseConfig   `yaml:"cache_reuse,omitempty"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// StateStoreConfig selects and configures the task State Store backend.
type StateStoreConfig struct {
	// Backend is "file" or "etcd". Default: "file".
	Backend string `yaml:"backend,omitempty"`

	// Dir is the directory used by the file backend to persist
	// "<task_id>_current.json" and "<task_id>_history.json".
	Dir string `yaml:"dir,omitempty"`

	// Endpoints lists etcd endpoints for the etcd backend.
	Endpoints []string `yaml:"endpoints,omitempty"`

	// KeyPrefix namespaces keys within etcd (default "tasks/").
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// DialTimeout bounds the initial connection to a remote backend.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`

	// FallbackToFile allows the engine to fall back to the file backend
	// when the remote backend cannot be reached at startup.
	FallbackToFile bool `yaml:"fallback_to_file,omitempty"`
}

// MessageFabricConfig selects and configures the pub/sub Message Fabric backend.
type MessageFabricConfig struct {
	// Backend is one of "memory", "broadcast", or "etcd". Default: "memory".
	Backend string `yaml:"backend,omitempty"`

	// BroadcastAddr is the UDP/TCP address the broadcast backend binds to
	// (e.g. "localhost:7946") for same-host multi-process fan-out.
	BroadcastAddr string `yaml:"broadcast_addr,omitempty"`

	// Endpoints lists etcd endpoints when Backend is "etcd".
	Endpoints []string `yaml:"endpoints,omitempty"`

	// KeyPrefix namespaces pub/sub topics within etcd (default "topics/").
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// ProgressTopic and StatusTopic override the default topic names used
	// to publish ProgressMessage and StatusMessage events.
	ProgressTopic string `yaml:"progress_topic,omitempty"`
	StatusTopic   string `yaml:"status_topic,omitempty"`
}

// CacheReuseConfig controls the Result-Reuse Cache's default behavior.
// Per-task overrides (see task.Params.CacheReuseMode) take precedence.
type CacheReuseConfig struct {
	// Mode is "false" (disabled), "true" (all nodes), or a comma-separated
	// list of node names to reuse cached results for.
	Mode string `yaml:"mode,omitempty"`

	// SleepMin and SleepMax bound the emulated-execution delay (seconds)
	// applied when a cached result is spliced in, so a cache hit still
	// "feels" like real work to anything polling progress.
	SleepMin float64 `yaml:"sleep_min,omitempty"`
	SleepMax float64 `yaml:"sleep_max,omitempty"`
}

// CheckpointConfig controls where and how often task checkpoints are saved.
type CheckpointConfig struct {
	Dir         string        `yaml:"dir,omitempty"`
	MaxAge      time.Duration `yaml:"max_age,omitempty"`
	SaveOnPause bool          `yaml:"save_on_pause,omitempty"`
}

// ObservabilityConfig controls the Prometheus metrics endpoint.
type ObservabilityConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// SetDefaults fills in zero-valued fields with the engine's defaults.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()

	if c.StateStore.Backend == "" {
		c.StateStore.Backend = "file"
	}
	if c.StateStore.Dir == "" {
		c.StateStore.Dir = "./data/task_states"
	}
	if c.StateStore.KeyPrefix == "" {
		c.StateStore.KeyPrefix = "tasks/"
	}
	if c.StateStore.DialTimeout == 0 {
		c.StateStore.DialTimeout = 5 * time.Second
	}

	if c.MessageFabric.Backend == "" {
		c.MessageFabric.Backend = "memory"
	}
	if c.MessageFabric.KeyPrefix == "" {
		c.MessageFabric.KeyPrefix = "topics/"
	}
	if c.MessageFabric.ProgressTopic == "" {
		c.MessageFabric.ProgressTopic = "analysis.progress"
	}
	if c.MessageFabric.StatusTopic == "" {
		c.MessageFabric.StatusTopic = "analysis.status"
	}

	if c.CacheReuse.Mode == "" {
		c.CacheReuse.Mode = "false"
	}
	if c.CacheReuse.SleepMin == 0 {
		c.CacheReuse.SleepMin = 2.0
	}
	if c.CacheReuse.SleepMax == 0 {
		c.CacheReuse.SleepMax = 10.0
	}

	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "./data/checkpoints"
	}
	if c.Checkpoint.MaxAge == 0 {
		c.Checkpoint.MaxAge = 24 * time.Hour
	}

	if c.Observability.Addr == "" {
		c.Observability.Addr = ":9090"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	switch c.StateStore.Backend {
	case "file", "etcd", "memory":
	default:
		return fmt.Errorf("state_store: unsupported backend %q (valid: file, etcd, memory)", c.StateStore.Backend)
	}
	if c.StateStore.Backend == "etcd" && len(c.StateStore.Endpoints) == 0 {
		return fmt.Errorf("state_store: etcd backend requires endpoints")
	}

	switch c.MessageFabric.Backend {
	case "memory", "broadcast", "etcd":
	default:
		return fmt.Errorf("message_fabric: unsupported backend %q (valid: memory, broadcast, etcd)", c.MessageFabric.Backend)
	}
	if c.MessageFabric.Backend == "broadcast" && c.MessageFabric.BroadcastAddr == "" {
		return fmt.Errorf("message_fabric: broadcast backend requires broadcast_addr")
	}
	if c.MessageFabric.Backend == "etcd" && len(c.MessageFabric.Endpoints) == 0 {
		return fmt.Errorf("message_fabric: etcd backend requires endpoints")
	}

	if c.CacheReuse.SleepMin < 0 || c.CacheReuse.SleepMax < 0 {
		return fmt.Errorf("cache_reuse: sleep bounds must be non-negative")
	}
	if c.CacheReuse.SleepMin > c.CacheReuse.SleepMax {
		return fmt.Errorf("cache_reuse: sleep_min (%v) exceeds sleep_max (%v)", c.CacheReuse.SleepMin, c.CacheReuse.SleepMax)
	}

	return nil
}

// ParseCacheReuseMode expands a cache-reuse mode string (as found in
// CacheReuseConfig.Mode or a per-task override) into a per-node enable set.
// A bare "true" enables every node via the "all" key; a comma-separated
// list of node or alias names enables only those nodes.
func ParseCacheReuseMode(mode string) map[string]bool {
	mode = strings.ToLower(strings.TrimSpace(mode))

	result := map[string]bool{}
	switch mode {
	case "", "false":
		return result
	case "true":
		result["all"] = true
		return result
	}

	for _, raw := range strings.Split(mode, ",") {
		node := strings.TrimSpace(raw)
		if node == "" {
			continue
		}
		result[normalizeCacheNodeName(node)] = true
	}
	return result
}

// cacheNodeAliases maps shorthand node names (as accepted in config and
// task requests) to their canonical pipeline node names.
var cacheNodeAliases = map[string]string{
	"market":          "market_analyst",
	"fundamentals":    "fundamentals_analyst",
	"news":            "news_analyst",
	"social":          "social_media_analyst",
	"bull":            "bull_researcher",
	"bear":            "bear_researcher",
	"risky":           "risky_analyst",
	"safe":            "safe_analyst",
	"neutral":         "neutral_analyst",
	"risk_judge":      "risk_manager",
}

func normalizeCacheNodeName(node string) string {
	if canonical, ok := cacheNodeAliases[node]; ok {
		return canonical
	}
	return node
}
