package config

import (
	"fmt"
	"os"

	"github.com/cuemby/eventstore/pkg/logging"
	"github.com/cuemby/eventstore/pkg/server"
	"github.com/cuemby/eventstore/pkg/subscribe"
	"github.com/cuemby/eventstore/pkg/txlog"
	"gopkg.in/yaml.v3"
)

// NodeConfig is the on-disk YAML configuration for a single eventstored
// node: its identity, storage layout, and the handful of tunables each
// core component exposes.
type NodeConfig struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   NodeMetadata   `yaml:"metadata"`
	Spec       NodeConfigSpec `yaml:"spec"`
}

// NodeMetadata names the node being configured.
type NodeMetadata struct {
	Name string `yaml:"name"`
}

// NodeConfigSpec is the body of a NodeConfig.
type NodeConfigSpec struct {
	BindAddr  string        `yaml:"bindAddr"`
	DataDir   string        `yaml:"dataDir"`
	Log       LogSpec       `yaml:"log"`
	Store     StoreSpec     `yaml:"store"`
	Subscribe SubscribeSpec `yaml:"subscribe"`
	Metrics   MetricsSpec   `yaml:"metrics"`
}

// LogSpec configures logging.Config.
type LogSpec struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"jsonOutput"`
}

// StoreSpec configures the chunked transaction log.
type StoreSpec struct {
	MaxChunkSizeBytes uint64 `yaml:"maxChunkSizeBytes"`
	WriteMode         string `yaml:"writeMode"` // "synchronous" or "batched"
}

// SubscribeSpec configures the subscription dispatcher.
type SubscribeSpec struct {
	QueueSize        int `yaml:"queueSize"`
	CatchUpBatchSize int `yaml:"catchUpBatchSize"`
	CheckpointEvery  int `yaml:"checkpointEvery"`
}

// MetricsSpec configures the Prometheus/health HTTP listener.
type MetricsSpec struct {
	BindAddr string `yaml:"bindAddr"`
}

// Load reads and parses a NodeConfig from a YAML file.
func Load(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Kind != "" && cfg.Kind != "Node" {
		return NodeConfig{}, fmt.Errorf("config: unsupported kind %q, expected Node", cfg.Kind)
	}
	return cfg.withDefaults(), nil
}

func (c NodeConfig) withDefaults() NodeConfig {
	if c.Spec.BindAddr == "" {
		c.Spec.BindAddr = "127.0.0.1:2113"
	}
	if c.Spec.DataDir == "" {
		c.Spec.DataDir = "./data"
	}
	if c.Spec.Log.Level == "" {
		c.Spec.Log.Level = "info"
	}
	if c.Spec.Metrics.BindAddr == "" {
		c.Spec.Metrics.BindAddr = "127.0.0.1:2114"
	}
	return c
}

// LoggingConfig converts the parsed LogSpec into a logging.Config.
func (c NodeConfig) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      logging.Level(c.Spec.Log.Level),
		JSONOutput: c.Spec.Log.JSONOutput,
	}
}

// ServerConfig converts the parsed spec into a server.Config, resolving
// the node identity from Metadata.Name.
func (c NodeConfig) ServerConfig() server.Config {
	writeMode := txlog.WriteSynchronous
	if c.Spec.Store.WriteMode == "batched" {
		writeMode = txlog.WriteBatched
	}
	return server.Config{
		NodeID:       c.Metadata.Name,
		BindAddr:     c.Spec.BindAddr,
		DataDir:      c.Spec.DataDir,
		MaxChunkSize: c.Spec.Store.MaxChunkSizeBytes,
		WriteMode:    writeMode,
		Subscribe: subscribe.Config{
			QueueSize:        c.Spec.Subscribe.QueueSize,
			CatchUpBatchSize: c.Spec.Subscribe.CatchUpBatchSize,
			CheckpointEvery:  c.Spec.Subscribe.CheckpointEvery,
		},
	}
}
