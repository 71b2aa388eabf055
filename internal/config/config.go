// Package config loads the node's YAML configuration file, following the
// shape of storage-node/internal/config/config.go: one struct per concern,
// yaml tags, defaults filled in after unmarshal, then validated.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the node's own identity and RPC listener (C9).
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"max_connections"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WALConfig configures the write-ahead log (C2).
type WALConfig struct {
	Dir            string        `yaml:"dir"`
	SegmentSize    int64         `yaml:"segment_size"`
	SyncWrites     bool          `yaml:"sync_writes"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	HandoffWorkers int           `yaml:"handoff_workers"`
}

// StorageConfig configures the local keyed store (C3).
type StorageConfig struct {
	Dir             string        `yaml:"dir"`
	MaxDiskUsage    float64       `yaml:"max_disk_usage"`
	ChunkSize       int           `yaml:"chunk_size"`
	ExtractInterval time.Duration `yaml:"extract_interval"`
	Compress        bool          `yaml:"compress"`
}

// ClusterConfig configures partitioning and quorum (C5, C6). QuorumPolicy
// is "strict" (writes need WriteQuorum acks, defaulting to R) or "majority"
// (writes need floor(R/2)+1 acks instead of WriteQuorum). ReadQuorum sets
// the download failure tolerance under both policies, and QuorumStatus and
// Validate use WriteQuorum regardless of policy.
type ClusterConfig struct {
	Replicas      int           `yaml:"replicas"`
	WriteQuorum   int           `yaml:"write_quorum"`
	ReadQuorum    int           `yaml:"read_quorum"`
	QuorumPolicy  string        `yaml:"quorum_policy"`
	DeadCooldown  time.Duration `yaml:"dead_cooldown"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// DiscoveryConfig selects and configures a discovery backend (C7).
type DiscoveryConfig struct {
	Kind           string        `yaml:"kind"` // "constant" or "gossip"
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
}

// RepairConfig configures the anti-entropy loop (C8).
type RepairConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

// TransportConfig configures the framed streaming transport (C1).
type TransportConfig struct {
	Compression bool `yaml:"compression"`
	FrameLimit  int  `yaml:"frame_limit"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete node configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WAL       WALConfig       `yaml:"wal"`
	Storage   StorageConfig   `yaml:"storage"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Repair    RepairConfig    `yaml:"repair"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9042
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = "/var/lib/crdtstore/wal"
	}
	if cfg.WAL.SegmentSize == 0 {
		cfg.WAL.SegmentSize = 64 << 20
	}
	if cfg.WAL.FlushInterval == 0 {
		cfg.WAL.FlushInterval = time.Second
	}
	if cfg.WAL.HandoffWorkers == 0 {
		cfg.WAL.HandoffWorkers = 4
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "/var/lib/crdtstore/data"
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.9
	}
	if cfg.Storage.ChunkSize == 0 {
		cfg.Storage.ChunkSize = 4 << 20
	}
	if cfg.Storage.ExtractInterval == 0 {
		cfg.Storage.ExtractInterval = time.Minute
	}

	if cfg.Cluster.Replicas == 0 {
		cfg.Cluster.Replicas = 3
	}
	if cfg.Cluster.QuorumPolicy == "" {
		cfg.Cluster.QuorumPolicy = "strict"
	}
	if cfg.Cluster.WriteQuorum == 0 {
		cfg.Cluster.WriteQuorum = cfg.Cluster.Replicas
	}
	if cfg.Cluster.ReadQuorum == 0 {
		cfg.Cluster.ReadQuorum = cfg.Cluster.Replicas
	}
	if cfg.Cluster.DeadCooldown == 0 {
		cfg.Cluster.DeadCooldown = 30 * time.Second
	}
	if cfg.Cluster.ProbeInterval == 0 {
		cfg.Cluster.ProbeInterval = 5 * time.Second
	}
	if cfg.Cluster.ProbeTimeout == 0 {
		cfg.Cluster.ProbeTimeout = 2 * time.Second
	}

	if cfg.Discovery.Kind == "" {
		cfg.Discovery.Kind = "constant"
	}
	if cfg.Discovery.GossipInterval == 0 {
		cfg.Discovery.GossipInterval = 5 * time.Second
	}

	if cfg.Repair.Interval == 0 {
		cfg.Repair.Interval = time.Minute
	}
	if cfg.Repair.Workers == 0 {
		cfg.Repair.Workers = 4
	}

	if cfg.Transport.FrameLimit == 0 {
		cfg.Transport.FrameLimit = 16 << 20
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field invariants the YAML unmarshal step can't
// express, mirroring storage-node's config.Validate.
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be between 0 and 1")
	}
	if c.Cluster.WriteQuorum < 1 || c.Cluster.WriteQuorum > c.Cluster.Replicas {
		return fmt.Errorf("cluster.write_quorum must be between 1 and cluster.replicas")
	}
	if c.Cluster.ReadQuorum < 1 || c.Cluster.ReadQuorum > c.Cluster.Replicas {
		return fmt.Errorf("cluster.read_quorum must be between 1 and cluster.replicas")
	}
	if c.Discovery.Kind != "constant" && c.Discovery.Kind != "gossip" {
		return fmt.Errorf("discovery.kind must be \"constant\" or \"gossip\"")
	}
	if c.Cluster.QuorumPolicy != "strict" && c.Cluster.QuorumPolicy != "majority" {
		return fmt.Errorf("cluster.quorum_policy must be \"strict\" or \"majority\"")
	}
	return nil
}
