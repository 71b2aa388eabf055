// Command node runs a single replica of the distributed keyed store:
// local storage fed by a write-ahead log, quorum replication across the
// partitions the cluster's discovery backend resolves, background
// anti-entropy, and the framed TCP transport peers use to reach this
// node's partition. Grounded on storage-node's cmd/storage/main.go
// wiring order (logger, config, directories, services, recovery,
// gossip, handler, server, signal-driven graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hkarim/crdtstore/internal/cluster"
	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/hkarim/crdtstore/internal/discovery"
	"github.com/hkarim/crdtstore/internal/health"
	"github.com/hkarim/crdtstore/internal/metrics"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/repair"
	"github.com/hkarim/crdtstore/internal/rpc/transport"
	"github.com/hkarim/crdtstore/internal/sharder"
	"github.com/hkarim/crdtstore/internal/storage/local"
	"github.com/hkarim/crdtstore/internal/wal"
	"go.uber.org/zap"
)

// Exit codes, documented for operators: 0 is a clean stop, 2 is an
// unrecoverable local storage failure, 3 is a fatal configuration error.
const (
	exitOK             = 0
	exitStorageFailure = 2
	exitConfigFailure  = 3
)

// key and state are the concrete domain types this binary runs: string
// keys ordered by byte comparison, and a last-write-wins byte-value
// register as the mergeable state every partition carries.
type key = string
type state = crdt.Timestamped[[]byte]

func main() {
	configPath := os.Getenv("CRDTSTORE_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(exitConfigFailure)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(exitConfigFailure)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll(cfg.WAL.Dir, 0o755); err != nil {
		logger.Error("failed to create wal directory", zap.Error(err))
		os.Exit(exitStorageFailure)
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		logger.Error("failed to create storage directory", zap.Error(err))
		os.Exit(exitStorageFailure)
	}

	m := metrics.New(cfg.Server.NodeID)

	store, err := local.Open[key, state](
		cfg.Storage.Dir, cfg.Storage, codec.JSONCodec{}, crdt.TimestampedFunc[[]byte](),
		local.Options[key, state]{Less: lessString, Tombstone: crdt.Tombstone[[]byte]},
		logger,
	)
	if err != nil {
		logger.Error("failed to open local storage", zap.Error(err))
		os.Exit(exitStorageFailure)
	}
	store = store.WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())

	log, err := wal.Open[key, state](cfg.WAL.Dir, cfg.Server.NodeID, cfg.WAL, codec.JSONCodec{}, store, logger)
	if err != nil {
		logger.Error("failed to open write-ahead log", zap.Error(err))
		cancel()
		os.Exit(exitStorageFailure)
	}
	log = log.WithMetrics(m)
	if err := log.Start(ctx); err != nil {
		logger.Error("failed to recover write-ahead log", zap.Error(err))
		cancel()
		os.Exit(exitStorageFailure)
	}

	selfPartition := local.NewPartition[key, state](store)

	sh := sharder.New[key, string](cfg.Cluster.Replicas, stringBytes, stringBytes)
	storage := cluster.New[key, state, string](cfg.Cluster, crdt.TimestampedFunc[[]byte](), sh, lessString, lessString, logger).WithMetrics(m)

	discoverySvc, discoveryShutdown, err := buildDiscovery(cfg, logger)
	if err != nil {
		logger.Error("failed to start discovery backend", zap.Error(err))
		cancel()
		os.Exit(exitConfigFailure)
	}

	scheme := &schemeCache{}
	go watchScheme(ctx, discoverySvc, cfg.Server.NodeID, selfPartition, storage, m, logger, scheme)

	repairLoop := repair.New[key, state, string](
		repair.NewLocalPeer[key, state](store),
		peersFromScheme(cfg.Server.NodeID, scheme, m),
		targetFromScheme(cfg.Server.NodeID, scheme, m),
		cfg.Repair, logger,
	).WithMetrics(m)
	go repairLoop.Run(ctx)
	go storage.RunRecovery(ctx)
	go store.RunExtraction(ctx)

	transportServer := transport.NewServer[key, state](selfPartition, codec.JSONCodec{}, logger).WithMetrics(m)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := transportServer.Listen(addr); err != nil {
		logger.Error("failed to bind transport listener", zap.Error(err))
		cancel()
		os.Exit(exitConfigFailure)
	}
	go func() {
		if err := transportServer.Serve(ctx, ""); err != nil && ctx.Err() == nil {
			logger.Error("transport server exited", zap.Error(err))
		}
	}()
	logger.Info("transport listening", zap.String("addr", transportServer.Addr().String()))

	var metricsServer *metrics.Server
	checker := health.New(health.Config{
		NodeID:  cfg.Server.NodeID,
		WALDir:  cfg.WAL.Dir,
		DataDir: cfg.Storage.Dir,
		Quorum:  storage.QuorumStatus,
	}, logger)
	go checker.Run(ctx, 10*time.Second)

	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, cfg.Metrics.Path, logger)
		checker.RegisterHandlers(metricsServer.Mux())
		metricsServer.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	checker.SetReadiness(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := log.Stop(shutdownCtx); err != nil {
		logger.Warn("wal stop failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics server stop failed", zap.Error(err))
		}
	}
	shutdownCancel()
	cancel()
	discoveryShutdown()

	os.Exit(exitOK)
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// buildDiscovery selects a backend per cfg.Discovery.Kind and returns a
// shutdown func that is always safe to call, even for backends with no
// teardown of their own.
func buildDiscovery(cfg *config.Config, logger *zap.Logger) (discovery.Service[string], func(), error) {
	switch cfg.Discovery.Kind {
	case "gossip":
		g, err := discovery.NewGossip(discovery.GossipConfig{
			NodeID:        cfg.Server.NodeID,
			BindPort:      cfg.Discovery.BindPort,
			SeedNodes:     cfg.Discovery.SeedNodes,
			AdvertisePort: cfg.Discovery.BindPort,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("start gossip discovery: %w", err)
		}
		return g, func() { _ = g.Shutdown() }, nil
	default:
		scheme, err := discovery.ParseStaticScheme(cfg.Discovery.SeedNodes)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := scheme.Current[cfg.Server.NodeID]; !ok {
			scheme.Current[cfg.Server.NodeID] = model.Endpoint{
				ID:   cfg.Server.NodeID,
				Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			}
		}
		return discovery.NewConstant(scheme), func() {}, nil
	}
}

// schemeCache holds the most recently resolved partition scheme behind a
// mutex, shared by the discovery watch loop (the writer) and the repair
// loop's peer/target lookups (the readers) - a channel would only let one
// reader observe a given update.
type schemeCache struct {
	mu     sync.Mutex
	scheme model.Scheme[string]
}

func (c *schemeCache) set(s model.Scheme[string]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheme = s
}

func (c *schemeCache) get() model.Scheme[string] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheme
}

// watchScheme keeps cluster.Storage's partition set in sync with
// discovery's resolved scheme, and records every resolved scheme into
// scheme so the repair loop can derive peers/targets from the same view.
// Remote endpoints get a fresh transport.Client; this node's own endpoint
// always maps to the already-open local partition.
func watchScheme(
	ctx context.Context,
	svc discovery.Service[string],
	selfID string,
	self cluster.Partition[key, state],
	storage *cluster.Storage[key, state, string],
	m *metrics.Metrics,
	logger *zap.Logger,
	scheme *schemeCache,
) {
	var prev model.Scheme[string]
	for {
		next, revision, err := svc.Watch(ctx, prev)
		if err != nil {
			return
		}
		logger.Info("partition scheme resolved", zap.Int64("revision", revision))
		m.UpdateDiscoveryRevision(revision)

		partitions := make(map[string]cluster.Partition[key, state], len(next.Current))
		for id, ep := range next.Current {
			if id == selfID {
				partitions[id] = self
				continue
			}
			partitions[id] = transport.NewClient[key, state](ep.Addr, codec.JSONCodec{}, 5*time.Second).WithMetrics(m)
		}
		storage.SetPartitions(partitions)
		scheme.set(next)

		prev = next
	}
}

// peersFromScheme and targetFromScheme give the repair loop a live view
// of the current scheme's other replicas (peers) and, while rebalancing,
// the target replicas, without repair importing discovery directly.
func peersFromScheme(selfID string, scheme *schemeCache, m *metrics.Metrics) func() map[string]repair.Peer[key, state] {
	return func() map[string]repair.Peer[key, state] {
		return endpointsAsPeers(scheme.get(), selfID, m)
	}
}

func targetFromScheme(selfID string, scheme *schemeCache, m *metrics.Metrics) func() map[string]repair.Peer[key, state] {
	return func() map[string]repair.Peer[key, state] {
		s := scheme.get()
		if !s.Rebalancing() {
			return nil
		}
		return endpointsAsPeersFromMap(s.Target, selfID, m)
	}
}

func endpointsAsPeers(scheme model.Scheme[string], selfID string, m *metrics.Metrics) map[string]repair.Peer[key, state] {
	return endpointsAsPeersFromMap(scheme.Current, selfID, m)
}

func endpointsAsPeersFromMap(endpoints map[string]model.Endpoint, selfID string, m *metrics.Metrics) map[string]repair.Peer[key, state] {
	out := make(map[string]repair.Peer[key, state], len(endpoints))
	for id, ep := range endpoints {
		if id == selfID {
			continue
		}
		out[id] = transport.NewClient[key, state](ep.Addr, codec.JSONCodec{}, 5*time.Second).WithMetrics(m)
	}
	return out
}

func lessString(a, b string) bool { return a < b }

func stringBytes(s string) []byte { return []byte(s) }
