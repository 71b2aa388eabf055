package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/memberlist"
	"github.com/hkarim/crdtstore/internal/model"
	"go.uber.org/zap"
)

// GossipConfig configures the memberlist-backed discovery service.
// Grounded on storage-node's GossipConfig (gossip_service.go), generalized
// from a health-propagation channel to a partition-scheme source.
type GossipConfig struct {
	NodeID        string
	BindAddr      string
	BindPort      int
	SeedNodes     []string
	AdvertisePort int
}

// Gossip discovers the partition scheme from cluster membership: every
// live member becomes a partition endpoint keyed by its node name, current
// equals the live member set, target is always nil (gossip membership has
// no separate rebalancing target, and nothing in this type sets one).
// Grounded on GossipService's NodeMeta/NotifyJoin/NotifyLeave
// delegate pattern.
type Gossip struct {
	ml     *memberlist.Memberlist
	logger *zap.Logger

	mu       sync.Mutex
	scheme   model.Scheme[string]
	revision int64
	changed  chan struct{}
}

// NewGossip joins the memberlist cluster described by cfg and starts
// tracking membership as a partition scheme.
func NewGossip(cfg GossipConfig, logger *zap.Logger) (*Gossip, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gossip{
		logger:  logger,
		changed: make(chan struct{}),
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertisePort != 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	mlConfig.Delegate = g
	mlConfig.Events = &gossipEvents{gossip: g}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	g.ml = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("failed to join some seed nodes", zap.Error(err))
		}
	}

	g.refreshLocked()
	return g, nil
}

// Watch blocks until the membership-derived scheme differs from prev.
func (g *Gossip) Watch(ctx context.Context, prev model.Scheme[string]) (model.Scheme[string], int64, error) {
	for {
		g.mu.Lock()
		scheme, revision, changed := g.scheme, g.revision, g.changed
		g.mu.Unlock()

		if !prev.Equal(scheme) {
			return scheme, revision, nil
		}

		select {
		case <-changed:
			continue
		case <-ctx.Done():
			return model.Scheme[string]{}, 0, ctx.Err()
		}
	}
}

// Shutdown leaves the memberlist cluster.
func (g *Gossip) Shutdown() error {
	return g.ml.Shutdown()
}

func (g *Gossip) refreshLocked() {
	current := make(map[string]model.Endpoint)
	for _, m := range g.ml.Members() {
		current[m.Name] = model.Endpoint{ID: m.Name, Addr: fmt.Sprintf("%s:%d", m.Addr, m.Port)}
	}

	g.mu.Lock()
	next := model.Scheme[string]{Current: current, Target: g.scheme.Target}
	if next.Equal(g.scheme) {
		g.mu.Unlock()
		return
	}
	g.scheme = next
	g.revision++
	closed := g.changed
	g.changed = make(chan struct{})
	g.mu.Unlock()

	close(closed)
}

// refresh is called by membership events outside the initial construction.
func (g *Gossip) refresh() {
	g.refreshLocked()
}

// NodeMeta implements memberlist.Delegate. Scheme data itself travels as
// membership, not as per-node metadata, so this carries nothing.
func (g *Gossip) NodeMeta(limit int) []byte { return nil }

// NotifyMsg implements memberlist.Delegate; unused, no application messages
// are piggybacked on gossip in this core.
func (g *Gossip) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate.
func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate.
func (g *Gossip) LocalState(join bool) []byte { return nil }

// MergeRemoteState implements memberlist.Delegate.
func (g *Gossip) MergeRemoteState(buf []byte, join bool) {}

type gossipEvents struct {
	gossip *Gossip
}

func (e *gossipEvents) NotifyJoin(node *memberlist.Node) {
	e.gossip.logger.Info("partition joined", zap.String("node_id", node.Name), zap.String("addr", node.Addr.String()))
	e.gossip.refresh()
}

func (e *gossipEvents) NotifyLeave(node *memberlist.Node) {
	e.gossip.logger.Info("partition left", zap.String("node_id", node.Name))
	e.gossip.refresh()
}

func (e *gossipEvents) NotifyUpdate(node *memberlist.Node) {
	e.gossip.logger.Debug("partition updated", zap.String("node_id", node.Name))
	e.gossip.refresh()
}

var _ Service[string] = (*Gossip)(nil)
