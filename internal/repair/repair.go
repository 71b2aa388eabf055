// Package repair implements C8 from spec §4.8: background anti-entropy.
// Periodically a node picks a peer, downloads its state since the last
// repair cycle, and merges it into local storage; because merge is
// commutative, associative and idempotent, repair is safe regardless of
// cycle order or overlap. Grounded on the three-phase shape of
// storage-node's StreamingManager (bulk-copy -> live-streaming ->
// sync-verification), generalized from raw key copying to
// download/upload/merge.
package repair

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/errors"
	"github.com/hkarim/crdtstore/internal/metrics"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/storage/local"
	"github.com/hkarim/crdtstore/internal/util/workerpool"
	"go.uber.org/zap"
)

// poolStopTimeout bounds how long Run waits for the push pool to drain
// in-flight rebalance uploads on shutdown.
const poolStopTimeout = 5 * time.Second

// Peer is anything a repair cycle can pull from and push to: a remote
// partition client, or this node's own local storage wrapped by LocalPeer.
type Peer[K any, S any] interface {
	Upload(ctx context.Context, records []model.Record[K, S]) error
	Download(ctx context.Context, cutoff int64) ([]model.Record[K, S], error)
}

// LocalPeer adapts a local keyed store's streaming-cursor download (C3's
// contract) into the batched Peer shape repair operates on.
type LocalPeer[K any, S any] struct {
	store *local.Store[K, S]
}

// NewLocalPeer wraps store as a repair Peer.
func NewLocalPeer[K any, S any](store *local.Store[K, S]) *LocalPeer[K, S] {
	return &LocalPeer[K, S]{store: store}
}

func (p *LocalPeer[K, S]) Upload(ctx context.Context, records []model.Record[K, S]) error {
	return p.store.Upload(ctx, records)
}

func (p *LocalPeer[K, S]) Download(ctx context.Context, cutoff int64) ([]model.Record[K, S], error) {
	cursor := p.store.Download(cutoff)
	var out []model.Record[K, S]
	for {
		rec, ok := cursor.Next()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// Loop runs anti-entropy for one partition replica held by this node.
// peersFn returns the other current replicas of the same partition;
// targetFn returns the rebalancing target replicas (empty when current ==
// target, i.e. the cluster is not mid-rebalance).
type Loop[K any, S any, P comparable] struct {
	local    Peer[K, S]
	peersFn  func() map[P]Peer[K, S]
	targetFn func() map[P]Peer[K, S]
	cfg      config.RepairConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	pool     *workerpool.Pool

	mu         sync.Mutex
	lastRepair map[P]int64
	migrated   map[P]map[string]struct{}
}

// New builds a repair loop for one local partition replica. Rebalancing
// pushes fan out over cfg.Workers goroutines drawn from a dedicated pool,
// per spec §5's "blocking file I/O is delegated to a dedicated executor
// pool" generalized to this loop's network fan-out over partitions.
func New[K any, S any, P comparable](localPeer Peer[K, S], peersFn, targetFn func() map[P]Peer[K, S], cfg config.RepairConfig, logger *zap.Logger) *Loop[K, S, P] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if targetFn == nil {
		targetFn = func() map[P]Peer[K, S] { return nil }
	}
	return &Loop[K, S, P]{
		local:      localPeer,
		peersFn:    peersFn,
		targetFn:   targetFn,
		cfg:        cfg,
		logger:     logger,
		pool: workerpool.New(workerpool.Config{
			Name:       "repair-push",
			MaxWorkers: cfg.Workers,
			Logger:     logger,
		}),
		lastRepair: make(map[P]int64),
		migrated:   make(map[P]map[string]struct{}),
	}
}

// WithMetrics attaches m so cycle counts, pulled/pushed record counts and
// durations are recorded against it, and returns the loop for chaining at
// construction time.
func (l *Loop[K, S, P]) WithMetrics(m *metrics.Metrics) *Loop[K, S, P] {
	l.metrics = m
	return l
}

// Run repeats RunOnce on cfg.Interval until ctx is cancelled. A no-op when
// the configuration disables repair.
func (l *Loop[K, S, P]) Run(ctx context.Context) {
	defer l.pool.Stop(poolStopTimeout)

	if !l.cfg.Enabled || l.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.logger.Warn("repair cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single anti-entropy cycle: pick a peer, pull its state
// since the last cycle, merge into local storage, then (if rebalancing)
// push the full local snapshot into every target replica.
func (l *Loop[K, S, P]) RunOnce(ctx context.Context) error {
	start := time.Now()
	pulled, err := l.pullFromPeer(ctx)
	if err != nil {
		return err
	}
	err = l.pushToTargets(ctx)

	if l.metrics != nil {
		l.metrics.RecordRepairCycle(time.Since(start).Seconds(), pulled)
	}
	return err
}

func (l *Loop[K, S, P]) pullFromPeer(ctx context.Context) (int, error) {
	peers := l.peersFn()
	if len(peers) == 0 {
		return 0, nil
	}

	id, peer := l.pickPeer(peers)

	l.mu.Lock()
	cutoff := l.lastRepair[id]
	l.mu.Unlock()

	records, err := peer.Download(ctx, cutoff)
	if err != nil {
		return 0, errors.Transient(fmt.Sprintf("repair download from %v", id), err)
	}

	if len(records) > 0 {
		if err := l.local.Upload(ctx, records); err != nil {
			return 0, errors.Transient(fmt.Sprintf("repair upload into local store from %v", id), err)
		}
	}

	l.mu.Lock()
	l.lastRepair[id] = nowNanos()
	l.mu.Unlock()
	return len(records), nil
}

// pushToTargets implements the rebalancing substate (spec §4.8): while
// current != target, sync this replica's full state into every target
// replica and track which keys each target has observed, so the caller can
// retire this replica once FullyMigrated reports true for all of them.
func (l *Loop[K, S, P]) pushToTargets(ctx context.Context) error {
	targets := l.targetFn()
	if len(targets) == 0 {
		return nil
	}

	snapshot, err := l.local.Download(ctx, 0)
	if err != nil {
		return errors.Transient("repair snapshot of local store", err)
	}
	if len(snapshot) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for id, peer := range targets {
		id, peer := id, peer
		wg.Add(1)
		task := workerpool.Task{
			ID:      fmt.Sprint(id),
			Context: ctx,
			Fn: func(taskCtx context.Context) error {
				defer wg.Done()
				if err := peer.Upload(taskCtx, snapshot); err != nil {
					l.logger.Warn("rebalance push failed", zap.Any("target", id), zap.Error(err))
					mu.Lock()
					if firstErr == nil {
						firstErr = errors.Transient(fmt.Sprintf("rebalance push to %v", id), err)
					}
					mu.Unlock()
					return err
				}
				l.markMigrated(id, snapshot)
				if l.metrics != nil {
					l.metrics.RecordRebalancePush(len(snapshot))
				}
				return nil
			},
		}
		if err := l.pool.SubmitWithContext(ctx, task); err != nil {
			wg.Done()
			l.logger.Warn("rebalance push rejected by pool", zap.Any("target", id), zap.Error(err))
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.Transient(fmt.Sprintf("rebalance push to %v", id), err)
			}
			mu.Unlock()
		}
	}

	wg.Wait()
	return firstErr
}

func (l *Loop[K, S, P]) markMigrated(target P, records []model.Record[K, S]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.migrated[target]
	if !ok {
		set = make(map[string]struct{})
		l.migrated[target] = set
	}
	for _, r := range records {
		set[fmt.Sprint(r.Key)] = struct{}{}
	}
}

// FullyMigrated reports whether every one of totalKeys distinct keys has
// been observed delivered into target at least once, the condition §4.8
// requires before current\target entries may be retired.
func (l *Loop[K, S, P]) FullyMigrated(target P, totalKeys int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.migrated[target]) >= totalKeys
}

func (l *Loop[K, S, P]) pickPeer(peers map[P]Peer[K, S]) (P, Peer[K, S]) {
	ids := make([]P, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	id := ids[rand.Intn(len(ids))]
	return id, peers[id]
}

func nowNanos() int64 {
	return time.Now().UnixNano()
}
