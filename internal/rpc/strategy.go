// Package rpc implements C9 from spec §4.9: thin strategy compositions over
// C6 (cluster.Storage). Grounded on cloud-rpc's RpcStrategyTypeDispatching /
// RpcStrategyFirstAvailable (request-class dispatch and ordered fallback)
// and on the teacher's handler/client split (storage_handler.go as the
// dispatch target, coordinator_client.go as the retrying front end).
package rpc

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hkarim/crdtstore/internal/discovery"
)

// Sender issues one request and returns its response. A request's
// concrete type is how the type-dispatch strategy classifies it; the
// sharding strategy routes by a key extracted from the request.
type Sender interface {
	Send(ctx context.Context, req any) (any, error)
}

// Strategy resolves to a Sender, or reports none is available (the request
// cannot currently be routed), and exposes its discovery service so a
// composing wrapper can watch every substrategy's topology as one union.
type Strategy[P comparable] interface {
	Discovery() discovery.Service[P]
	Sender() (Sender, bool)
}

// Single wraps one Sender bound to one discovery service - the leaf of a
// strategy tree, typically backed by a cluster.Storage instance.
type Single[P comparable] struct {
	disc   discovery.Service[P]
	sender Sender
}

// NewSingle builds a leaf strategy. sender may be nil to represent a
// substrategy that currently has no sender available.
func NewSingle[P comparable](disc discovery.Service[P], sender Sender) *Single[P] {
	return &Single[P]{disc: disc, sender: sender}
}

func (s *Single[P]) Discovery() discovery.Service[P] { return s.disc }

func (s *Single[P]) Sender() (Sender, bool) {
	if s.sender == nil {
		return nil, false
	}
	return s.sender, true
}

// TypeDispatch routes a request to the substrategy registered for its
// concrete type, falling back to a default substrategy when set. Mirrors
// RpcStrategyTypeDispatching.on/onDefault.
type TypeDispatch[P comparable] struct {
	byType map[reflect.Type]Strategy[P]
	def    Strategy[P]
}

// NewTypeDispatch builds an empty type-dispatch strategy.
func NewTypeDispatch[P comparable]() *TypeDispatch[P] {
	return &TypeDispatch[P]{byType: make(map[reflect.Type]Strategy[P])}
}

// On registers strategy for every request whose concrete type matches
// sample's type.
func (t *TypeDispatch[P]) On(sample any, strategy Strategy[P]) *TypeDispatch[P] {
	t.byType[reflect.TypeOf(sample)] = strategy
	return t
}

// OnDefault sets the fallback strategy for unregistered request types.
func (t *TypeDispatch[P]) OnDefault(strategy Strategy[P]) *TypeDispatch[P] {
	t.def = strategy
	return t
}

func (t *TypeDispatch[P]) Discovery() discovery.Service[P] {
	children := make([]discovery.Service[P], 0, len(t.byType)+1)
	for _, s := range t.byType {
		children = append(children, s.Discovery())
	}
	if t.def != nil {
		children = append(children, t.def.Discovery())
	}
	return discovery.NewUnion(children...)
}

func (t *TypeDispatch[P]) Sender() (Sender, bool) {
	senders := make(map[reflect.Type]Sender, len(t.byType))
	for typ, s := range t.byType {
		sender, ok := s.Sender()
		if !ok {
			return nil, false
		}
		senders[typ] = sender
	}

	var defSender Sender
	if t.def != nil {
		sender, ok := t.def.Sender()
		if !ok {
			return nil, false
		}
		defSender = sender
		if len(senders) == 0 {
			return defSender, true
		}
	}

	return &typeDispatchSender{byType: senders, def: defSender}, true
}

type typeDispatchSender struct {
	byType map[reflect.Type]Sender
	def    Sender
}

func (s *typeDispatchSender) Send(ctx context.Context, req any) (any, error) {
	sender, ok := s.byType[reflect.TypeOf(req)]
	if !ok {
		sender = s.def
	}
	if sender == nil {
		return nil, fmt.Errorf("rpc: no sender available for request type %T", req)
	}
	return sender.Send(ctx, req)
}

// FirstAvailable tries each substrategy in order and uses the first one
// that currently has a sender. Mirrors RpcStrategyFirstAvailable.
type FirstAvailable[P comparable] struct {
	list []Strategy[P]
}

// NewFirstAvailable builds a first-available strategy over list, tried in
// order.
func NewFirstAvailable[P comparable](list ...Strategy[P]) *FirstAvailable[P] {
	return &FirstAvailable[P]{list: list}
}

func (f *FirstAvailable[P]) Discovery() discovery.Service[P] {
	children := make([]discovery.Service[P], len(f.list))
	for i, s := range f.list {
		children[i] = s.Discovery()
	}
	return discovery.NewUnion(children...)
}

func (f *FirstAvailable[P]) Sender() (Sender, bool) {
	for _, s := range f.list {
		if sender, ok := s.Sender(); ok {
			return sender, true
		}
	}
	return nil, false
}

// Sharding hashes a request's key to pick exactly one substrategy; it
// fails (at send time) if that substrategy has no sender, rather than
// falling back to another one.
type Sharding[P comparable] struct {
	list  []Strategy[P]
	keyOf func(req any) uint64
}

// NewSharding builds a sharding strategy over list; keyOf extracts the hash
// key from a request.
func NewSharding[P comparable](keyOf func(req any) uint64, list ...Strategy[P]) *Sharding[P] {
	return &Sharding[P]{list: list, keyOf: keyOf}
}

func (s *Sharding[P]) Discovery() discovery.Service[P] {
	children := make([]discovery.Service[P], len(s.list))
	for i, sub := range s.list {
		children[i] = sub.Discovery()
	}
	return discovery.NewUnion(children...)
}

func (s *Sharding[P]) Sender() (Sender, bool) {
	if len(s.list) == 0 {
		return nil, false
	}
	return &shardingSender[P]{list: s.list, keyOf: s.keyOf}, true
}

type shardingSender[P comparable] struct {
	list  []Strategy[P]
	keyOf func(req any) uint64
}

func (s *shardingSender[P]) Send(ctx context.Context, req any) (any, error) {
	idx := int(s.keyOf(req) % uint64(len(s.list)))
	sender, ok := s.list[idx].Sender()
	if !ok {
		return nil, fmt.Errorf("rpc: sharded substrategy %d has no sender available", idx)
	}
	return sender.Send(ctx, req)
}
