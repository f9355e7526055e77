package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/cellular-simulator/model"
)

var (
	// ErrNodeExists indicates a node with the same ID was already added.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound indicates a requested node does not exist.
	ErrNodeNotFound = errors.New("node not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeMoved
	EventVelocityChanged
)

// Event is emitted to subscribers when a node record changes.
type Event struct {
	Type EventType
	Node model.Node
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// KnowledgeBase is the topology store: base stations and terminals keyed
// by id. Nodes are only ever inserted; position and velocity are the only
// mutable fields. Getters return copies.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*model.Node

	subs    []subscriber
	nextSub uint64
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[model.NodeID]*model.Node),
	}
}

// AddNode inserts a node. It returns ErrNodeExists if the ID is taken.
func (kb *KnowledgeBase) AddNode(n model.Node) error {
	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeExists, n.ID)
	}
	stored := n
	kb.nodes[n.ID] = &stored
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventNodeAdded, Node: n})
	return nil
}

// GetNode returns a copy of the node record.
func (kb *KnowledgeBase) GetNode(id model.NodeID) (model.Node, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	n, ok := kb.nodes[id]
	if !ok {
		return model.Node{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return *n, nil
}

// ListNodes returns a snapshot of all nodes sorted by ID.
func (kb *KnowledgeBase) ListNodes() []model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Node, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, *n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// IDsByRole returns the sorted IDs of all nodes with the given role.
func (kb *KnowledgeBase) IDsByRole(role model.Role) []model.NodeID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var ids []model.NodeID
	for id, n := range kb.nodes {
		if n.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListByRole returns copies of all nodes with the given role, sorted by ID.
func (kb *KnowledgeBase) ListByRole(role model.Role) []model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []model.Node
	for _, n := range kb.nodes {
		if n.Role == role {
			res = append(res, *n)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of stored nodes.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// UpdateNodePosition sets a node's position and notifies subscribers.
func (kb *KnowledgeBase) UpdateNodePosition(id model.NodeID, pos model.Vec3) error {
	return kb.update(id, EventNodeMoved, func(n *model.Node) { n.Position = pos })
}

// UpdateNodeVelocity sets a node's velocity and notifies subscribers.
func (kb *KnowledgeBase) UpdateNodeVelocity(id model.NodeID, vel model.Vec3) error {
	return kb.update(id, EventVelocityChanged, func(n *model.Node) { n.Velocity = vel })
}

func (kb *KnowledgeBase) update(id model.NodeID, typ EventType, mutate func(*model.Node)) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	mutate(n)
	event := Event{Type: typ, Node: *n}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.nextSub++
	id := kb.nextSub
	kb.subs = append(kb.subs, subscriber{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, s := range kb.subs {
			if s.id == id {
				kb.subs = append(kb.subs[:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

func (kb *KnowledgeBase) snapshotSubsLocked() []subscriber {
	return append([]subscriber(nil), kb.subs...)
}

func notify(subs []subscriber, event Event) {
	for _, s := range subs {
		s.fn(event)
	}
}
