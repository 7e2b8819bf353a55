package flearn

import (
	"fmt"
	"sync"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

type idSet map[models.ActorID]struct{}

// Topology stores uplink and downlink edges of every actor, keyed by id.
// Edges are sets so repeated additions collapse.
type Topology struct {
	mu       sync.RWMutex
	uplink   map[models.ActorID]idSet
	downlink map[models.ActorID]idSet
}

func NewTopology() *Topology {
	return &Topology{
		uplink:   make(map[models.ActorID]idSet),
		downlink: make(map[models.ActorID]idSet),
	}
}

func (t *Topology) AddUplink(id models.ActorID, nodes ...models.ActorID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	add(t.uplink, id, nodes)
	return nil
}

func (t *Topology) AddDownlink(id models.ActorID, nodes ...models.ActorID) error {
	if id.Type == models.ActorTypeClient && len(nodes) > 0 {
		return fmt.Errorf("%s: %w", id, ErrLeafDownlink)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	add(t.downlink, id, nodes)
	return nil
}

func (t *Topology) DeleteUplink(id models.ActorID, nodes ...models.ActorID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remove(t.uplink, id, nodes)
}

func (t *Topology) DeleteDownlink(id models.ActorID, nodes ...models.ActorID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remove(t.downlink, id, nodes)
}

// Uplink returns the uplink ids of id in a stable order
func (t *Topology) Uplink(id models.ActorID) []models.ActorID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return members(t.uplink[id])
}

// Downlink returns the downlink ids of id in a stable order
func (t *Topology) Downlink(id models.ActorID) []models.ActorID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return members(t.downlink[id])
}

func (t *Topology) HasUplink(id models.ActorID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.uplink[id]) > 0
}

func (t *Topology) HasDownlink(id models.ActorID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.downlink[id]) > 0
}

// Link connects child under parent in both directions
func (t *Topology) Link(parent, child models.ActorID) error {
	if parent.Type == models.ActorTypeClient {
		return fmt.Errorf("%s: %w", parent, ErrLeafDownlink)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	add(t.downlink, parent, []models.ActorID{child})
	add(t.uplink, child, []models.ActorID{parent})
	return nil
}

// Unlink removes the edge between parent and child in both directions
func (t *Topology) Unlink(parent, child models.ActorID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remove(t.downlink, parent, []models.ActorID{child})
	remove(t.uplink, child, []models.ActorID{parent})
}

// Relink moves child from its current parents to parent
func (t *Topology) Relink(child, parent models.ActorID) error {
	if parent.Type == models.ActorTypeClient {
		return fmt.Errorf("%s: %w", parent, ErrLeafDownlink)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for old := range t.uplink[child] {
		remove(t.downlink, old, []models.ActorID{child})
	}
	delete(t.uplink, child)
	add(t.downlink, parent, []models.ActorID{child})
	add(t.uplink, child, []models.ActorID{parent})
	return nil
}

func add(edges map[models.ActorID]idSet, id models.ActorID, nodes []models.ActorID) {
	if len(nodes) == 0 {
		return
	}
	set, ok := edges[id]
	if !ok {
		set = make(idSet, len(nodes))
		edges[id] = set
	}
	for _, n := range nodes {
		set[n] = struct{}{}
	}
}

func remove(edges map[models.ActorID]idSet, id models.ActorID, nodes []models.ActorID) {
	set, ok := edges[id]
	if !ok {
		return
	}
	for _, n := range nodes {
		delete(set, n)
	}
	if len(set) == 0 {
		delete(edges, id)
	}
}

func members(set idSet) []models.ActorID {
	ids := make([]models.ActorID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	models.SortIDs(ids)
	return ids
}
