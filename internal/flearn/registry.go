package flearn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
)

// Registry owns every actor of a simulation and the topology between them.
// Actors refer to each other by id only.
type Registry struct {
	topology *Topology

	mu      sync.RWMutex
	server  *Server
	groups  map[int]*Group
	clients map[int]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		topology: NewTopology(),
		groups:   make(map[int]*Group),
		clients:  make(map[int]*Client),
	}
}

func (r *Registry) Topology() *Topology {
	return r.topology
}

func (r *Registry) NewServer(model ports.Model) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return nil, fmt.Errorf("%s: %w", models.ServerID(), ErrDuplicateActor)
	}
	r.server = newServer(r, model)
	return r.server, nil
}

func (r *Registry) NewGroup(index int, model ports.Model) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[index]; ok {
		return nil, fmt.Errorf("%s: %w", models.GroupID(index), ErrDuplicateActor)
	}
	g := newGroup(index, r, model)
	r.groups[index] = g
	return g, nil
}

func (r *Registry) NewClient(index int, train, test models.Dataset, model ports.Model) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[index]; ok {
		return nil, fmt.Errorf("%s: %w", models.ClientID(index), ErrDuplicateActor)
	}
	c := newClient(index, r.topology, train, test, model)
	r.clients[index] = c
	return c, nil
}

func (r *Registry) Server() *Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.server
}

func (r *Registry) Group(id models.ActorID) (*Group, error) {
	if id.Type != models.ActorTypeGroup {
		return nil, fmt.Errorf("%s: %w", id, ErrWrongActorType)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id.Index]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownActor)
	}
	return g, nil
}

func (r *Registry) Client(id models.ActorID) (*Client, error) {
	if id.Type != models.ActorTypeClient {
		return nil, fmt.Errorf("%s: %w", id, ErrWrongActorType)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id.Index]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownActor)
	}
	return c, nil
}

// Node resolves any actor id
func (r *Registry) Node(id models.ActorID) (Linked, error) {
	switch id.Type {
	case models.ActorTypeServer:
		if s := r.Server(); s != nil {
			return s, nil
		}
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownActor)
	case models.ActorTypeGroup:
		return r.Group(id)
	case models.ActorTypeClient:
		return r.Client(id)
	default:
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownActor)
	}
}

// Groups returns all groups ordered by index
func (r *Registry) Groups() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].id.Index < groups[j].id.Index })
	return groups
}

// Clients returns all clients ordered by index
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id.Index < clients[j].id.Index })
	return clients
}
