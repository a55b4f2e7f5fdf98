package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/infrastructure/persistence/txbuffer"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// NodeStore provides an in-memory implementation of ports.NodeStore and
// ports.UnitOfWork. Nodes are stored as clones, so callers never share
// state with the store.
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[string]*entities.Node
}

// NewNodeStore creates a new in-memory node store
func NewNodeStore() *NodeStore {
	return &NodeStore{
		nodes: make(map[string]*entities.Node),
	}
}

// Get retrieves a node by ID
func (s *NodeStore) Get(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, exists := s.nodes[id.String()]
	if !exists {
		return nil, pkgerrors.NewNodeNotFoundError(id.String())
	}
	return node.Clone(), nil
}

// Exists checks whether a node is stored
func (s *NodeStore) Exists(ctx context.Context, id valueobjects.NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.nodes[id.String()]
	return exists, nil
}

// ListRoots returns root nodes ordered by position
func (s *NodeStore) ListRoots(ctx context.Context) ([]*entities.Node, error) {
	return s.ListChildren(ctx, valueobjects.NodeID{})
}

// ListChildren returns the children of parentID ordered by position
func (s *NodeStore) ListChildren(ctx context.Context, parentID valueobjects.NodeID) ([]*entities.Node, error) {
	return s.filter(func(n *entities.Node) bool {
		return n.ParentID().Equals(parentID)
	}), nil
}

// MaxPosition returns the highest position among the children of parentID
func (s *NodeStore) MaxPosition(ctx context.Context, parentID valueobjects.NodeID) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max, found := 0, false
	for _, n := range s.nodes {
		if !n.ParentID().Equals(parentID) {
			continue
		}
		if !found || n.Position() > max {
			max, found = n.Position(), true
		}
	}
	return max, found, nil
}

// Save inserts or replaces a node
func (s *NodeStore) Save(ctx context.Context, node *entities.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.ID().String()] = node.Clone()
	return nil
}

// Delete removes a node
func (s *NodeStore) Delete(ctx context.Context, id valueobjects.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id.String()]; !exists {
		return pkgerrors.NewNodeNotFoundError(id.String())
	}
	delete(s.nodes, id.String())
	return nil
}

// SearchByContent finds nodes whose content contains q, ignoring case
func (s *NodeStore) SearchByContent(ctx context.Context, q string) ([]*entities.Node, error) {
	return s.filter(func(n *entities.Node) bool {
		return n.Content().Contains(q)
	}), nil
}

// SearchByTag finds nodes with a tag containing q, ignoring case
func (s *NodeStore) SearchByTag(ctx context.Context, q string) ([]*entities.Node, error) {
	return s.filter(func(n *entities.Node) bool {
		return n.HasTagContaining(q)
	}), nil
}

// ListByCompleted returns nodes by completion status
func (s *NodeStore) ListByCompleted(ctx context.Context, completed bool) ([]*entities.Node, error) {
	return s.filter(func(n *entities.Node) bool {
		return n.IsCompleted() == completed
	}), nil
}

// ListStarred returns starred nodes
func (s *NodeStore) ListStarred(ctx context.Context) ([]*entities.Node, error) {
	return s.filter(func(n *entities.Node) bool {
		return n.IsStarred()
	}), nil
}

// Snapshots returns every stored node in id order.
func (s *NodeStore) Snapshots() []entities.NodeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entities.NodeSnapshot, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Len returns the number of stored nodes
func (s *NodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *NodeStore) filter(match func(*entities.Node) bool) []*entities.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entities.Node, 0)
	for _, n := range s.nodes {
		if match(n) {
			out = append(out, n.Clone())
		}
	}
	entities.SortByPosition(out)
	return out
}

// Begin starts a transaction. Writes are buffered and applied atomically on
// Commit.
func (s *NodeStore) Begin(ctx context.Context) (ports.Transaction, error) {
	return &transaction{store: s, buffer: txbuffer.New(s)}, nil
}

type transaction struct {
	store  *NodeStore
	buffer *txbuffer.Buffer
	done   bool
}

func (t *transaction) Nodes() ports.NodeStore {
	return t.buffer
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return pkgerrors.NewInternalError("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewStoreFailure("commit", err)
	}

	saved, deleted := t.buffer.Changes()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, id := range deleted {
		delete(t.store.nodes, id.String())
	}
	for _, n := range saved {
		t.store.nodes[n.ID().String()] = n
	}
	t.done = true
	return nil
}

func (t *transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.buffer.Reset()
	t.done = true
	return nil
}

var (
	_ ports.NodeStore  = (*NodeStore)(nil)
	_ ports.UnitOfWork = (*NodeStore)(nil)
)
