package ports

import (
	"context"
	"sort"

	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/domain/events"
)

// NodeStore defines the interface for node persistence
// This is a port in hexagonal architecture - the tree engine doesn't know about the implementation.
// Ordered lists ascend by position, ties broken by id.
type NodeStore interface {
	// Get retrieves a node by its ID. Missing nodes yield a NODE_NOT_FOUND error.
	Get(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error)

	// ListRoots returns the nodes without a parent
	ListRoots(ctx context.Context) ([]*entities.Node, error)

	// ListChildren returns the children of parentID. A zero parentID lists the roots.
	ListChildren(ctx context.Context, parentID valueobjects.NodeID) ([]*entities.Node, error)

	// MaxPosition returns the highest position in a sibling group, false when the group is empty
	MaxPosition(ctx context.Context, parentID valueobjects.NodeID) (int, bool, error)

	// Save persists a node (create or update)
	Save(ctx context.Context, node *entities.Node) error

	// Delete removes a node. Missing nodes yield a NODE_NOT_FOUND error.
	Delete(ctx context.Context, id valueobjects.NodeID) error

	// Exists checks whether a node with the id is stored
	Exists(ctx context.Context, id valueobjects.NodeID) (bool, error)

	// SearchByContent finds nodes whose content contains s, case-insensitively
	SearchByContent(ctx context.Context, s string) ([]*entities.Node, error)

	// SearchByTag finds nodes with any tag containing s, case-insensitively
	SearchByTag(ctx context.Context, s string) ([]*entities.Node, error)

	// ListByCompleted returns nodes with the given completion status
	ListByCompleted(ctx context.Context, completed bool) ([]*entities.Node, error)

	// ListStarred returns starred nodes
	ListStarred(ctx context.Context) ([]*entities.Node, error)
}

// UnitOfWork opens transaction boundaries for multi-step tree operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction is an open unit of work. Writes made through Nodes() become
// visible to other readers only after Commit.
type Transaction interface {
	// Nodes returns the node store bound to this transaction
	Nodes() NodeStore

	// Commit commits the transaction
	Commit(ctx context.Context) error

	// Rollback discards the transaction. Calling it after Commit is a no-op.
	Rollback() error
}

// LockRequest names the sibling groups an operation reads and writes.
type LockRequest struct {
	// Groups are parent group keys; see valueobjects.NodeID.GroupKey
	Groups []string

	// Reparent serializes operations that change a node's parent
	Reparent bool
}

// ReparentLockKey is the lock key shared by all cross-group moves.
const ReparentLockKey = "reparent"

// Keys returns the acquisition order for the request: the reparent key first
// when requested, then the distinct group keys in ascending order. Every
// locker acquires in this order so overlapping requests cannot deadlock.
func (r LockRequest) Keys() []string {
	groups := make([]string, 0, len(r.Groups))
	seen := make(map[string]struct{}, len(r.Groups))
	for _, g := range r.Groups {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	sort.Strings(groups)

	if r.Reparent {
		return append([]string{ReparentLockKey}, groups...)
	}
	return groups
}

// GroupLocker provides mutual exclusion per sibling group
type GroupLocker interface {
	// Acquire blocks until every requested group is held or ctx is done.
	// The returned release func must be called exactly once.
	Acquire(ctx context.Context, req LockRequest) (release func(), err error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}
