// Package txbuffer buffers node writes of a transaction on top of a read-only
// view of committed data. Reads through the buffer see the transaction's own
// writes; nothing reaches the base store until the owner commits the buffer's
// changes.
package txbuffer

import (
	"context"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// Buffer implements ports.NodeStore over a base store. Only the read methods
// of the base are called.
type Buffer struct {
	base    ports.NodeStore
	writes  map[string]*entities.Node
	deletes map[string]valueobjects.NodeID
	order   []string
}

// New creates an empty buffer over base
func New(base ports.NodeStore) *Buffer {
	return &Buffer{
		base:    base,
		writes:  make(map[string]*entities.Node),
		deletes: make(map[string]valueobjects.NodeID),
	}
}

// Changes returns the buffered saves in first-write order and the buffered
// deletes. A node saved and later deleted appears only as a delete.
func (b *Buffer) Changes() (saved []*entities.Node, deleted []valueobjects.NodeID) {
	for _, key := range b.order {
		if node, ok := b.writes[key]; ok {
			saved = append(saved, node.Clone())
			continue
		}
		if id, ok := b.deletes[key]; ok {
			deleted = append(deleted, id)
		}
	}
	return saved, deleted
}

// Len returns the number of pending operations
func (b *Buffer) Len() int {
	return len(b.writes) + len(b.deletes)
}

// Reset drops all pending operations
func (b *Buffer) Reset() {
	b.writes = make(map[string]*entities.Node)
	b.deletes = make(map[string]valueobjects.NodeID)
	b.order = nil
}

func (b *Buffer) Get(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	key := id.String()
	if _, gone := b.deletes[key]; gone {
		return nil, pkgerrors.NewNodeNotFoundError(key)
	}
	if node, ok := b.writes[key]; ok {
		return node.Clone(), nil
	}
	return b.base.Get(ctx, id)
}

func (b *Buffer) Exists(ctx context.Context, id valueobjects.NodeID) (bool, error) {
	key := id.String()
	if _, gone := b.deletes[key]; gone {
		return false, nil
	}
	if _, ok := b.writes[key]; ok {
		return true, nil
	}
	return b.base.Exists(ctx, id)
}

func (b *Buffer) ListRoots(ctx context.Context) ([]*entities.Node, error) {
	return b.ListChildren(ctx, valueobjects.NodeID{})
}

func (b *Buffer) ListChildren(ctx context.Context, parentID valueobjects.NodeID) ([]*entities.Node, error) {
	committed, err := b.base.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return b.merge(committed, func(n *entities.Node) bool {
		return n.ParentID().Equals(parentID)
	}), nil
}

func (b *Buffer) MaxPosition(ctx context.Context, parentID valueobjects.NodeID) (int, bool, error) {
	children, err := b.ListChildren(ctx, parentID)
	if err != nil {
		return 0, false, err
	}
	if len(children) == 0 {
		return 0, false, nil
	}
	max := children[0].Position()
	for _, c := range children[1:] {
		if c.Position() > max {
			max = c.Position()
		}
	}
	return max, true, nil
}

func (b *Buffer) Save(ctx context.Context, node *entities.Node) error {
	key := node.ID().String()
	if _, seen := b.writes[key]; !seen {
		if _, deleted := b.deletes[key]; !deleted {
			b.order = append(b.order, key)
		}
	}
	delete(b.deletes, key)
	b.writes[key] = node.Clone()
	return nil
}

func (b *Buffer) Delete(ctx context.Context, id valueobjects.NodeID) error {
	exists, err := b.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return pkgerrors.NewNodeNotFoundError(id.String())
	}

	key := id.String()
	if _, seen := b.writes[key]; !seen {
		b.order = append(b.order, key)
	}
	delete(b.writes, key)
	b.deletes[key] = id
	return nil
}

func (b *Buffer) SearchByContent(ctx context.Context, s string) ([]*entities.Node, error) {
	committed, err := b.base.SearchByContent(ctx, s)
	if err != nil {
		return nil, err
	}
	return b.merge(committed, func(n *entities.Node) bool {
		return n.Content().Contains(s)
	}), nil
}

func (b *Buffer) SearchByTag(ctx context.Context, s string) ([]*entities.Node, error) {
	committed, err := b.base.SearchByTag(ctx, s)
	if err != nil {
		return nil, err
	}
	return b.merge(committed, func(n *entities.Node) bool {
		return n.HasTagContaining(s)
	}), nil
}

func (b *Buffer) ListByCompleted(ctx context.Context, completed bool) ([]*entities.Node, error) {
	committed, err := b.base.ListByCompleted(ctx, completed)
	if err != nil {
		return nil, err
	}
	return b.merge(committed, func(n *entities.Node) bool {
		return n.IsCompleted() == completed
	}), nil
}

func (b *Buffer) ListStarred(ctx context.Context) ([]*entities.Node, error) {
	committed, err := b.base.ListStarred(ctx)
	if err != nil {
		return nil, err
	}
	return b.merge(committed, func(n *entities.Node) bool {
		return n.IsStarred()
	}), nil
}

// merge overlays buffered state on a committed result set. match decides
// whether a buffered version still belongs to the result.
func (b *Buffer) merge(committed []*entities.Node, match func(*entities.Node) bool) []*entities.Node {
	out := make([]*entities.Node, 0, len(committed))
	seen := make(map[string]struct{}, len(committed))

	for _, n := range committed {
		key := n.ID().String()
		seen[key] = struct{}{}
		if _, gone := b.deletes[key]; gone {
			continue
		}
		if w, ok := b.writes[key]; ok {
			if match(w) {
				out = append(out, w.Clone())
			}
			continue
		}
		out = append(out, n)
	}

	for _, key := range b.order {
		if _, ok := seen[key]; ok {
			continue
		}
		if w, ok := b.writes[key]; ok && match(w) {
			out = append(out, w.Clone())
		}
	}

	entities.SortByPosition(out)
	return out
}

var _ ports.NodeStore = (*Buffer)(nil)
